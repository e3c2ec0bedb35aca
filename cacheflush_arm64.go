//go:build arm64

package livepatch

import "unsafe"

/*
static void cacheflush(char *start, char *end) {
	__builtin___clear_cache(start, end);
}

static void dmb_ish(void) {
	__asm__ volatile("dmb ish" : : : "memory");
}

static void dsb_ish(void) {
	__asm__ volatile("dsb ish" : : : "memory");
}

static void isb(void) {
	__asm__ volatile("isb" : : : "memory");
}
*/
import "C"

func cacheflush(buf []byte) {
	start := unsafe.Pointer(unsafe.SliceData(buf))
	end := unsafe.Pointer(uintptr(len(buf)) + uintptr(start))
	C.cacheflush((*C.char)(start), (*C.char)(end))
}

func memoryBarrier()      { C.dmb_ish() }
func syncBarrier()        { C.dsb_ish() }
func instructionBarrier() { C.isb() }
