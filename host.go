package livepatch

import (
	"os"
	"sync/atomic"
	"unsafe"
)

// Host patches the code of the running process. It implements both
// PageTable and CPU.
type Host struct{}

func (Host) PageSize() uintptr {
	return uintptr(os.Getpagesize())
}

func (Host) Barrier(b Barrier) {
	switch b {
	case MemoryBarrier:
		memoryBarrier()
	case SyncBarrier:
		syncBarrier()
	case InstructionBarrier:
		instructionBarrier()
	default:
		panic("livepatch: unknown barrier " + b.String())
	}
}

func (Host) Store32(addr uintptr, word uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(addr)), word)
}

func (Host) InvalidateICache(addr, size uintptr) {
	cacheflush(unsafe.Slice((*byte)(unsafe.Pointer(addr)), size))
}

// InvalidateTLBPage does nothing. The kernel shoots down user TLB entries
// itself when protection changes.
func (Host) InvalidateTLBPage(uintptr) {}
