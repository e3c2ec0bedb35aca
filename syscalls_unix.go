//go:build unix

package livepatch

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	mprotectExec = unix.PROT_EXEC
	mprotectRX   = unix.PROT_READ | unix.PROT_EXEC
	mprotectRWX  = unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
)

func (Host) Writable(bits uint64) uint64 {
	return bits | unix.PROT_WRITE
}

func (h Host) Modify(e Entry, bits uint64) error {
	return mprotect(e.Page, e.Size, int(bits))
}

func mprotect(addr, size uintptr, flags int) error {
	pageSize := uintptr(unix.Getpagesize())

	// Round address down to page boundary.
	// Example: addr=4196 with pageSize=4096 becomes 4096.
	pageStart := addr - (addr % pageSize)

	// Calculate how many bytes from pageStart we need to cover.
	// This includes the offset from pageStart to addr, plus the requested length.
	totalBytes := (addr - pageStart) + size

	// Round up to cover complete pages.
	regionSize := (totalBytes + pageSize - 1) / pageSize * pageSize

	// Convert the memory region to a byte slice for mprotect.
	region := unsafe.Slice((*byte)(unsafe.Pointer(pageStart)), regionSize)

	return unix.Mprotect(region, flags)
}

// protBits converts read/write/execute permissions to PROT_* bits.
func protBits(read, write, exec bool) uint64 {
	var bits uint64
	if read {
		bits |= unix.PROT_READ
	}
	if write {
		bits |= unix.PROT_WRITE
	}
	if exec {
		bits |= unix.PROT_EXEC
	}
	return bits
}
