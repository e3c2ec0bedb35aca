//go:build windows

package livepatch

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	mprotectExec = windows.PAGE_EXECUTE
	mprotectRX   = windows.PAGE_EXECUTE_READ
	mprotectRWX  = windows.PAGE_EXECUTE_READWRITE
)

const execMask = windows.PAGE_EXECUTE | windows.PAGE_EXECUTE_READ |
	windows.PAGE_EXECUTE_READWRITE | windows.PAGE_EXECUTE_WRITECOPY

func query(addr uintptr) (windows.MemoryBasicInformation, error) {
	var info windows.MemoryBasicInformation
	err := windows.VirtualQuery(addr, &info, unsafe.Sizeof(info))
	return info, err
}

func (h Host) Validate(addr, size uintptr) error {
	pageSize := h.PageSize()
	end := addr + size
	for page := addr &^ (pageSize - 1); page < end; page += pageSize {
		info, err := query(page)
		if err != nil {
			return err
		}
		if info.State != windows.MEM_COMMIT {
			return fmt.Errorf("%#x is not committed", page)
		}
		if info.Protect&execMask == 0 {
			return fmt.Errorf("%#x is not executable", page)
		}
	}
	return nil
}

func (h Host) Lookup(page uintptr) (Entry, error) {
	info, err := query(page)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Page: page, Size: h.PageSize(), Bits: uint64(info.Protect)}, nil
}

func (Host) Writable(bits uint64) uint64 {
	// The low byte holds the access; the rest are modifiers like PAGE_GUARD.
	switch bits & 0xff {
	case windows.PAGE_EXECUTE, windows.PAGE_EXECUTE_READ:
		return bits&^0xff | windows.PAGE_EXECUTE_READWRITE
	case windows.PAGE_READONLY:
		return bits&^0xff | windows.PAGE_READWRITE
	}
	return bits
}

func (Host) Modify(e Entry, bits uint64) error {
	var oldFlags uint32
	return windows.VirtualProtect(e.Page, e.Size, uint32(bits), &oldFlags)
}
