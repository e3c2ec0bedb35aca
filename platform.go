package livepatch

import "fmt"

// Entry is a page table entry covering one page of the target.
type Entry struct {
	// Page is the page-aligned address the entry covers.
	Page uintptr

	// Size is the number of bytes covered, normally the page size.
	Size uintptr

	// Bits holds the protection bits in the platform's own encoding. The
	// engine never interprets them; it only passes them back to the
	// PageTable.
	Bits uint64
}

// PageTable gives access to the protection of the memory being patched.
type PageTable interface {
	PageSize() uintptr

	// Validate returns an error if any of the size bytes starting at addr
	// aren't mapped, executable memory.
	Validate(addr, size uintptr) error

	// Lookup returns the entry for the page starting at page.
	Lookup(page uintptr) (Entry, error)

	// Writable returns bits with write access enabled.
	Writable(bits uint64) uint64

	// Modify installs bits on the page covered by e.
	Modify(e Entry, bits uint64) error
}

// Snapshotter is implemented by page tables whose lookups are expensive.
// Snapshot is called once per transaction and the returned view is used for
// every Validate and Lookup of that transaction.
type Snapshotter interface {
	Snapshot() (PageTable, error)
}

// Barrier selects a memory ordering fence.
type Barrier int

const (
	// MemoryBarrier orders loads and stores among all cores sharing
	// coherency (dmb ish).
	MemoryBarrier Barrier = iota

	// SyncBarrier waits for all prior memory accesses and maintenance
	// operations to complete (dsb ish).
	SyncBarrier

	// InstructionBarrier flushes the local pipeline so later instructions
	// are fetched again (isb).
	InstructionBarrier
)

func (b Barrier) String() string {
	switch b {
	case MemoryBarrier:
		return "dmb"
	case SyncBarrier:
		return "dsb"
	case InstructionBarrier:
		return "isb"
	default:
		return fmt.Sprintf("Barrier(%d)", int(b))
	}
}

// CPU provides the hardware primitives of the architecture being patched.
type CPU interface {
	Barrier(b Barrier)

	// Store32 stores word at addr, which is 4-byte aligned.
	Store32(addr uintptr, word uint32)

	// InvalidateICache discards instruction cache lines covering the range.
	InvalidateICache(addr, size uintptr)

	// InvalidateTLBPage drops the local translation for page.
	InvalidateTLBPage(page uintptr)
}
