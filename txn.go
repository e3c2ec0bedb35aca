package livepatch

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// State is a step of a patch transaction.
type State int

const (
	Idle State = iota
	Validated
	ProtectionOpen
	Written
	CoherencyFlushed
	ProtectionClosed
	Aborted
)

var stateNames = [...]string{
	Idle:             "Idle",
	Validated:        "Validated",
	ProtectionOpen:   "ProtectionOpen",
	Written:          "Written",
	CoherencyFlushed: "CoherencyFlushed",
	ProtectionClosed: "ProtectionClosed",
	Aborted:          "Aborted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Aborted can only be reached before anything has been modified.
var transitions = map[State][]State{
	Idle:             {Validated, Aborted},
	Validated:        {ProtectionOpen, Aborted},
	ProtectionOpen:   {Written},
	Written:          {CoherencyFlushed},
	CoherencyFlushed: {ProtectionClosed},
	ProtectionClosed: {Idle},
}

// txn is one patch of words at addr.
type txn struct {
	p     *Patcher
	pt    PageTable
	addr  uintptr
	words []uint32
	state State

	// Entries whose protection has been opened and not yet restored. Each
	// holds the original bits.
	open []Entry
}

func (t *txn) size() uintptr {
	return uintptr(len(t.words)) * 4
}

func (t *txn) advance(next State) {
	for _, allowed := range transitions[t.state] {
		if allowed == next {
			t.p.logger.Debug("patch transition", "addr", fmt.Sprintf("%#x", t.addr), "from", t.state, "to", next)
			t.state = next
			if t.p.trace != nil {
				t.p.trace(next)
			}
			return
		}
	}
	panic(fmt.Sprintf("livepatch: illegal transition %v -> %v", t.state, next))
}

// validate is the only step allowed to fail. It touches nothing.
func (t *txn) validate() error {
	t.pt = t.p.pt
	if s, ok := t.pt.(Snapshotter); ok {
		view, err := s.Snapshot()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTarget, err)
		}
		t.pt = view
	}

	if t.addr == 0 {
		return invalidTarget("nil address")
	}
	if t.addr%4 != 0 {
		return invalidTarget("%#x is not 4-byte aligned", t.addr)
	}
	if t.addr+t.size() < t.addr {
		return invalidTarget("%#x+%d overflows", t.addr, t.size())
	}
	if err := t.pt.Validate(t.addr, t.size()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	return nil
}

func (t *txn) run() error {
	if err := t.validate(); err != nil {
		t.advance(Aborted)
		t.p.logger.Debug("patch rejected", "addr", fmt.Sprintf("%#x", t.addr), "error", err)
		return err
	}
	t.advance(Validated)

	t.commit()
	t.advance(Idle)
	return nil
}

// commit is past the point of no return. It completes or panics with a
// *TransactionFault.
func (t *txn) commit() {
	t.p.sync.Quiesce()
	defer t.p.sync.Resume()

	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer t.recoverFault()

	t.begin()
	t.write()
	t.flushInstructionPath()
	t.end()
}

func (t *txn) recoverFault() {
	r := recover()
	if r == nil {
		return
	}

	fault := &TransactionFault{Addr: t.addr, State: t.state, Err: asError(r)}
	if len(t.open) > 0 {
		if err := t.salvage(); err != nil {
			fault.Err = errors.Join(fault.Err, err)
		}
	}

	t.p.logger.Error("patch transaction faulted", "addr", fmt.Sprintf("%#x", t.addr), "state", fault.State, "error", fault.Err)
	panic(fault)
}

// salvage flushes and restores whatever is still open after a fault.
func (t *txn) salvage() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Join(err, asError(r))
		}
	}()

	cpu := t.p.cpu
	cpu.Barrier(SyncBarrier)
	cpu.InvalidateICache(t.addr, t.size())
	cpu.Barrier(InstructionBarrier)

	var errs []error
	for _, e := range t.open {
		if merr := restoreEntry(t.pt, e); merr != nil {
			errs = append(errs, fmt.Errorf("restore %#x: %w", e.Page, merr))
			continue
		}
		t.flushTLBPage(e.Page)
	}
	t.open = nil
	cpu.Barrier(SyncBarrier)

	return errors.Join(errs...)
}

// pages returns the start of every page covering the target.
func (t *txn) pages() []uintptr {
	pageSize := t.pt.PageSize()
	end := t.addr + t.size()

	var pages []uintptr
	for page := t.addr &^ (pageSize - 1); page < end; page += pageSize {
		pages = append(pages, page)
	}
	return pages
}

// begin opens write access on every page of the target.
func (t *txn) begin() {
	t.advance(ProtectionOpen)

	for _, page := range t.pages() {
		e, err := t.pt.Lookup(page)
		if err != nil {
			panic(fmt.Errorf("lookup %#x: %w", page, err))
		}

		// Record before modifying so the entry is restored even if
		// Modify fails halfway.
		t.open = append(t.open, e)

		if err := openEntry(t.pt, e, t.pt.Writable(e.Bits)); err != nil {
			panic(fmt.Errorf("open %#x: %w", page, err))
		}
		t.flushTLBPage(page)
	}

	t.p.cpu.Barrier(SyncBarrier)
}

func (t *txn) write() {
	if len(t.words) == 1 {
		t.writeOne(t.addr, t.words[0])
	} else {
		t.writeMany(t.addr, t.words)
	}
	t.advance(Written)
}

func (t *txn) writeOne(addr uintptr, word uint32) {
	cpu := t.p.cpu
	cpu.Barrier(MemoryBarrier)
	cpu.Store32(addr, word)
	cpu.Barrier(MemoryBarrier)
}

func (t *txn) writeMany(base uintptr, words []uint32) {
	cpu := t.p.cpu
	for i, word := range words {
		cpu.Barrier(MemoryBarrier)
		cpu.Store32(base+uintptr(i)*4, word)
	}
	cpu.Barrier(MemoryBarrier)
}

func (t *txn) flushInstructionPath() {
	cpu := t.p.cpu
	cpu.Barrier(SyncBarrier)
	cpu.InvalidateICache(t.addr, t.size())
	cpu.Barrier(InstructionBarrier)
	t.advance(CoherencyFlushed)
}

func (t *txn) flushTLBPage(page uintptr) {
	if !t.p.flushTLB {
		return
	}
	t.p.cpu.InvalidateTLBPage(page)
	t.p.cpu.Barrier(SyncBarrier)
}

// end restores the original protection of every opened page.
func (t *txn) end() {
	cpu := t.p.cpu
	cpu.Barrier(SyncBarrier)
	cpu.InvalidateICache(t.addr, t.size())

	for len(t.open) > 0 {
		e := t.open[0]
		if err := restoreEntry(t.pt, e); err != nil {
			panic(fmt.Errorf("restore %#x: %w", e.Page, err))
		}
		t.open = t.open[1:]
		t.flushTLBPage(e.Page)
	}

	cpu.Barrier(SyncBarrier)
	t.advance(ProtectionClosed)
}
