package livepatch

import (
	"errors"
	"fmt"
	"strings"
)

// arm64 style descriptor bits, so the fake exercises the same bit juggling as
// a kernel page table would.
const (
	pteValid  = uint64(1) << 0
	pteRdonly = uint64(1) << 7
	pteAF     = uint64(1) << 10
	pteDBM    = uint64(1) << 51

	codeBits = pteValid | pteAF | pteRdonly
)

const fakePageSize = 0x1000

// fakeMachine simulates memory and a page table, and records every
// primitive call in order.
type fakeMachine struct {
	mem   map[uintptr]uint32
	pte   map[uintptr]uint64
	calls []string

	// Addresses rejected by Validate even when mapped.
	bad map[uintptr]bool

	// Inject failures.
	lookupErr   error
	modifyErrOn int // fail the n'th Modify (1-based); 0 = never
	storeFault  int // panic on the n'th Store32 (1-based); 0 = never

	modifies int
	stores   int
}

func newFakeMachine(pages ...uintptr) *fakeMachine {
	m := &fakeMachine{
		mem: map[uintptr]uint32{},
		pte: map[uintptr]uint64{},
		bad: map[uintptr]bool{},
	}
	for _, page := range pages {
		m.pte[page] = codeBits
	}
	return m
}

func (m *fakeMachine) record(format string, args ...any) {
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
}

func (m *fakeMachine) PageSize() uintptr { return fakePageSize }

func (m *fakeMachine) Validate(addr, size uintptr) error {
	m.record("validate %#x", addr)
	if m.bad[addr] {
		return errors.New("bad address")
	}
	for page := addr &^ (fakePageSize - 1); page < addr+size; page += fakePageSize {
		if _, ok := m.pte[page]; !ok {
			return fmt.Errorf("%#x not mapped", page)
		}
	}
	return nil
}

func (m *fakeMachine) Lookup(page uintptr) (Entry, error) {
	m.record("lookup %#x", page)
	if m.lookupErr != nil {
		return Entry{}, m.lookupErr
	}
	bits, ok := m.pte[page]
	if !ok {
		return Entry{}, fmt.Errorf("%#x not mapped", page)
	}
	return Entry{Page: page, Size: fakePageSize, Bits: bits}, nil
}

func (m *fakeMachine) Writable(bits uint64) uint64 {
	return (bits | pteDBM) &^ pteRdonly
}

func (m *fakeMachine) Modify(e Entry, bits uint64) error {
	m.modifies++
	m.record("modify %#x %#x", e.Page, bits)
	if m.modifies == m.modifyErrOn {
		return errors.New("modify failed")
	}
	m.pte[e.Page] = bits
	return nil
}

func (m *fakeMachine) Barrier(b Barrier) {
	m.record("%v", b)
}

func (m *fakeMachine) Store32(addr uintptr, word uint32) {
	m.stores++
	m.record("store %#x %#x", addr, word)
	if m.stores == m.storeFault {
		panic("store fault")
	}
	if m.pte[addr&^(fakePageSize-1)]&pteRdonly != 0 {
		panic(fmt.Sprintf("write to read-only page at %#x", addr))
	}
	m.mem[addr] = word
}

func (m *fakeMachine) InvalidateICache(addr, size uintptr) {
	m.record("icache %#x %d", addr, size)
}

func (m *fakeMachine) InvalidateTLBPage(page uintptr) {
	m.record("tlbi %#x", page)
}

// count returns how many calls start with prefix.
func (m *fakeMachine) count(prefix string) int {
	n := 0
	for _, c := range m.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// first and last return the index of the first and last call starting with
// prefix, or -1.
func (m *fakeMachine) first(prefix string) int {
	for i, c := range m.calls {
		if strings.HasPrefix(c, prefix) {
			return i
		}
	}
	return -1
}

func (m *fakeMachine) last(prefix string) int {
	for i := len(m.calls) - 1; i >= 0; i-- {
		if strings.HasPrefix(m.calls[i], prefix) {
			return i
		}
	}
	return -1
}

func (m *fakeMachine) snapshot() (map[uintptr]uint64, map[uintptr]uint32) {
	pte := make(map[uintptr]uint64, len(m.pte))
	for k, v := range m.pte {
		pte[k] = v
	}
	mem := make(map[uintptr]uint32, len(m.mem))
	for k, v := range m.mem {
		mem[k] = v
	}
	return pte, mem
}

type countingSync struct {
	m        *fakeMachine
	quiesced int
	resumed  int
}

func (s *countingSync) Quiesce() {
	s.quiesced++
	s.m.record("quiesce")
}

func (s *countingSync) Resume() {
	s.resumed++
	s.m.record("resume")
}

func newFakePatcher(m *fakeMachine, opts ...Option) *Patcher {
	opts = append([]Option{
		WithPageTable(m),
		WithCPU(m),
		WithSynchronizer(NoSync{}),
	}, opts...)
	return New(opts...)
}
