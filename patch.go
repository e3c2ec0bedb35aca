package livepatch

import (
	"encoding/binary"
	"log/slog"
	"sync"
)

// Patcher applies patch transactions. Transactions on the same Patcher never
// overlap.
type Patcher struct {
	mu sync.Mutex

	pt       PageTable
	cpu      CPU
	sync     Synchronizer
	logger   *slog.Logger
	flushTLB bool
	trace    func(State)
}

// Option configures a Patcher.
type Option func(*Patcher)

// WithPageTable sets the page table used to change protection. The default
// is Host.
func WithPageTable(pt PageTable) Option {
	return func(p *Patcher) {
		p.pt = pt
	}
}

// WithCPU sets the barrier, store and cache primitives. The default is Host.
func WithCPU(cpu CPU) Option {
	return func(p *Patcher) {
		p.cpu = cpu
	}
}

// WithSynchronizer sets how other execution is held off during a patch. The
// default is DefaultSynchronizer().
func WithSynchronizer(s Synchronizer) Option {
	return func(p *Patcher) {
		p.sync = s
	}
}

// WithLogger sets the logger. Transitions are logged at debug level and
// faults at error level. Nothing is logged by default.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Patcher) {
		p.logger = logger
	}
}

// WithTLBFlush controls whether the TLB entry of a page is invalidated each
// time its protection changes. It's on by default.
func WithTLBFlush(enabled bool) Option {
	return func(p *Patcher) {
		p.flushTLB = enabled
	}
}

// WithTrace calls fn with every state a transaction enters.
func WithTrace(fn func(State)) Option {
	return func(p *Patcher) {
		p.trace = fn
	}
}

// New returns a Patcher for the current process, adjusted by opts.
func New(opts ...Option) *Patcher {
	p := &Patcher{
		pt:       Host{},
		cpu:      Host{},
		sync:     DefaultSynchronizer(),
		logger:   slog.New(slog.DiscardHandler),
		flushTLB: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PatchWord replaces the instruction at addr with word.
//
// An error wrapping ErrInvalidTarget is returned if addr can't be patched, in
// which case nothing was changed. Any failure after that point panics with a
// *TransactionFault.
func (p *Patcher) PatchWord(addr uintptr, word uint32) error {
	return p.PatchWords(addr, []uint32{word})
}

// PatchWords stores words[i] at addr+4*i in a single transaction. words is
// not modified. Patching an empty slice does nothing.
func (p *Patcher) PatchWords(addr uintptr, words []uint32) error {
	if len(words) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	t := &txn{p: p, addr: addr, words: words}
	return t.run()
}

// Patch writes code at addr. The length of code must be a multiple of 4; it
// is split into words using the native byte order.
func (p *Patcher) Patch(addr uintptr, code []byte) error {
	if len(code)%4 != 0 {
		return invalidTarget("code length %d is not a multiple of 4", len(code))
	}

	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.NativeEndian.Uint32(code[i*4:])
	}
	return p.PatchWords(addr, words)
}

var defaultPatcher = sync.OnceValue(func() *Patcher { return New() })

// PatchWord patches the current process using the default Patcher.
func PatchWord(addr uintptr, word uint32) error {
	return defaultPatcher().PatchWord(addr, word)
}

// PatchWords patches the current process using the default Patcher.
func PatchWords(addr uintptr, words []uint32) error {
	return defaultPatcher().PatchWords(addr, words)
}

// Patch patches the current process using the default Patcher.
func Patch(addr uintptr, code []byte) error {
	return defaultPatcher().Patch(addr, code)
}
