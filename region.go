package livepatch

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/pboyd/malloc"
)

// Region is a block of executable memory holding instruction words. It's a
// valid patch target as soon as Alloc returns.
type Region struct {
	// The data for this slice is allocated in the mmap page and managed by
	// regionArena.
	code []uint32
}

// Alloc returns a new executable region holding a copy of words. The region
// is left read+exec.
func Alloc(words []uint32) (*Region, error) {
	if len(words) == 0 {
		return nil, errors.New("empty region")
	}

	var code []uint32
	err := regionArena.mutate(len(words)*4, func(a *malloc.Arena) error {
		var err error
		code, err = malloc.MallocSlice[uint32](a, len(words))
		if err != nil {
			return err
		}
		copy(code, words)
		return nil
	})
	if err != nil {
		return nil, err
	}

	r := &Region{code: code}
	cacheflush(unsafe.Slice((*byte)(unsafe.Pointer(r.Addr())), len(code)*4))
	return r, nil
}

// Addr returns the address of the first word.
func (r *Region) Addr() uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(r.code)))
}

// Len returns the number of words in the region.
func (r *Region) Len() int {
	return len(r.code)
}

// Word returns the i'th word.
func (r *Region) Word(i int) uint32 {
	return atomic.LoadUint32(&r.code[i])
}

// Words returns a copy of the region's contents.
func (r *Region) Words() []uint32 {
	words := make([]uint32, len(r.code))
	for i := range words {
		words[i] = r.Word(i)
	}
	return words
}

// Free releases the region. It must not be patched or executed afterwards.
// Freeing a region twice does nothing.
func (r *Region) Free() error {
	if r.code == nil {
		return nil
	}

	code := r.code
	r.code = nil
	return regionArena.mutate(0, func(a *malloc.Arena) error {
		malloc.FreeSlice(a, code)
		return nil
	})
}

// arena hands out code memory. It's read+exec except inside mutate.
type arena struct {
	*malloc.Arena
	protect  func(int) error
	initOnce sync.Once
	initErr  error
}

// init creates the arena on first use and reports whether it did.
func (a *arena) init(startSize int) (bool, error) {
	created := false
	a.initOnce.Do(func() {
		created = true

		be := malloc.MmapBackend(malloc.MmapProt(mprotectExec))
		if protBE, ok := be.(malloc.ProtectedArenaBackend); ok {
			a.protect = protBE.Protect
		} else {
			a.protect = func(int) error {
				return nil
			}
		}

		a.Arena = malloc.NewArena(uint64(startSize), malloc.Backend(be))
		if a.Arena == nil {
			a.initErr = errors.New("unable to initialize arena")
		}
	})
	return created, a.initErr
}

// mutate makes the arena writable for fn, then read+exec again. It goes
// through reprotect, so pages of a patch in progress stay writable.
func (a *arena) mutate(startSize int, fn func(*malloc.Arena) error) error {
	return reprotect(func() error {
		created, err := a.init(max(startSize, 4))
		if err != nil {
			return fmt.Errorf("error initializing arena: %w", err)
		}

		// A new arena starts out writable.
		if !created {
			if err := a.protect(mprotectRWX); err != nil {
				return err
			}
		}

		err = fn(a.Arena)
		return errors.Join(err, a.protect(mprotectRX))
	})
}

var regionArena = &arena{}
