package livepatch

import (
	"errors"
	"sync"
)

// openPages holds every page a transaction has made writable and not yet
// restored. Anything else that changes protection of code memory does so
// through reprotect, which puts these pages back afterwards.
var openPages = struct {
	sync.Mutex
	m map[uintptr]openPage
}{m: map[uintptr]openPage{}}

type openPage struct {
	pt   PageTable
	e    Entry
	bits uint64
}

// openEntry installs bits on e and remembers the page as open.
func openEntry(pt PageTable, e Entry, bits uint64) error {
	openPages.Lock()
	defer openPages.Unlock()

	if err := pt.Modify(e, bits); err != nil {
		return err
	}
	openPages.m[e.Page] = openPage{pt: pt, e: e, bits: bits}
	return nil
}

// restoreEntry puts back the original bits of e.
func restoreEntry(pt PageTable, e Entry) error {
	openPages.Lock()
	defer openPages.Unlock()

	if err := pt.Modify(e, e.Bits); err != nil {
		return err
	}
	delete(openPages.m, e.Page)
	return nil
}

// reprotect runs fn, which may change protection of arbitrary code pages,
// then reopens the pages of any transaction in progress.
func reprotect(fn func() error) error {
	openPages.Lock()
	defer openPages.Unlock()

	err := fn()
	for _, o := range openPages.m {
		if merr := o.pt.Modify(o.e, o.bits); merr != nil {
			err = errors.Join(err, merr)
		}
	}
	return err
}
