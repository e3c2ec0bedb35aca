//go:build unix && !linux

package livepatch

import "errors"

// errUnknownProtection is returned where the current protection of a page
// can't be read. Guessing would let data pages through validation and
// restore them with the wrong bits.
var errUnknownProtection = errors.New("page protection cannot be determined on this platform")

func (Host) Validate(addr, size uintptr) error {
	return errUnknownProtection
}

func (Host) Lookup(page uintptr) (Entry, error) {
	return Entry{}, errUnknownProtection
}
