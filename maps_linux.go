package livepatch

import (
	"fmt"

	"github.com/prometheus/procfs"
)

var readMappings = func() ([]*procfs.ProcMap, error) {
	self, err := procfs.Self()
	if err != nil {
		return nil, err
	}
	return self.ProcMaps()
}

// hostMaps is Host with /proc/self/maps read once.
type hostMaps struct {
	Host
	maps []*procfs.ProcMap
}

// Snapshot reads the memory map once for a whole transaction. Pages are only
// looked up before their own protection is changed, so the snapshot stays
// accurate for the pages it's asked about.
func (Host) Snapshot() (PageTable, error) {
	maps, err := readMappings()
	if err != nil {
		return nil, fmt.Errorf("reading memory map: %w", err)
	}
	return hostMaps{maps: maps}, nil
}

func (h Host) Validate(addr, size uintptr) error {
	view, err := h.Snapshot()
	if err != nil {
		return err
	}
	return view.Validate(addr, size)
}

func (h Host) Lookup(page uintptr) (Entry, error) {
	view, err := h.Snapshot()
	if err != nil {
		return Entry{}, err
	}
	return view.Lookup(page)
}

func (h hostMaps) find(addr uintptr) *procfs.ProcMap {
	for _, m := range h.maps {
		if addr >= m.StartAddr && addr < m.EndAddr {
			return m
		}
	}
	return nil
}

// Validate checks every page of the range against the memory map.
func (h hostMaps) Validate(addr, size uintptr) error {
	pageSize := h.PageSize()
	end := addr + size
	for page := addr &^ (pageSize - 1); page < end; page += pageSize {
		m := h.find(page)
		if m == nil {
			return fmt.Errorf("%#x is not mapped", page)
		}
		if m.Perms == nil || !m.Perms.Execute {
			return fmt.Errorf("%#x is not executable", page)
		}
	}
	return nil
}

func (h hostMaps) Lookup(page uintptr) (Entry, error) {
	m := h.find(page)
	if m == nil || m.Perms == nil {
		return Entry{}, fmt.Errorf("%#x is not mapped", page)
	}

	return Entry{
		Page: page,
		Size: h.PageSize(),
		Bits: protBits(m.Perms.Read, m.Perms.Write, m.Perms.Execute),
	}, nil
}
