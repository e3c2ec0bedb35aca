package livepatch

import "runtime"

// Synchronizer keeps other execution from interfering while a patch is in
// progress. Quiesce is called before the protection is opened and Resume
// after it has been restored; they are never nested.
type Synchronizer interface {
	Quiesce()
	Resume()
}

// NoSync does nothing. Use it on single-core systems.
type NoSync struct{}

func (NoSync) Quiesce() {}
func (NoSync) Resume()  {}

// PinThread locks the patching goroutine to its OS thread so the scheduler
// can't move it to another thread mid-patch.
//
// It does not disable preemption: the goroutine can still be descheduled, and
// the kernel can still preempt the thread. Nor does it stop other threads;
// callers that need that must serialize their patches or supply their own
// Synchronizer.
type PinThread struct{}

func (PinThread) Quiesce() { runtime.LockOSThread() }
func (PinThread) Resume()  { runtime.UnlockOSThread() }

// DefaultSynchronizer returns NoSync on single-core machines and PinThread
// otherwise.
func DefaultSynchronizer() Synchronizer {
	if runtime.NumCPU() == 1 {
		return NoSync{}
	}
	return PinThread{}
}
