//go:build !arm64

package livepatch

import "sync/atomic"

var fence uint32

// A locked read-modify-write is a full fence on amd64, which is enough for
// both memory and sync barriers.
func memoryBarrier() { atomic.AddUint32(&fence, 0) }
func syncBarrier()   { atomic.AddUint32(&fence, 0) }

// The mprotect syscall that restores protection serializes the core.
func instructionBarrier() {}

// This isn't needed on amd64, instruction fetch is coherent with stores.
func cacheflush(buf []byte) {}
