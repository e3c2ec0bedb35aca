//go:build arm64 && !cgo

package livepatch

// arm64 requires a C compiler to flush the instruction cache and issue
// barriers. Install a C compiler and build with CGO_ENABLED=1.
func cacheflush(buf []byte) {
	arm64_requires_cgo_for_instruction_cache_flushing()
}

func memoryBarrier()      { arm64_requires_cgo_for_memory_barriers() }
func syncBarrier()        { arm64_requires_cgo_for_memory_barriers() }
func instructionBarrier() { arm64_requires_cgo_for_memory_barriers() }
