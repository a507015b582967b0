package gpumem

import (
	"context"
	"log/slog"
)

// AllocationReport describes one live (allocated, not yet freed) chunk
// inside a single sub-allocator. It is produced by reportAllocations for
// introspection/visualizer tooling and is purely read-only.
type AllocationReport struct {
	ChunkID uint64
	Offset  uint64
	Size    uint64
	Name    string
}

// subAllocator is the strategy that manages placement inside one
// pre-reserved MemoryBlock. DedicatedBlockAllocator and FreeListAllocator
// are the two implementations; MemoryBlock holds exactly one of them and
// never itself inspects which.
type subAllocator interface {
	// allocate reserves size bytes aligned to alignment and returns the
	// placement offset plus a stable, nonzero chunk id identifying the
	// region. granularity is the buffer-image granularity to enforce
	// between chunks of different allocationType. name and backtrace are
	// stored verbatim for later reporting.
	allocate(size, alignment uint64, allocationType AllocationType, granularity uint64, name, backtrace string) (offset uint64, chunkID uint64, err error)

	// free releases the chunk previously returned by allocate.
	free(chunkID uint64) error

	// rename mutates only the stored name of a live chunk.
	rename(chunkID uint64, name string) error

	// reportAllocations lists every currently-live chunk.
	reportAllocations() []AllocationReport

	// reportMemoryLeaks logs one record per currently-live chunk at level,
	// tagged with the owning memory type/block indices for diagnostics.
	reportMemoryLeaks(ctx context.Context, logger *slog.Logger, level slog.Level, memoryTypeIndex, memoryBlockIndex int)

	// supportsGeneralAllocations reports whether the block this
	// sub-allocator manages may hold more than one allocation over its
	// lifetime. false for DedicatedBlockAllocator, true for FreeListAllocator.
	supportsGeneralAllocations() bool

	size() uint64
	allocated() uint64
}

// availableMemory reports how much of a sub-allocator's block is unused.
func availableMemory(s subAllocator) uint64 {
	return s.size() - s.allocated()
}

// subAllocatorIsEmpty reports whether a sub-allocator currently holds no
// live allocations.
func subAllocatorIsEmpty(s subAllocator) bool {
	return s.allocated() == 0
}
