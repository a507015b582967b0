package gpumem

import (
	"context"
	"log/slog"
)

// dedicatedChunkID is the only valid chunk id a DedicatedBlockAllocator ever
// hands out, matching the free-list allocator's convention that 0 means "no
// chunk".
const dedicatedChunkID uint64 = 1

// dedicatedBlockAllocator is the trivial sub-allocator strategy: its block
// holds exactly one allocation, sized to match the block exactly. It backs
// MemoryType's dedicated path for allocations that exceed the block-size
// policy.
type dedicatedBlockAllocator struct {
	blockSize uint64
	live      bool
	name      string
	backtrace string
}

func newDedicatedBlockAllocator(size uint64) *dedicatedBlockAllocator {
	return &dedicatedBlockAllocator{blockSize: size}
}

func (d *dedicatedBlockAllocator) allocate(size, _ uint64, _ AllocationType, _ uint64, name, backtrace string) (uint64, uint64, error) {
	if d.live {
		return 0, 0, outOfMemory()
	}
	if size != d.blockSize {
		return 0, 0, internalf("dedicated block allocator size %d must match allocation size %d", d.blockSize, size)
	}

	d.live = true
	d.name = name
	d.backtrace = backtrace

	return 0, dedicatedChunkID, nil
}

func (d *dedicatedBlockAllocator) free(chunkID uint64) error {
	if chunkID != dedicatedChunkID {
		return internalf("dedicated block allocator: chunk id must be %d, got %d", dedicatedChunkID, chunkID)
	}
	d.live = false
	d.name = ""
	d.backtrace = ""
	return nil
}

func (d *dedicatedBlockAllocator) rename(chunkID uint64, name string) error {
	if chunkID != dedicatedChunkID {
		return internalf("dedicated block allocator: chunk id must be %d, got %d", dedicatedChunkID, chunkID)
	}
	d.name = name
	return nil
}

func (d *dedicatedBlockAllocator) reportAllocations() []AllocationReport {
	if !d.live {
		return nil
	}
	return []AllocationReport{{ChunkID: dedicatedChunkID, Offset: 0, Size: d.blockSize, Name: d.name}}
}

func (d *dedicatedBlockAllocator) reportMemoryLeaks(ctx context.Context, logger *slog.Logger, level slog.Level, memoryTypeIndex, memoryBlockIndex int) {
	if !d.live {
		return
	}
	logger.Log(ctx, level, "leak detected: dedicated allocation",
		slog.Int("memory_type", memoryTypeIndex),
		slog.Int("memory_block", memoryBlockIndex),
		slog.Uint64("size", d.blockSize),
		slog.String("name", d.name),
		slog.String("backtrace", d.backtrace),
	)
}

func (d *dedicatedBlockAllocator) supportsGeneralAllocations() bool { return false }

func (d *dedicatedBlockAllocator) size() uint64 { return d.blockSize }

func (d *dedicatedBlockAllocator) allocated() uint64 {
	if d.live {
		return d.blockSize
	}
	return 0
}
