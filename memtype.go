package gpumem

import (
	"context"
	"log/slog"
)

// memoryType pools every block allocated from one driver memory type. Slots
// are sparse: a nil entry marks a slot whose block has been destroyed and
// can be reused by a later block (general or dedicated), without disturbing
// the indices of its neighbors. Each Allocation records its block's slot
// index, and GenerateReport shows it, so a live block never changes slot.
type memoryType struct {
	index         int
	info          MemoryTypeInfo
	mappable      bool
	blocks        []*memoryBlock
	activeGeneral int // count of live non-dedicated (general) blocks; dedicated blocks don't count
	blockSize     BlockSizePolicy
}

func newMemoryType(index int, info MemoryTypeInfo, mappable bool, policy BlockSizePolicy) *memoryType {
	return &memoryType{index: index, info: info, mappable: mappable, blockSize: policy}
}

// allocate services one request from this memory type: a new dedicated
// block when dedicated is true, otherwise the general (free-list) path,
// which creates a new general block when no existing one has room.
func (t *memoryType) allocate(device Device, desc *AllocationCreateDesc, granularity uint64, dedicated bool) (Allocation, int, error) {
	if dedicated {
		return t.allocateDedicated(device, desc)
	}
	return t.allocateGeneral(device, desc, granularity)
}

func (t *memoryType) allocateDedicated(device Device, desc *AllocationCreateDesc) (Allocation, int, error) {
	block, err := newMemoryBlock(device, desc.Size, t.info, t.mappable, true)
	if err != nil {
		return Allocation{}, 0, err
	}
	blockIndex := t.insertBlock(block, true)

	offset, chunkID, err := block.sub.allocate(desc.Size, desc.Alignment, desc.allocationType(), 0, desc.Name, "")
	if err != nil {
		block.destroy(device)
		t.removeBlock(blockIndex, true)
		return Allocation{}, 0, err
	}

	return Allocation{
		chunkID:          chunkID,
		offset:           offset,
		size:             desc.Size,
		memory:           block.handle,
		mappedPtr:        block.mappedPtr(offset),
		memoryTypeIndex:  t.index,
		memoryBlockIndex: blockIndex,
		name:             desc.Name,
	}, blockIndex, nil
}

// allocateGeneral walks existing general blocks from most-recently-created
// to oldest, reusing the first one with room, and falls back to creating a
// new general block sized by the configured BlockSizePolicy.
func (t *memoryType) allocateGeneral(device Device, desc *AllocationCreateDesc, granularity uint64) (Allocation, int, error) {
	for i := len(t.blocks) - 1; i >= 0; i-- {
		block := t.blocks[i]
		if block == nil || !block.sub.supportsGeneralAllocations() {
			continue
		}
		offset, chunkID, err := block.sub.allocate(desc.Size, desc.Alignment, desc.allocationType(), granularity, desc.Name, "")
		if err != nil {
			continue
		}
		return Allocation{
			chunkID:          chunkID,
			offset:           offset,
			size:             desc.Size,
			memory:           block.handle,
			mappedPtr:        block.mappedPtr(offset),
			memoryTypeIndex:  t.index,
			memoryBlockIndex: i,
			name:             desc.Name,
		}, i, nil
	}

	size := t.blockSize(t.info, t.activeGeneral)
	if size < desc.Size {
		size = desc.Size
	}

	block, err := newMemoryBlock(device, size, t.info, t.mappable, false)
	if err != nil {
		return Allocation{}, 0, err
	}
	blockIndex := t.insertBlock(block, false)

	offset, chunkID, err := block.sub.allocate(desc.Size, desc.Alignment, desc.allocationType(), granularity, desc.Name, "")
	if err != nil {
		block.destroy(device)
		t.removeBlock(blockIndex, false)
		return Allocation{}, 0, err
	}

	return Allocation{
		chunkID:          chunkID,
		offset:           offset,
		size:             desc.Size,
		memory:           block.handle,
		mappedPtr:        block.mappedPtr(offset),
		memoryTypeIndex:  t.index,
		memoryBlockIndex: blockIndex,
		name:             desc.Name,
	}, blockIndex, nil
}

// free releases a suballocation back to its owning block. A dedicated block
// is destroyed unconditionally once its one allocation is freed. A general
// block is destroyed when it becomes empty, unless it is the last general
// block for this memory type: one empty general block is retained to
// absorb the next allocation without a CreateBlock round trip.
func (t *memoryType) free(device Device, alloc Allocation) error {
	block := t.blocks[alloc.memoryBlockIndex]
	if block == nil {
		return internalf("memory type %d: free of already-destroyed block %d", t.index, alloc.memoryBlockIndex)
	}

	if err := block.sub.free(alloc.chunkID); err != nil {
		return err
	}

	general := block.sub.supportsGeneralAllocations()
	if !general {
		block.destroy(device)
		t.removeBlock(alloc.memoryBlockIndex, true)
		return nil
	}

	if block.isEmpty() && t.activeGeneral > 1 {
		block.destroy(device)
		t.removeBlock(alloc.memoryBlockIndex, false)
	}

	return nil
}

func (t *memoryType) rename(alloc Allocation, name string) error {
	block := t.blocks[alloc.memoryBlockIndex]
	if block == nil {
		return internalf("memory type %d: rename of already-destroyed block %d", t.index, alloc.memoryBlockIndex)
	}
	return block.sub.rename(alloc.chunkID, name)
}

func (t *memoryType) insertBlock(block *memoryBlock, dedicated bool) int {
	var index int
	placed := false
	for i, existing := range t.blocks {
		if existing == nil {
			t.blocks[i] = block
			index = i
			placed = true
			break
		}
	}
	if !placed {
		t.blocks = append(t.blocks, block)
		index = len(t.blocks) - 1
	}
	if !dedicated {
		t.activeGeneral++
	}
	return index
}

func (t *memoryType) removeBlock(index int, dedicated bool) {
	t.blocks[index] = nil
	if !dedicated {
		t.activeGeneral--
	}
}

func (t *memoryType) destroyAll(device Device) {
	for i, block := range t.blocks {
		if block == nil {
			continue
		}
		block.destroy(device)
		t.blocks[i] = nil
	}
	t.activeGeneral = 0
}

func (t *memoryType) reportMemoryLeaks(ctx context.Context, logger *slog.Logger, level slog.Level) {
	for i, block := range t.blocks {
		if block == nil {
			continue
		}
		block.reportMemoryLeaks(ctx, logger, level, t.index, i)
	}
}

func (t *memoryType) hasLeaks() bool {
	for _, block := range t.blocks {
		if block == nil {
			continue
		}
		if block.available() != block.size {
			return true
		}
	}
	return false
}
