package gpumem

import (
	"context"
	"log/slog"
)

// memoryBlock owns exactly one device memory object and the single
// subAllocator that manages placement within it. MemoryType never touches a
// Device directly; every device memory object flows through a memoryBlock.
type memoryBlock struct {
	handle     DeviceMemoryHandle
	size       uint64
	mappedBase uintptr
	sub        subAllocator
}

// newMemoryBlock requests a device memory object of size bytes from device,
// optionally mapping it for the block's lifetime, and wraps it with either a
// dedicated or a free-list sub-allocator.
func newMemoryBlock(device Device, size uint64, typeInfo MemoryTypeInfo, mappable, dedicated bool) (*memoryBlock, error) {
	handle, mappedBase, err := device.CreateBlock(size, typeInfo, mappable)
	if err != nil {
		return nil, err
	}

	var sub subAllocator
	if dedicated {
		sub = newDedicatedBlockAllocator(size)
	} else {
		sub = newFreeListAllocator(size)
	}

	return &memoryBlock{handle: handle, size: size, mappedBase: mappedBase, sub: sub}, nil
}

func (b *memoryBlock) destroy(device Device) {
	device.DestroyBlock(b.handle)
}

// mappedPtr returns the host pointer for the byte at offset within the
// block, or 0 if the block is not mapped.
func (b *memoryBlock) mappedPtr(offset uint64) uintptr {
	if b.mappedBase == 0 {
		return 0
	}
	return b.mappedBase + uintptr(offset)
}

func (b *memoryBlock) isEmpty() bool {
	return subAllocatorIsEmpty(b.sub)
}

func (b *memoryBlock) available() uint64 {
	return availableMemory(b.sub)
}

func (b *memoryBlock) reportMemoryLeaks(ctx context.Context, logger *slog.Logger, level slog.Level, memoryTypeIndex, memoryBlockIndex int) {
	b.sub.reportMemoryLeaks(ctx, logger, level, memoryTypeIndex, memoryBlockIndex)
}
