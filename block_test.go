package gpumem

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gogpu/gpumem/internal/fakedevice"
)

func TestNewMemoryBlockMappable(t *testing.T) {
	dev := fakedevice.NewSimple(1<<20, 1)
	info := dev.MemoryTypes()[1] // host-visible type

	block, err := newMemoryBlock(dev, 4096, info, true, false)
	require.NoError(t, err)
	require.NotZero(t, block.mappedBase)
	require.True(t, subAllocatorIsEmpty(block.sub))
	require.Equal(t, uint64(4096), block.size)
}

func TestNewMemoryBlockNotMappable(t *testing.T) {
	dev := fakedevice.NewSimple(1<<20, 1)
	info := dev.MemoryTypes()[0]

	block, err := newMemoryBlock(dev, 4096, info, false, false)
	require.NoError(t, err)
	require.Zero(t, block.mappedBase)
}

func TestNewMemoryBlockDedicated(t *testing.T) {
	dev := fakedevice.NewSimple(1<<20, 1)
	info := dev.MemoryTypes()[0]

	block, err := newMemoryBlock(dev, 4096, info, false, true)
	require.NoError(t, err)

	_, ok := block.sub.(*dedicatedBlockAllocator)
	require.True(t, ok, "dedicated=true must wrap a dedicatedBlockAllocator")
}

func TestMemoryBlockDestroyReleasesHandle(t *testing.T) {
	dev := fakedevice.NewSimple(1<<20, 1)
	info := dev.MemoryTypes()[0]

	block, err := newMemoryBlock(dev, 4096, info, false, false)
	require.NoError(t, err)
	require.Equal(t, 1, dev.LiveBlocks())

	block.destroy(dev)
	require.Equal(t, 0, dev.LiveBlocks())
}

func TestMemoryBlockCreateError(t *testing.T) {
	dev := fakedevice.NewSimple(1<<20, 1)
	dev.CreateErr = ErrOutOfMemory

	_, err := newMemoryBlock(dev, 4096, dev.MemoryTypes()[0], false, false)
	require.Error(t, err)
}
