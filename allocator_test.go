package gpumem

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gogpu/gpumem/internal/fakedevice"
)

func newTestAllocator(t *testing.T, heapSize uint64) (*Allocator, *fakedevice.Device) {
	t.Helper()
	dev := fakedevice.NewSimple(heapSize, 256)
	a, err := NewAllocator(AllocatorCreateDesc{Device: dev})
	require.NoError(t, err)
	return a, dev
}

func TestNewAllocatorRejectsNilDevice(t *testing.T) {
	_, err := NewAllocator(AllocatorCreateDesc{})
	require.Error(t, err)
}

func TestAllocatorAllocateGpuOnly(t *testing.T) {
	a, _ := newTestAllocator(t, 1<<24)
	alloc, err := a.Allocate(AllocationCreateDesc{
		Name: "vertex-buffer", Size: 1024, Alignment: 256,
		Location: LocationGpuOnly, Linear: true, MemoryTypeBits: 0b11,
	})
	require.NoError(t, err)
	require.False(t, alloc.IsNull())
	require.Equal(t, uint64(1024), alloc.Size())
}

func TestAllocatorAllocateCpuToGpuFallsBackWhenDeviceLocalUnavailable(t *testing.T) {
	a, _ := newTestAllocator(t, 1<<24)
	// MemoryTypeBits only accepts index 1 (host-visible+coherent, not
	// device-local): the preferred search (device-local too) must fall
	// back to the required-only set and still succeed.
	alloc, err := a.Allocate(AllocationCreateDesc{
		Size: 256, Alignment: 1, Location: LocationCpuToGpu, Linear: true, MemoryTypeBits: 0b10,
	})
	require.NoError(t, err)
	require.False(t, alloc.IsNull())
}

func TestAllocatorAllocateNoCompatibleMemoryType(t *testing.T) {
	a, _ := newTestAllocator(t, 1<<24)
	_, err := a.Allocate(AllocationCreateDesc{
		Size: 256, Alignment: 1, Location: LocationGpuOnly, Linear: true, MemoryTypeBits: 0b100,
	})
	require.True(t, errors.Is(err, ErrNoCompatibleMemoryTypeFound))
}

func TestAllocatorAllocateValidatesDesc(t *testing.T) {
	a, _ := newTestAllocator(t, 1<<24)

	_, err := a.Allocate(AllocationCreateDesc{Size: 0, Alignment: 1, MemoryTypeBits: 1})
	require.True(t, errors.Is(err, ErrInvalidAllocationCreateDesc))

	_, err = a.Allocate(AllocationCreateDesc{Size: 1, Alignment: 3, MemoryTypeBits: 1})
	require.True(t, errors.Is(err, ErrInvalidAllocationCreateDesc))

	_, err = a.Allocate(AllocationCreateDesc{Size: 1, Alignment: 1, MemoryTypeBits: 0})
	require.True(t, errors.Is(err, ErrInvalidAllocationCreateDesc))
}

func TestAllocatorFreeNullIsNoop(t *testing.T) {
	a, _ := newTestAllocator(t, 1<<24)
	require.NoError(t, a.Free(Allocation{}))
}

func TestAllocatorAllocateFreeRoundTrip(t *testing.T) {
	a, dev := newTestAllocator(t, 1<<24)
	alloc, err := a.Allocate(AllocationCreateDesc{Size: 1024, Alignment: 256, Location: LocationGpuOnly, Linear: true, MemoryTypeBits: 0b11})
	require.NoError(t, err)
	require.NoError(t, a.Free(alloc))
	require.Equal(t, 1, dev.LiveBlocks(), "one empty general block is retained after freeing")
}

func TestAllocatorRenameAllocation(t *testing.T) {
	a, _ := newTestAllocator(t, 1<<24)
	alloc, err := a.Allocate(AllocationCreateDesc{Name: "a", Size: 256, Alignment: 1, Location: LocationGpuOnly, Linear: true, MemoryTypeBits: 0b11})
	require.NoError(t, err)
	require.NoError(t, a.RenameAllocation(alloc, "b"))
}

func TestAllocatorCloseDestroysAllBlocks(t *testing.T) {
	a, dev := newTestAllocator(t, 1<<24)
	_, err := a.Allocate(AllocationCreateDesc{Size: 256, Alignment: 1, Location: LocationGpuOnly, Linear: true, MemoryTypeBits: 0b11})
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.Equal(t, 0, dev.LiveBlocks())
	require.NoError(t, a.Close(), "Close must be idempotent")
}

func TestAllocatorAllocateAfterCloseFails(t *testing.T) {
	a, _ := newTestAllocator(t, 1<<24)
	require.NoError(t, a.Close())
	_, err := a.Allocate(AllocationCreateDesc{Size: 256, Alignment: 1, MemoryTypeBits: 1})
	require.Error(t, err)
}

func TestAllocatorGenerateReportReflectsLiveAllocations(t *testing.T) {
	a, _ := newTestAllocator(t, 1<<24)
	_, err := a.Allocate(AllocationCreateDesc{Name: "tex", Size: 512, Alignment: 1, Location: LocationGpuOnly, Linear: false, MemoryTypeBits: 0b11})
	require.NoError(t, err)

	report := a.GenerateReport()
	require.NotEmpty(t, report.MemoryTypes)

	found := false
	for _, mt := range report.MemoryTypes {
		for _, block := range mt.Blocks {
			for _, alloc := range block.Allocations {
				if alloc.Name == "tex" {
					found = true
				}
			}
		}
	}
	require.True(t, found, "report must surface the live allocation by name")
	require.NotEmpty(t, report.String())
}

func TestAllocatorReportMemoryLeaksDoesNotPanicWithNoLeaks(t *testing.T) {
	a, _ := newTestAllocator(t, 1<<24)
	alloc, err := a.Allocate(AllocationCreateDesc{Size: 256, Alignment: 1, Location: LocationGpuOnly, Linear: true, MemoryTypeBits: 0b11})
	require.NoError(t, err)
	require.NoError(t, a.Free(alloc))

	a.ReportMemoryLeaks(context.Background(), slog.LevelWarn)
}

func TestAllocatorCloseLogsLeaksOnShutdown(t *testing.T) {
	dev := fakedevice.NewSimple(1<<24, 256)
	a, err := NewAllocator(AllocatorCreateDesc{
		Device:        dev,
		DebugSettings: AllocatorDebugSettings{LogLeaksOnShutdown: true},
	})
	require.NoError(t, err)

	_, err = a.Allocate(AllocationCreateDesc{Name: "leaked", Size: 256, Alignment: 1, Location: LocationGpuOnly, Linear: true, MemoryTypeBits: 0b11})
	require.NoError(t, err)

	require.NoError(t, a.Close())
}

func TestAllocatorAllocateRejectsRequestLargerThanHeap(t *testing.T) {
	dev := fakedevice.NewSimple(1<<20, 256)
	a, err := NewAllocator(AllocatorCreateDesc{Device: dev})
	require.NoError(t, err)

	_, err = a.Allocate(AllocationCreateDesc{
		Size: (1 << 20) + 1, Alignment: 1, Location: LocationGpuOnly, Linear: true, MemoryTypeBits: 0b11,
	})
	require.True(t, errors.Is(err, ErrOutOfMemory))
	require.Equal(t, 0, dev.LiveBlocks(), "short-circuit must reject before any block creation is attempted")
}

func TestAllocatorCpuToGpuRetriesAfterDeviceLocalHeapExhausted(t *testing.T) {
	// Type 0: device-local + host-visible + host-coherent, tiny heap (the
	// resizable-BAR-style type CpuToGpu prefers). Type 1: host-visible +
	// host-coherent only, a much larger heap (the fallback).
	dev := fakedevice.New(
		[]fakedevice.Type{
			{Properties: MemoryPropertyDeviceLocal | MemoryPropertyHostVisible | MemoryPropertyHostCoherent, HeapIndex: 0},
			{Properties: MemoryPropertyHostVisible | MemoryPropertyHostCoherent, HeapIndex: 1},
		},
		[]Heap{
			{Size: 256, Flags: HeapFlagDeviceLocal},
			{Size: 1 << 24},
		},
		256,
	)
	a, err := NewAllocator(AllocatorCreateDesc{Device: dev})
	require.NoError(t, err)

	alloc, err := a.Allocate(AllocationCreateDesc{
		Size: 4096, Alignment: 1, Location: LocationCpuToGpu, Linear: true, MemoryTypeBits: 0b11,
	})
	require.NoError(t, err)
	require.False(t, alloc.IsNull())
}

func TestAllocatorDedicatedAllocationForLargeRequest(t *testing.T) {
	// Heap must be large enough to hold a block of DefaultDeviceBlockSize,
	// or the heap-capacity short-circuit would reject the request outright.
	a, dev := newTestAllocator(t, DefaultDeviceBlockSize*2)
	// Larger than the default device block size forces the dedicated path.
	_, err := a.Allocate(AllocationCreateDesc{
		Size: DefaultDeviceBlockSize + 1, Alignment: 1, Location: LocationGpuOnly, Linear: true, MemoryTypeBits: 0b11,
	})
	require.NoError(t, err)
	require.Equal(t, 1, dev.LiveBlocks())
}
