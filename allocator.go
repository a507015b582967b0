package gpumem

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
)

// dedicatedThresholdFraction: a general allocation request that alone would
// consume more than this fraction of the configured block size for its
// memory type is instead given its own dedicated block. At 1.0 that means
// any request larger than the block size a new general block would get.
const dedicatedThresholdFraction = 1.0

// Allocator is the top-level entry point: it owns one memoryType per
// driver-reported memory type and routes each request to the correct one,
// falling back across memory types and, for CpuToGpu, across property
// strictness when the first choice is unavailable.
type Allocator struct {
	device      Device
	types       []*memoryType
	heaps       []Heap
	granularity uint64
	debug       AllocatorDebugSettings
	blockSize   BlockSizePolicy
	traces      map[allocKey]string
	closed      bool
}

type allocKey struct {
	typeIndex  int
	blockIndex int
	chunkID    uint64
}

// NewAllocator queries desc.Device for its memory types and heaps and
// constructs an Allocator ready to serve Allocate calls.
func NewAllocator(desc AllocatorCreateDesc) (*Allocator, error) {
	if desc.Device == nil {
		return nil, invalidAllocatorCreateDesc("Device must not be nil")
	}

	policy := desc.BlockSizePolicy
	if policy == nil {
		policy = DefaultBlockSizePolicy
	}

	infos := desc.Device.MemoryTypes()
	if len(infos) == 0 {
		return nil, invalidAllocatorCreateDesc("device reports no memory types")
	}

	a := &Allocator{
		device:      desc.Device,
		heaps:       desc.Device.Heaps(),
		granularity: desc.Device.BufferImageGranularity(),
		debug:       desc.DebugSettings,
		blockSize:   policy,
		traces:      make(map[allocKey]string),
	}

	for i, info := range infos {
		mappable := info.Properties&MemoryPropertyHostVisible != 0
		a.types = append(a.types, newMemoryType(i, info, mappable, policy))
	}

	if a.debug.LogMemoryInformation {
		a.logMemoryInformation()
	}

	return a, nil
}

func (a *Allocator) logMemoryInformation() {
	logger := Logger()
	for i, t := range a.types {
		logger.Info("memory type",
			slog.Int("index", i),
			slog.Uint64("heap", uint64(t.info.HeapIndex)),
			slog.Bool("device_local", t.info.Properties&MemoryPropertyDeviceLocal != 0),
			slog.Bool("host_visible", t.info.Properties&MemoryPropertyHostVisible != 0),
			slog.Bool("host_coherent", t.info.Properties&MemoryPropertyHostCoherent != 0),
			slog.Bool("host_cached", t.info.Properties&MemoryPropertyHostCached != 0),
		)
	}
	for i, h := range a.heaps {
		logger.Info("memory heap",
			slog.Int("index", i),
			slog.Uint64("size", h.Size),
			slog.Bool("device_local", h.Flags&HeapFlagDeviceLocal != 0),
		)
	}
}

// requiredAndPreferred returns the property flags a memory type must have
// (required) and should have (preferred) for the given location. Required
// is the minimal set that makes the location semantically meaningful;
// preferred narrows it further when a strictly better type exists.
func requiredAndPreferred(location MemoryLocation) (required, preferred MemoryPropertyFlags) {
	switch location {
	case LocationGpuOnly:
		return 0, MemoryPropertyDeviceLocal
	case LocationCpuToGpu:
		required = MemoryPropertyHostVisible | MemoryPropertyHostCoherent
		preferred = required | MemoryPropertyDeviceLocal
		return required, preferred
	case LocationGpuToCpu:
		required = MemoryPropertyHostVisible | MemoryPropertyHostCoherent
		preferred = required | MemoryPropertyHostCached
		return required, preferred
	default:
		return 0, 0
	}
}

// findMemoryType returns the index of the first memory type accepted by
// memoryTypeBits (a bitmask from the resource's allocation requirements)
// whose properties are a superset of want and whose heap has a non-zero
// size, or -1 if none matches.
func (a *Allocator) findMemoryType(memoryTypeBits uint32, want MemoryPropertyFlags) int {
	return a.findMemoryTypeExcluding(memoryTypeBits, want, -1)
}

// findMemoryTypeExcluding behaves like findMemoryType but skips the type at
// exclude (pass -1 to exclude nothing), so a runtime retry can be pointed at
// a genuinely different memory type rather than re-selecting the one that
// just failed.
func (a *Allocator) findMemoryTypeExcluding(memoryTypeBits uint32, want MemoryPropertyFlags, exclude int) int {
	for _, t := range a.types {
		if t.index == exclude {
			continue
		}
		if memoryTypeBits&(1<<uint(t.index)) == 0 {
			continue
		}
		if t.info.Properties&want != want {
			continue
		}
		if a.heaps[t.info.HeapIndex].Size == 0 {
			continue
		}
		return t.index
	}
	return -1
}

// Allocate reserves desc.Size bytes satisfying desc's constraints, choosing
// a memory type by preferred properties first and falling back to the
// required set if no type offers the preference (the CpuToGpu resizable-BAR
// fallback).
func (a *Allocator) Allocate(desc AllocationCreateDesc) (Allocation, error) {
	if a.closed {
		return Allocation{}, internalf("allocate called on a closed allocator")
	}
	if desc.Size == 0 {
		return Allocation{}, invalidAllocationCreateDesc("size must be non-zero")
	}
	if desc.Alignment == 0 || !isPowerOfTwo(desc.Alignment) {
		return Allocation{}, invalidAllocationCreateDesc("alignment must be a non-zero power of two")
	}
	if desc.MemoryTypeBits == 0 {
		return Allocation{}, invalidAllocationCreateDesc("memoryTypeBits must not be zero")
	}

	required, preferred := requiredAndPreferred(desc.Location)

	typeIndex := a.findMemoryType(desc.MemoryTypeBits, preferred)
	selectedPreferred := typeIndex >= 0
	if typeIndex < 0 {
		typeIndex = a.findMemoryType(desc.MemoryTypeBits, required)
	}
	if typeIndex < 0 {
		return Allocation{}, noCompatibleMemoryType()
	}

	alloc, blockIndex, err := a.allocateFromType(typeIndex, &desc)

	// The CpuToGpu resizable-BAR preference can select a device-local,
	// host-visible type that the driver then fails to carve room from
	// (e.g. a small resizable-BAR heap). Retry once against the first other
	// type that has the required (host-visible, host-coherent) properties
	// before giving up.
	if err != nil && errors.Is(err, ErrOutOfMemory) && desc.Location == LocationCpuToGpu && selectedPreferred {
		if fallbackIndex := a.findMemoryTypeExcluding(desc.MemoryTypeBits, required, typeIndex); fallbackIndex >= 0 {
			typeIndex = fallbackIndex
			alloc, blockIndex, err = a.allocateFromType(typeIndex, &desc)
		}
	}

	if err != nil {
		return Allocation{}, err
	}

	if a.debug.StoreStackTraces {
		a.traces[allocKey{typeIndex, blockIndex, alloc.chunkID}] = string(debug.Stack())
	}
	if a.debug.LogAllocations {
		a.logAllocation(alloc, typeIndex)
	}

	return alloc, nil
}

// allocateFromType performs the heap-capacity short-circuit, the host-
// visible-non-coherent warning, and the dedicated-vs-general decision for a
// single already-selected memory type, then delegates to it.
func (a *Allocator) allocateFromType(typeIndex int, desc *AllocationCreateDesc) (Allocation, int, error) {
	t := a.types[typeIndex]

	if desc.Size > a.heaps[t.info.HeapIndex].Size {
		return Allocation{}, 0, outOfMemory()
	}

	if t.info.Properties&MemoryPropertyHostVisible != 0 && t.info.Properties&MemoryPropertyHostCoherent == 0 {
		Logger().Warn("allocating from host-visible, non-host-coherent memory; caller must flush/invalidate manually",
			slog.Int("memory_type", typeIndex))
	}

	dedicated := float64(desc.Size) > dedicatedThresholdFraction*float64(a.blockSize(t.info, t.activeGeneral))

	return t.allocate(a.device, desc, a.granularity, dedicated)
}

func (a *Allocator) logAllocation(alloc Allocation, typeIndex int) {
	attrs := []any{
		slog.Int("memory_type", typeIndex),
		slog.Uint64("offset", alloc.offset),
		slog.Uint64("size", alloc.size),
		slog.String("name", alloc.name),
	}
	if a.debug.LogStackTraces {
		attrs = append(attrs, slog.String("backtrace", string(debug.Stack())))
	}
	Logger().Debug("allocation created", attrs...)
}

// Free releases alloc back to its memory type. Freeing the zero Allocation
// is a no-op.
func (a *Allocator) Free(alloc Allocation) error {
	if alloc.IsNull() {
		return nil
	}
	if alloc.memoryTypeIndex < 0 || alloc.memoryTypeIndex >= len(a.types) {
		return internalf("free: memory type index %d out of range", alloc.memoryTypeIndex)
	}

	if a.debug.LogFrees {
		attrs := []any{
			slog.Int("memory_type", alloc.memoryTypeIndex),
			slog.Uint64("offset", alloc.offset),
			slog.Uint64("size", alloc.size),
			slog.String("name", alloc.name),
		}
		if a.debug.LogStackTraces {
			attrs = append(attrs, slog.String("backtrace", string(debug.Stack())))
		}
		Logger().Debug("allocation freed", attrs...)
	}

	delete(a.traces, allocKey{alloc.memoryTypeIndex, alloc.memoryBlockIndex, alloc.chunkID})

	return a.types[alloc.memoryTypeIndex].free(a.device, alloc)
}

// RenameAllocation updates the debug label recorded for alloc in its block,
// which is what GenerateReport and leak reports show. alloc is passed by
// value, so the caller's Allocation keeps returning its old Name().
func (a *Allocator) RenameAllocation(alloc Allocation, name string) error {
	if alloc.IsNull() {
		return nil
	}
	if alloc.memoryTypeIndex < 0 || alloc.memoryTypeIndex >= len(a.types) {
		return internalf("rename: memory type index %d out of range", alloc.memoryTypeIndex)
	}
	return a.types[alloc.memoryTypeIndex].rename(alloc, name)
}

// ReportMemoryLeaks logs every still-live allocation at the given level.
func (a *Allocator) ReportMemoryLeaks(ctx context.Context, level slog.Level) {
	logger := Logger()
	for _, t := range a.types {
		t.reportMemoryLeaks(ctx, logger, level)
	}
}

// Close destroys every remaining block across every memory type. If
// AllocatorDebugSettings.LogLeaksOnShutdown is set, live allocations are
// logged first. Close is idempotent.
func (a *Allocator) Close() error {
	if a.closed {
		return nil
	}
	if a.debug.LogLeaksOnShutdown {
		a.ReportMemoryLeaks(context.Background(), slog.LevelWarn)
	}
	for _, t := range a.types {
		t.destroyAll(a.device)
	}
	a.closed = true
	return nil
}

// GenerateReport builds a snapshot of every memory type's blocks and live
// allocations, suitable for logging or returning to a caller's own
// diagnostics surface.
func (a *Allocator) GenerateReport() AllocatorReport {
	report := AllocatorReport{}
	for _, t := range a.types {
		typeReport := MemoryTypeReport{
			Index:      t.index,
			Properties: t.info.Properties,
		}
		for blockIndex, block := range t.blocks {
			if block == nil {
				continue
			}
			blockReport := MemoryBlockReport{
				Index:     blockIndex,
				Size:      block.size,
				Allocated: block.size - block.available(),
			}
			if sub, ok := block.sub.(*freeListAllocator); ok {
				blockReport.Allocations = sub.reportAllocations()
			} else if sub, ok := block.sub.(*dedicatedBlockAllocator); ok {
				blockReport.Allocations = sub.reportAllocations()
			}
			typeReport.Blocks = append(typeReport.Blocks, blockReport)
		}
		report.MemoryTypes = append(report.MemoryTypes, typeReport)
	}
	return report
}
