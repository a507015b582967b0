// Package fakedevice provides a dependency-free gpumem.Device
// implementation backed by plain Go byte slices, for use in this module's
// own tests. It mirrors the shape of the teacher's software/noop backend:
// enough behavior to exercise every code path, none of the real driver
// plumbing.
package fakedevice

import (
	"sync"

	"github.com/gogpu/gpumem"
)

// Type describes one memory type the fake device reports, before handles
// are minted.
type Type struct {
	Properties gpumem.MemoryPropertyFlags
	HeapIndex  uint32
}

// Device is a minimal in-process stand-in for a real graphics API adapter.
// Every "device memory object" is just a backing []byte; a mappable block
// reports the placeholder base address 1, not a pointer into that slice.
type Device struct {
	mu          sync.Mutex
	types       []gpumem.MemoryTypeInfo
	heaps       []gpumem.Heap
	granularity uint64
	nextHandle  uint64
	blocks      map[gpumem.DeviceMemoryHandle][]byte

	// CreateErr, when non-nil, is returned by every CreateBlock call
	// instead of succeeding, for exercising allocator error paths.
	CreateErr error
}

// New builds a Device reporting the given types and heaps. granularity is
// the buffer-image granularity to report (use 1 for none).
func New(types []Type, heaps []gpumem.Heap, granularity uint64) *Device {
	d := &Device{
		heaps:       heaps,
		granularity: granularity,
		nextHandle:  1,
		blocks:      make(map[gpumem.DeviceMemoryHandle][]byte),
	}
	for _, t := range types {
		d.types = append(d.types, gpumem.MemoryTypeInfo{Properties: t.Properties, HeapIndex: t.HeapIndex})
	}
	return d
}

// NewSimple builds a Device with one device-local-only type backed by a
// single heap, and one host-visible+host-coherent type backed by a second
// heap, each heapSize bytes. This is the shape most suballocator tests
// need.
func NewSimple(heapSize uint64, granularity uint64) *Device {
	return New(
		[]Type{
			{Properties: gpumem.MemoryPropertyDeviceLocal, HeapIndex: 0},
			{Properties: gpumem.MemoryPropertyHostVisible | gpumem.MemoryPropertyHostCoherent, HeapIndex: 1},
		},
		[]gpumem.Heap{
			{Size: heapSize, Flags: gpumem.HeapFlagDeviceLocal},
			{Size: heapSize},
		},
		granularity,
	)
}

func (d *Device) CreateBlock(size uint64, typeInfo gpumem.MemoryTypeInfo, mappable bool) (gpumem.DeviceMemoryHandle, uintptr, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.CreateErr != nil {
		return 0, 0, d.CreateErr
	}

	handle := gpumem.DeviceMemoryHandle(d.nextHandle)
	d.nextHandle++

	buf := make([]byte, size)
	d.blocks[handle] = buf

	// A real mapped pointer is meaningless for an in-process fake; callers
	// only need MappedPtr() to be non-zero when the block is mappable so
	// they can distinguish mapped from unmapped blocks in tests.
	var base uintptr
	if mappable {
		base = 1
	}

	return handle, base, nil
}

func (d *Device) DestroyBlock(handle gpumem.DeviceMemoryHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.blocks, handle)
}

func (d *Device) MemoryTypes() []gpumem.MemoryTypeInfo {
	return d.types
}

func (d *Device) Heaps() []gpumem.Heap {
	return d.heaps
}

func (d *Device) BufferImageGranularity() uint64 {
	return d.granularity
}

// LiveBlocks returns the number of device memory objects currently
// outstanding (created but not yet destroyed).
func (d *Device) LiveBlocks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.blocks)
}
