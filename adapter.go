package gpumem

// DeviceMemoryHandle is an opaque reference to one driver-owned memory
// object, duplicated by value into every Allocation carved from it. It is
// intentionally a plain integer rather than a pointer or cgo type: Vulkan's
// VkDeviceMemory and D3D12/Metal heap handles are all representable as a
// 64-bit value, so adapters can cast their native handle into this without
// this package depending on any particular graphics API's types.
type DeviceMemoryHandle uint64

// MemoryPropertyFlags mirrors the property bits a graphics API reports per
// memory type (Vulkan's VkMemoryPropertyFlags and the analogous D3D12/Metal
// heap properties collapse onto the same small set for this package's
// purposes).
type MemoryPropertyFlags uint32

const (
	// MemoryPropertyDeviceLocal marks memory with fast GPU access.
	MemoryPropertyDeviceLocal MemoryPropertyFlags = 1 << iota
	// MemoryPropertyHostVisible marks memory the CPU can map.
	MemoryPropertyHostVisible
	// MemoryPropertyHostCoherent marks host-visible memory that needs no
	// explicit flush/invalidate.
	MemoryPropertyHostCoherent
	// MemoryPropertyHostCached marks host-visible memory whose CPU reads
	// are cached (fast readback, may need explicit invalidate).
	MemoryPropertyHostCached
	// MemoryPropertyLazilyAllocated marks transient, tile-backed memory.
	MemoryPropertyLazilyAllocated
)

// MemoryTypeInfo describes one driver-reported memory type: which
// properties it has and which heap backs it.
type MemoryTypeInfo struct {
	Properties MemoryPropertyFlags
	HeapIndex  uint32
}

// HeapFlags mirrors a graphics API's per-heap flags.
type HeapFlags uint32

// HeapFlagDeviceLocal marks a heap that lives in device (not system) memory.
const HeapFlagDeviceLocal HeapFlags = 1

// Heap describes one driver-reported memory heap (a budget that one or more
// memory types draw from).
type Heap struct {
	Size  uint64
	Flags HeapFlags
}

// Device is the adapter contract the allocator core consumes. It is the
// only interface a concrete graphics-API binding (Vulkan, D3D12, Metal)
// needs to implement to plug into Allocator; this package never reaches
// past it into any driver-specific type. See internal/fakedevice for a
// dependency-free implementation used by this package's own tests.
type Device interface {
	// CreateBlock reserves a new device memory object of size bytes from
	// the memory type described by typeInfo. If mappable is true the
	// returned mappedBase is the host pointer for the whole block,
	// persistently mapped for the block's lifetime; otherwise mappedBase
	// is 0.
	CreateBlock(size uint64, typeInfo MemoryTypeInfo, mappable bool) (handle DeviceMemoryHandle, mappedBase uintptr, err error)

	// DestroyBlock releases a device memory object previously returned by
	// CreateBlock, unmapping it first if it was mapped.
	DestroyBlock(handle DeviceMemoryHandle)

	// MemoryTypes enumerates the device's memory types, in driver index
	// order. The returned slice's index is the memory type index used
	// throughout Allocation and AllocationCreateDesc.MemoryTypeBits;
	// MemoryTypeInfo.HeapIndex indexes the slice returned by Heaps.
	MemoryTypes() []MemoryTypeInfo

	// Heaps enumerates the device's memory heaps, in driver index order.
	Heaps() []Heap

	// BufferImageGranularity returns the minimum byte separation the
	// driver requires between a linear and a non-linear resource sharing a
	// block. Adapters for APIs without the concept (D3D12, Metal) should
	// return 1.
	BufferImageGranularity() uint64
}
