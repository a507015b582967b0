package gpumem

// Allocation is an opaque handle to one live suballocation. The zero value
// is the null allocation and is always safe to pass to Allocator.Free (a
// no-op).
type Allocation struct {
	chunkID          uint64
	offset           uint64
	size             uint64
	memory           DeviceMemoryHandle
	mappedPtr        uintptr
	memoryTypeIndex  int
	memoryBlockIndex int
	name             string
}

// IsNull reports whether a holds no suballocation.
func (a Allocation) IsNull() bool {
	return a.chunkID == 0
}

// Offset returns the byte offset of the suballocation within Memory().
func (a Allocation) Offset() uint64 {
	return a.offset
}

// Size returns the suballocation's size in bytes.
func (a Allocation) Size() uint64 {
	return a.size
}

// Memory returns the device memory object backing the suballocation.
func (a Allocation) Memory() DeviceMemoryHandle {
	return a.memory
}

// MappedPtr returns the host pointer to Offset() within the mapped block,
// or 0 if the block is not mapped.
func (a Allocation) MappedPtr() uintptr {
	return a.mappedPtr
}

// Name returns the debug label the allocation was created with.
func (a Allocation) Name() string {
	return a.name
}
