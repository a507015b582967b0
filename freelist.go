package gpumem

import (
	"context"
	"log/slog"
	"sort"
)

// freeListAllocator manages placement in a single block via a doubly
// linked chunk list (indexed by id, not by pointer) plus a free-size index
// used to accelerate a first-best-fit search. Free chunks are coalesced
// eagerly on every free, so no two adjacent chunks are ever both Free.
//
// Chunk ids are minted from a monotonically increasing counter and are
// never reused within the lifetime of the allocator (in practice the id
// space cannot be exhausted). This gives every chunk - including ones
// produced by splitting - a stable identity independent of its position in
// the list.
type freeListAllocator struct {
	blockSize   uint64
	allocSize   uint64
	chunks      map[uint64]*chunk
	freeIndex   map[uint64]map[uint64]struct{} // size -> set of free chunk ids
	nextChunkID uint64
}

func newFreeListAllocator(size uint64) *freeListAllocator {
	f := &freeListAllocator{
		blockSize:   size,
		chunks:      make(map[uint64]*chunk),
		freeIndex:   make(map[uint64]map[uint64]struct{}),
		nextChunkID: 2,
	}
	root := &chunk{id: 1, offset: 0, size: size, kind: AllocationTypeFree}
	f.chunks[root.id] = root
	f.insertFree(root)
	return f
}

func (f *freeListAllocator) newChunkID() uint64 {
	id := f.nextChunkID
	f.nextChunkID++
	return id
}

func (f *freeListAllocator) insertFree(c *chunk) {
	bucket, ok := f.freeIndex[c.size]
	if !ok {
		bucket = make(map[uint64]struct{})
		f.freeIndex[c.size] = bucket
	}
	bucket[c.id] = struct{}{}
}

func (f *freeListAllocator) removeFree(c *chunk) {
	bucket, ok := f.freeIndex[c.size]
	if !ok {
		return
	}
	delete(bucket, c.id)
	if len(bucket) == 0 {
		delete(f.freeIndex, c.size)
	}
}

// sortedFreeChunks returns every free chunk ordered by ascending size, then
// by ascending id (earliest created) to break ties, implementing the
// allocator's best-fit-by-size search order.
func (f *freeListAllocator) sortedFreeChunks() []*chunk {
	sizes := make([]uint64, 0, len(f.freeIndex))
	for size := range f.freeIndex {
		sizes = append(sizes, size)
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] < sizes[j] })

	result := make([]*chunk, 0, len(f.chunks))
	for _, size := range sizes {
		ids := make([]uint64, 0, len(f.freeIndex[size]))
		for id := range f.freeIndex[size] {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			result = append(result, f.chunks[id])
		}
	}
	return result
}

func (f *freeListAllocator) allocate(size, alignment uint64, allocationType AllocationType, granularity uint64, name, backtrace string) (uint64, uint64, error) {
	for _, candidate := range f.sortedFreeChunks() {
		placementOffset := alignUp(candidate.offset, alignment)

		if candidate.prev != 0 {
			prev := f.chunks[candidate.prev]
			if prev != nil && prev.kind != AllocationTypeFree && prev.kind != allocationType && granularity > 0 {
				if (prev.end()-1)/granularity == placementOffset/granularity {
					placementOffset = (placementOffset/granularity + 1) * granularity
				}
			}
		}

		padding := placementOffset - candidate.offset
		// It suffices for the candidate to fit `size` once the starting
		// offset is aligned. The trailing free chunk produced by the split
		// below begins right at placementOffset+size; a later allocation
		// placed there aligns its own start.
		if candidate.size < padding+size {
			continue
		}

		offset, id := f.place(candidate, placementOffset, padding, size, allocationType, name, backtrace)
		return offset, id, nil
	}

	return 0, 0, outOfMemory()
}

// place splits candidate (a free chunk) into an optional leading free
// chunk, the newly allocated chunk, and an optional trailing free chunk.
// All three get freshly minted ids; candidate's own entry is removed from
// both the chunk map and the free-size index.
func (f *freeListAllocator) place(candidate *chunk, placementOffset, padding, size uint64, allocationType AllocationType, name, backtrace string) (uint64, uint64) {
	f.removeFree(candidate)
	delete(f.chunks, candidate.id)

	prevID := candidate.prev
	nextID := candidate.next
	candidateEnd := candidate.end()

	allocPrev := prevID
	if padding > 0 {
		lead := &chunk{
			id:     f.newChunkID(),
			offset: candidate.offset,
			size:   padding,
			kind:   AllocationTypeFree,
			prev:   prevID,
		}
		f.chunks[lead.id] = lead
		if prevID != 0 {
			f.chunks[prevID].next = lead.id
		}
		f.insertFree(lead)
		allocPrev = lead.id
	}

	allocID := f.newChunkID()

	trailingSize := candidateEnd - (placementOffset + size)
	allocNext := nextID
	if trailingSize > 0 {
		trail := &chunk{
			id:     f.newChunkID(),
			offset: placementOffset + size,
			size:   trailingSize,
			kind:   AllocationTypeFree,
			prev:   allocID,
			next:   nextID,
		}
		f.chunks[trail.id] = trail
		if nextID != 0 {
			f.chunks[nextID].prev = trail.id
		}
		f.insertFree(trail)
		allocNext = trail.id
	} else if nextID != 0 {
		f.chunks[nextID].prev = allocID
	}

	if allocPrev != 0 {
		f.chunks[allocPrev].next = allocID
	}

	allocated := &chunk{
		id:        allocID,
		offset:    placementOffset,
		size:      size,
		kind:      allocationType,
		name:      name,
		backtrace: backtrace,
		prev:      allocPrev,
		next:      allocNext,
	}
	f.chunks[allocID] = allocated
	f.allocSize += size

	return placementOffset, allocID
}

func (f *freeListAllocator) free(chunkID uint64) error {
	c, ok := f.chunks[chunkID]
	if !ok {
		return internalf("free list allocator: unknown chunk id %d", chunkID)
	}
	if c.kind == AllocationTypeFree {
		return internalf("free list allocator: double free of chunk id %d", chunkID)
	}

	f.allocSize -= c.size
	c.kind = AllocationTypeFree
	c.name = ""
	c.backtrace = ""

	if c.next != 0 {
		if next := f.chunks[c.next]; next != nil && next.kind == AllocationTypeFree {
			f.removeFree(next)
			c.size += next.size
			c.next = next.next
			if next.next != 0 {
				f.chunks[next.next].prev = c.id
			}
			delete(f.chunks, next.id)
		}
	}

	if c.prev != 0 {
		if prev := f.chunks[c.prev]; prev != nil && prev.kind == AllocationTypeFree {
			f.removeFree(prev)
			prev.size += c.size
			prev.next = c.next
			if c.next != 0 {
				f.chunks[c.next].prev = prev.id
			}
			delete(f.chunks, c.id)
			c = prev
		}
	}

	f.insertFree(c)
	return nil
}

func (f *freeListAllocator) rename(chunkID uint64, name string) error {
	c, ok := f.chunks[chunkID]
	if !ok {
		return internalf("free list allocator: unknown chunk id %d", chunkID)
	}
	c.name = name
	return nil
}

func (f *freeListAllocator) reportAllocations() []AllocationReport {
	var reports []AllocationReport
	for _, c := range f.chunks {
		if c.kind == AllocationTypeFree {
			continue
		}
		reports = append(reports, AllocationReport{ChunkID: c.id, Offset: c.offset, Size: c.size, Name: c.name})
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Offset < reports[j].Offset })
	return reports
}

func (f *freeListAllocator) reportMemoryLeaks(ctx context.Context, logger *slog.Logger, level slog.Level, memoryTypeIndex, memoryBlockIndex int) {
	for _, r := range f.reportAllocations() {
		logger.Log(ctx, level, "leak detected: suballocation",
			slog.Int("memory_type", memoryTypeIndex),
			slog.Int("memory_block", memoryBlockIndex),
			slog.Uint64("chunk_id", r.ChunkID),
			slog.Uint64("offset", r.Offset),
			slog.Uint64("size", r.Size),
			slog.String("name", r.Name),
		)
	}
}

func (f *freeListAllocator) supportsGeneralAllocations() bool { return true }

func (f *freeListAllocator) size() uint64 { return f.blockSize }

func (f *freeListAllocator) allocated() uint64 { return f.allocSize }
