package gpumem

import (
	"fmt"
	"strings"
)

// MemoryBlockReport snapshots one block's occupancy and live allocations.
type MemoryBlockReport struct {
	Index       int
	Size        uint64
	Allocated   uint64
	Allocations []AllocationReport
}

// MemoryTypeReport snapshots one memory type's blocks.
type MemoryTypeReport struct {
	Index      int
	Properties MemoryPropertyFlags
	Blocks     []MemoryBlockReport
}

// AllocatorReport is a point-in-time snapshot of every memory type, block,
// and live allocation an Allocator manages. See Allocator.GenerateReport.
type AllocatorReport struct {
	MemoryTypes []MemoryTypeReport
}

// String renders the report as a human-readable breakdown, sorted by
// memory type then block index, mirroring the allocator's own debug dump.
func (r AllocatorReport) String() string {
	var b strings.Builder

	var totalAllocated, totalCapacity uint64
	for _, t := range r.MemoryTypes {
		for _, block := range t.Blocks {
			totalAllocated += block.Allocated
			totalCapacity += block.Size
		}
	}
	fmt.Fprintf(&b, "total: %s used, %s reserved\n", formatBytes(totalAllocated), formatBytes(totalCapacity))

	for _, t := range r.MemoryTypes {
		fmt.Fprintf(&b, "memory type %d:\n", t.Index)
		for _, block := range t.Blocks {
			fmt.Fprintf(&b, "  block %d: %s / %s\n", block.Index, formatBytes(block.Allocated), formatBytes(block.Size))
			for _, alloc := range block.Allocations {
				name := alloc.Name
				if name == "" {
					name = "<unnamed>"
				}
				fmt.Fprintf(&b, "    chunk %d: offset=%s size=%s name=%q\n",
					alloc.ChunkID, formatBytes(alloc.Offset), formatBytes(alloc.Size), name)
			}
		}
	}

	return b.String()
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	units := "KMGTPE"
	return fmt.Sprintf("%.2f %ciB", float64(n)/float64(div), units[exp])
}
