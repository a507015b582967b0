// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

// Package gpumem implements a graphics-API-agnostic sub-allocator for GPU
// device memory.
//
// A real driver hands out memory in coarse, expensive-to-create blocks
// (VkDeviceMemory objects, D3D12 heaps, MTLHeaps). This package carves
// individual resource-sized allocations out of a small number of such
// blocks, so callers rarely need to talk to the driver at all.
//
//	Allocator
//	  └── memoryType (one per driver-reported memory type)
//	        └── memoryBlock (one per driver memory object)
//	              └── subAllocator: dedicatedBlockAllocator | freeListAllocator
//
// Allocator.Allocate picks a memory type from the caller's MemoryLocation
// and the resource's memoryTypeBits mask, falling back from a preferred set
// of memory properties to the minimally required set if no type offers the
// preference. Within a memory type, requests large enough to warrant their
// own block get a dedicatedBlockAllocator; everything else is placed by a
// freeListAllocator, a best-fit, eagerly-coalescing doubly linked chunk
// list that also enforces the driver's buffer-image granularity separation
// between linear and non-linear resources sharing a block.
//
// This package never talks to a graphics API directly: every block
// creation, destruction, and property query goes through the Device
// interface, which the caller supplies. See internal/fakedevice for a
// dependency-free implementation used by this package's own tests.
package gpumem
