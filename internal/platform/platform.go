/*
 * Copyright (c) 2024, NVIDIA CORPORATION.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package platform isolates the handful of side-effecting primitives
// the core needs from the host: enumerating processors with their
// (node, core, smt) coordinates, binding the calling thread to a
// processor set, and binding/allocating a virtual memory range against
// a node mask. Per spec.md S9's "Platform dispatch" design note, the
// core is written against the Port interface; dummyport, linuxport and
// the build-tag-gated hwlocport are the concrete variants, differing
// only in which pair of primitives they call. The hwloc port implements
// only the topology walk: its BindThread and Allocate return errors.
package platform

import (
	"fmt"
	"unsafe"

	"github.com/NVIDIA/go-numalib/internal/bitset"
)

// defaultPageBytes is the fallback page size used when the probe
// reports zero (spec.md S4.1's "typical 2 MiB").
const defaultPageBytes = 2 << 20

var errAllocInvalid = fmt.Errorf("invalid allocation")

// roundUp2M rounds size up to a 2 MiB multiple so first-touch passes
// stay page-aligned within the region (spec.md S4.5's alloc_bind note).
func roundUp2M(size uintptr) uintptr {
	const align = 1 << 21
	return (size + align - 1) &^ (align - 1)
}

// sliceAddr returns the address of a byte slice's backing array, used
// by ports that allocate via a plain Go slice rather than mmap.
func sliceAddr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

// ProcessorInfo mirrors spec.md S3's ProcessorInfo record.
type ProcessorInfo struct {
	ID   int
	Node int
	Core int
	SMT  int
}

// NodeInfo mirrors spec.md S3's NodeInfo record.
type NodeInfo struct {
	MemoryBytes uint64
	PageBytes   uint64
}

// MemPolicy is the memory policy attached to an allocated region.
type MemPolicy int

const (
	PolicyDefault MemPolicy = iota
	PolicyBind
	PolicyInterleave
)

// Routine identifies which allocate/release primitive pair produced a
// region, per spec.md S3's Region.routine field.
type Routine int

const (
	RoutineMallocAligned Routine = iota
	RoutineMmapBind
	RoutineNative
)

// Region is a platform-allocated virtual memory range together with
// enough information for Release to undo it.
type Region struct {
	Base    uintptr
	Bytes   uintptr
	Routine Routine
	handle  any // platform-private release bookkeeping
}

// Port is the two-function dispatch surface spec.md S9 asks for,
// expanded to the handful of primitives the core actually calls.
type Port interface {
	// Name identifies the port for diagnostics.
	Name() string

	// Walk performs the one-time DFS topology probe (spec.md S4.1).
	// The returned slices are indexed by processor id / node index.
	Walk() ([]ProcessorInfo, []NodeInfo, error)

	// DefaultPageSize is the fallback page size used when the probe
	// reports zero (spec.md S4.1's "typical 2 MiB").
	DefaultPageSize() uint64

	// TotalMemory is the supplemental total-RAM fallback used when a
	// node's own memory size can't be determined.
	TotalMemory() (uint64, error)

	// ProcessAffinity returns the OS process affinity mask, used by O
	// when no PROCLIST override is configured.
	ProcessAffinity() (*bitset.Set, error)

	// BindThread pins the calling OS thread to the given processor
	// set. Implementations must not retry on failure (spec.md S4.4).
	BindThread(procs *bitset.Set) error

	// CurrentAffinity samples what the OS says the calling thread is
	// currently bound to.
	CurrentAffinity() (*bitset.Set, error)

	// Allocate reserves `size` bytes (already rounded by the caller)
	// and binds it per policy/nodemask, where nodemask bits are
	// platform node indices (not online-node indices).
	Allocate(size uintptr, policy MemPolicy, nodemask *bitset.Set) (Region, error)

	// Release undoes a Region produced by Allocate.
	Release(Region) error
}
