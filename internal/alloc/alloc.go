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

// Package alloc implements the Allocator & Touch Engine (A): the
// address-keyed region registry, bind/interleave/explicit allocation,
// the parallel first-touch pass, per-node usage reduction, and bulk
// release, per spec.md S4.5.
package alloc

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/google/uuid"

	"github.com/NVIDIA/go-numalib/internal/barrier"
	"github.com/NVIDIA/go-numalib/internal/bitset"
	"github.com/NVIDIA/go-numalib/internal/log"
	"github.com/NVIDIA/go-numalib/internal/mapping"
	"github.com/NVIDIA/go-numalib/internal/numaerr"
	"github.com/NVIDIA/go-numalib/internal/online"
	"github.com/NVIDIA/go-numalib/internal/platform"
	"github.com/NVIDIA/go-numalib/internal/pool"
)

// Region is spec.md S3's per-allocation record. The registry is keyed
// by Base; callers only ever see Base (the "address" returned to the
// caller).
type Region struct {
	Base     uintptr
	Bytes    uintptr
	Touched  bool
	Routine  platform.Routine
	Policy   platform.MemPolicy
	NodeMask *bitset.Set // bits are online-node indices
	MaxNode  int
	TraceID  uuid.UUID

	platformRegion platform.Region
	touchCounter   int64 // reset by worker 0, fetch-added by masked workers; see TouchAll
}

// Registry is A: an ordered map from base address to Region, plus the
// touch-all protocol and the per-node usage reduction.
type Registry struct {
	mu      sync.Mutex
	regions []*Region // sorted ascending by Base; O(log n) insert/lookup via binary search

	port   platform.Port
	table  *mapping.Table
	online online.Set
	pool   *pool.Pool
	logger log.Logger
}

// New builds a Registry over table's worker pool, used for both
// allocation bookkeeping and the touch-all / memory_usage operations.
func New(port platform.Port, table *mapping.Table, p *pool.Pool, logger log.Logger) *Registry {
	if logger == nil {
		logger = log.Discard
	}
	return &Registry{port: port, table: table, online: table.OnlineSet(), pool: p, logger: logger}
}

func roundUp2M(size uintptr) uintptr {
	const align = 1 << 21
	return (size + align - 1) &^ (align - 1)
}

// AllocBind allocates size bytes bound to a single online node
// (spec.md S4.5's alloc_bind).
func (r *Registry) AllocBind(size uintptr, onlineNode int) (uintptr, error) {
	if size == 0 {
		return 0, nil
	}
	if onlineNode < 0 || onlineNode >= r.online.NumNodes() {
		return 0, fmt.Errorf("%w: alloc_bind: online node %d out of range", numaerr.ErrConfig, onlineNode)
	}
	mask := bitset.New(r.online.NumNodes())
	mask.Set(onlineNode)
	return r.allocExplicitLocked(size, platform.PolicyBind, mask, r.online.NumNodes())
}

// AllocInterleave allocates size bytes round-robin across every online
// node (spec.md S4.5's alloc_interleave).
func (r *Registry) AllocInterleave(size uintptr) (uintptr, error) {
	if size == 0 {
		return 0, nil
	}
	mask := bitset.New(r.online.NumNodes())
	for i := 0; i < r.online.NumNodes(); i++ {
		mask.Set(i)
	}
	return r.allocExplicitLocked(size, platform.PolicyInterleave, mask, r.online.NumNodes())
}

// AllocExplicit allocates size bytes against a caller-supplied policy
// and node-mask (spec.md S4.5's alloc_explicit).
func (r *Registry) AllocExplicit(size uintptr, policy platform.MemPolicy, nodemask *bitset.Set, maxnode int) (uintptr, error) {
	if size == 0 {
		return 0, nil
	}
	return r.allocExplicitLocked(size, policy, nodemask, maxnode)
}

// AllocMempol allocates against MEMBIND's configured node-mask (or
// every online node if unset), per spec.md S4.5 and S6.
func (r *Registry) AllocMempol(size uintptr, policy platform.MemPolicy, membind []int) (uintptr, error) {
	if size == 0 {
		return 0, nil
	}
	mask := bitset.New(r.online.NumNodes())
	if len(membind) > 0 {
		for _, n := range membind {
			if n >= 0 && n < r.online.NumNodes() {
				mask.Set(n)
			}
		}
	} else {
		for i := 0; i < r.online.NumNodes(); i++ {
			mask.Set(i)
		}
	}
	return r.allocExplicitLocked(size, policy, mask, r.online.NumNodes())
}

func (r *Registry) allocExplicitLocked(size uintptr, policy platform.MemPolicy, nodemask *bitset.Set, maxnode int) (uintptr, error) {
	platformMask := bitset.New(r.online.NumNodes())
	for _, onlineNode := range nodemask.Bits() {
		if onlineNode >= 0 && onlineNode < len(r.online.NodeMapping) {
			platformMask.Set(r.online.NodeMapping[onlineNode])
		}
	}

	size = roundUp2M(size)
	pr, err := r.port.Allocate(size, policy, platformMask)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", numaerr.ErrAlloc, err)
	}

	region := &Region{
		Base:           pr.Base,
		Bytes:          pr.Bytes,
		Routine:        pr.Routine,
		Policy:         policy,
		NodeMask:       nodemask.Clone(),
		MaxNode:        maxnode,
		TraceID:        uuid.New(),
		platformRegion: pr,
	}

	r.mu.Lock()
	r.insertLocked(region)
	r.mu.Unlock()

	r.logger.Tracef("alloc: region %s base=0x%x bytes=%d policy=%v nodemask=%v", region.TraceID, region.Base, region.Bytes, policy, nodemask.Bits())
	return region.Base, nil
}

// insertLocked inserts region keeping r.regions sorted by Base; caller
// holds r.mu.
func (r *Registry) insertLocked(region *Region) {
	i := sort.Search(len(r.regions), func(i int) bool { return r.regions[i].Base >= region.Base })
	r.regions = append(r.regions, nil)
	copy(r.regions[i+1:], r.regions[i:])
	r.regions[i] = region
}

func (r *Registry) findLocked(addr uintptr) int {
	i := sort.Search(len(r.regions), func(i int) bool { return r.regions[i].Base >= addr })
	if i < len(r.regions) && r.regions[i].Base == addr {
		return i
	}
	return -1
}

// Free removes the region based at addr and releases its platform
// memory. Freeing an unknown address or 0 is a no-op (spec.md S4.5/S7).
func (r *Registry) Free(addr uintptr) error {
	if addr == 0 {
		return nil
	}
	r.mu.Lock()
	i := r.findLocked(addr)
	if i < 0 {
		r.mu.Unlock()
		return nil
	}
	region := r.regions[i]
	r.regions = append(r.regions[:i], r.regions[i+1:]...)
	r.mu.Unlock()

	if err := r.port.Release(region.platformRegion); err != nil {
		return fmt.Errorf("alloc: release region %s: %w", region.TraceID, err)
	}
	r.logger.Tracef("alloc: freed region %s base=0x%x", region.TraceID, region.Base)
	return nil
}

// AllFree drains the registry, releasing every region.
func (r *Registry) AllFree() error {
	r.mu.Lock()
	regions := r.regions
	r.regions = nil
	r.mu.Unlock()

	var firstErr error
	for _, region := range regions {
		if err := r.port.Release(region.platformRegion); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("alloc: release region %s: %w", region.TraceID, err)
		}
	}
	return firstErr
}

// MemoryUsage implements spec.md S4.5's per-node usage reduction:
// ceil(bytes/k) added to each of a region's k masked online nodes.
func (r *Registry) MemoryUsage() ([]uint64, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]uint64, r.online.NumNodes())
	var total uint64
	for _, region := range r.regions {
		bits := region.NodeMask.Bits()
		k := len(bits)
		if k == 0 {
			continue
		}
		share := (uint64(region.Bytes) + uint64(k) - 1) / uint64(k)
		for _, node := range bits {
			if node >= 0 && node < len(out) {
				out[node] += share
			}
		}
		total += uint64(region.Bytes)
	}
	return out, total
}

// TouchAll implements spec.md S4.5's touch-all protocol: every
// untouched region is partitioned across the workers of its masked
// node(s) and faulted page-by-page from those workers.
func (r *Registry) TouchAll(ctx context.Context) error {
	r.mu.Lock()
	var untouched []*Region
	for _, region := range r.regions {
		if !region.Touched {
			untouched = append(untouched, region)
		}
	}
	r.mu.Unlock()

	if len(untouched) == 0 {
		return nil
	}

	n := r.table.NumWorkers()
	wholeBarrier := barrier.NewCyclic(n)

	err := r.pool.Dispatch(ctx, func(ctx context.Context, id int) error {
		ni, err := r.table.NumaInfo(id)
		if err != nil {
			return err
		}

		// The writes below must land on ni.Node's memory. Go's scheduler
		// is free to migrate this goroutine across OS threads between
		// any two Go statements, so the sched_setaffinity call below
		// only sticks if the OS thread it targets is the one this
		// goroutine keeps running on for the rest of the pass.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		self := bitset.New(ni.Proc + 1)
		self.Set(ni.Proc)
		if err := r.port.BindThread(self); err != nil {
			return fmt.Errorf("alloc: touch-all bind worker %d to proc %d: %w", id, ni.Proc, err)
		}

		for _, region := range untouched {
			if id == 0 {
				atomic.StoreInt64(&region.touchCounter, 0)
			}
			wholeBarrier.Wait() // point (a): worker 0's reset happens-before every release

			if region.NodeMask.IsSet(ni.Node) {
				corrNthrs := sumCores(r.online, region.NodeMask)
				corrThrid := int(atomic.AddInt64(&region.touchCounter, 1) - 1)
				if corrNthrs > 0 && corrThrid < corrNthrs {
					touchSlice(region, corrThrid, corrNthrs, r.port.DefaultPageSize())
				}
				if corrThrid == 0 {
					region.Touched = true
				}
			}
			wholeBarrier.Wait() // point (e): before advancing
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Fallback pass: any region whose mask was empty is not partitioned
	// by node; its byte range is split evenly across every worker of
	// the pool and stride-touched in parallel, per spec.md S4.5 step 4.
	for _, region := range untouched {
		if region.NodeMask.Count() == 0 {
			region := region
			nthrs := r.pool.Size()
			if err := r.pool.Dispatch(ctx, func(_ context.Context, id int) error {
				touchSlice(region, id, nthrs, r.port.DefaultPageSize())
				return nil
			}); err != nil {
				return err
			}
			region.Touched = true
		}
	}
	return nil
}

func sumCores(on online.Set, mask *bitset.Set) int {
	sum := 0
	for _, node := range mask.Bits() {
		if node >= 0 && node < len(on.CoresPerNode) {
			sum += on.CoresPerNode[node]
		}
	}
	return sum
}

// touchSlice writes one dummy byte per page of the [start,end) share of
// region's byte range owned by partition id out of nthrs, per
// get_partial_range in the original source.
func touchSlice(region *Region, id, nthrs int, pageSize uint64) {
	if region.Bytes == 0 || pageSize == 0 {
		return
	}
	qt := int64(region.Bytes) / int64(nthrs)
	rm := int64(region.Bytes) % int64(nthrs)
	lo := qt*int64(id) + min64(int64(id), rm)
	hi := qt*int64(id+1) + min64(int64(id+1), rm)

	buf := unsafe.Slice((*byte)(unsafe.Pointer(region.Base)), region.Bytes)
	for k := lo; k < hi; k += int64(pageSize) {
		buf[k] = 0xff
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
