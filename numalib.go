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

// Package numalib is the public surface of go-numalib: a NUMA topology
// inventory, thread-to-processor binding, and NUMA-aware allocation
// with first-touch, wired from the five internal components in
// DESIGN.md's module layout (T, O, M, B, A).
package numalib

import (
	"context"
	"fmt"
	"sync"

	"github.com/NVIDIA/go-numalib/internal/alloc"
	"github.com/NVIDIA/go-numalib/internal/barrier"
	"github.com/NVIDIA/go-numalib/internal/bind"
	"github.com/NVIDIA/go-numalib/internal/bitset"
	"github.com/NVIDIA/go-numalib/internal/config"
	"github.com/NVIDIA/go-numalib/internal/log"
	"github.com/NVIDIA/go-numalib/internal/mapping"
	"github.com/NVIDIA/go-numalib/internal/online"
	"github.com/NVIDIA/go-numalib/internal/platform"
	"github.com/NVIDIA/go-numalib/internal/pool"
	"github.com/NVIDIA/go-numalib/internal/rangeset"
	"github.com/NVIDIA/go-numalib/internal/topology"
)

// Re-exported types so callers need only import this package.
type (
	MemPolicy    = platform.MemPolicy
	MappingPolicy = mapping.Policy
	Binding      = mapping.Binding
	AffinityMode = config.AffinityMode
	NumaInfo     = mapping.NumaInfo
	ProcessorInfo = topology.ProcessorInfo
)

const (
	PolicyDefault    = platform.PolicyDefault
	PolicyBind       = platform.PolicyBind
	PolicyInterleave = platform.PolicyInterleave

	Scatter = mapping.Scatter
	Compact = mapping.Compact

	ToCore         = mapping.ToCore
	ToPhysicalCore = mapping.ToPhysicalCore
	ToSocket       = mapping.ToSocket

	AffinityOff            = config.Off
	AffinityLibraryDriven  = config.LibraryDriven
	AffinitySchedulerDriven = config.SchedulerDriven
)

// Library is the process-wide handle init() builds: T, O, M, B, A plus
// the Policy state (spec.md S3), wired together.
type Library struct {
	mu sync.Mutex

	port   platform.Port
	logger log.Logger
	opts   config.Options
	mode   config.AffinityMode

	topo       *topology.Topology
	online     online.Set
	table      *mapping.Table
	pool       *pool.Pool
	binder     *bind.Binder
	registry   *alloc.Registry
	barriers   *barrier.Family
	defaultSet *bitset.Set
}

// Init runs T, O, M, B and allocates the barrier family, in that
// order, per spec.md S6's "init() runs T, O, M, B, barriers in that
// order."
func Init(opts config.Options, logger log.Logger) (*Library, error) {
	if logger == nil {
		logger = log.Discard
	}
	port := platform.Default()

	topo, err := topology.Load(port, opts.AlignSize, logger)
	if err != nil {
		return nil, err
	}

	on, err := online.Resolve(topo, opts.Proclist, port, logger)
	if err != nil {
		return nil, err
	}

	mode := config.Off
	if on.Enabled() {
		mode = config.LibraryDriven
	}

	numThreads := opts.NumThreads
	if numThreads <= 0 || numThreads > len(on.Procs) {
		numThreads = len(on.Procs)
	}

	table, err := mapping.Build(topo, on, numThreads, opts.Mapping, opts.Binding, opts.AvoidHTCore)
	if err != nil {
		return nil, err
	}

	p := pool.New(table.NumWorkers())

	registry := alloc.New(port, table, p, logger)
	barriers := barrier.NewFamily(on.CoresPerNode)

	lib := &Library{
		port:     port,
		logger:   logger,
		opts:     opts,
		mode:     mode,
		topo:     topo,
		online:   on,
		table:    table,
		pool:     p,
		registry: registry,
		barriers: barriers,
	}

	binder, err := bind.New(port, table, &lib.mode, nil)
	if err != nil {
		return nil, err
	}
	lib.binder = binder
	lib.defaultSet = binder.DefaultSet()
	logger.Infof("numalib: init complete, %d workers, affinity mode %v", table.NumWorkers(), mode)
	return lib, nil
}

// SetNumThreads rebuilds M (and B, A's registry stays untouched) for a
// new worker count, without re-probing T or O.
func (l *Library) SetNumThreads(n int) error {
	return l.SetAffinityPolicy(n, l.table.Mapping, l.table.Binding)
}

// SetAffinityPolicy re-runs M and B for a new worker count / mapping /
// binding triple, per spec.md S4.3's re-init path.
func (l *Library) SetAffinityPolicy(n int, m mapping.Policy, b mapping.Binding) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	table, err := mapping.Build(l.topo, l.online, n, m, b, l.opts.AvoidHTCore)
	if err != nil {
		return err
	}
	binder, err := bind.New(l.port, table, &l.mode, l.defaultSet)
	if err != nil {
		return err
	}

	l.table = table
	l.pool = pool.New(table.NumWorkers())
	l.binder = binder
	l.registry = alloc.New(l.port, table, l.pool, l.logger)
	return nil
}

// BindThread pins worker id to its computed processor set.
func (l *Library) BindThread(id int) error { return l.binder.BindThread(id) }

// CheckAndRebind re-samples worker id's OS affinity and rebinds if it
// drifted from bind_set.
func (l *Library) CheckAndRebind(id int) (bind.Result, error) { return l.binder.CheckAndRebind(id) }

// UnbindThread restores worker id's default (pre-init) affinity.
func (l *Library) UnbindThread(id int) error { return l.binder.UnbindThread(id) }

// AllocBind allocates size bytes bound to online node.
func (l *Library) AllocBind(size uintptr, onlineNode int) (uintptr, error) {
	return l.registry.AllocBind(size, onlineNode)
}

// AllocInterleave allocates size bytes interleaved across every online node.
func (l *Library) AllocInterleave(size uintptr) (uintptr, error) {
	return l.registry.AllocInterleave(size)
}

// AllocExplicit allocates size bytes against an explicit policy/node-mask.
func (l *Library) AllocExplicit(size uintptr, policy platform.MemPolicy, nodemask *bitset.Set, maxnode int) (uintptr, error) {
	return l.registry.AllocExplicit(size, policy, nodemask, maxnode)
}

// AllocMempol allocates size bytes against the configured MEMBIND
// node-range (spec.md S6), falling back to every online node.
func (l *Library) AllocMempol(size uintptr, policy platform.MemPolicy) (uintptr, error) {
	var membind []int
	if l.opts.Membind != "" {
		parsed, err := rangeset.Parse(l.opts.Membind)
		if err != nil {
			return 0, fmt.Errorf("numalib: MEMBIND: %w", err)
		}
		membind = parsed
	}
	return l.registry.AllocMempol(size, policy, membind)
}

// Free releases the region based at addr; unknown addresses and 0 are
// no-ops.
func (l *Library) Free(addr uintptr) error { return l.registry.Free(addr) }

// AllFree releases every live region.
func (l *Library) AllFree() error { return l.registry.AllFree() }

// TouchAll runs the parallel first-touch pass over every untouched region.
func (l *Library) TouchAll(ctx context.Context) error { return l.registry.TouchAll(ctx) }

// MemoryUsage returns bytes attributed to each online node and the
// grand total across all live regions.
func (l *Library) MemoryUsage() ([]uint64, uint64) { return l.registry.MemoryUsage() }

// Finalize runs all_free and tears down the registry, per spec.md S6.
func (l *Library) Finalize() error {
	return l.registry.AllFree()
}

// NodeBarrier blocks the calling worker until every online core of its
// node has also called it.
func (l *Library) NodeBarrier(onlineNode int) { l.barriers.Wait(onlineNode) }

// NumWorkers returns the current worker-table size.
func (l *Library) NumWorkers() int { return l.table.NumWorkers() }

// NumaInfo returns worker tid's per-thread NumaInfo record.
func (l *Library) NumaInfo(tid int) (mapping.NumaInfo, error) { return l.table.NumaInfo(tid) }

// GetCPUInfo returns processor idx's ProcessorInfo, wrapping modulo
// NumProcs (spec.md S8).
func (l *Library) GetCPUInfo(idx int) topology.ProcessorInfo { return l.topo.GetCPUInfo(idx) }

// NumProcs returns the number of logical processors T discovered.
func (l *Library) NumProcs() int { return l.topo.NumProcs() }

// NumNodes returns the number of NUMA nodes T discovered.
func (l *Library) NumNodes() int { return l.topo.NumNodes() }

// NumOnlineNodes returns the number of nodes O's processor set spans.
func (l *Library) NumOnlineNodes() int { return l.online.NumNodes() }

// MappingName returns the current mapping policy's configuration name
// ("scatter"/"compact").
func (l *Library) MappingName() string { return l.table.Mapping.String() }

// BindingName returns the current binding policy's configuration name
// ("core"/"physcore"/"socket").
func (l *Library) BindingName() string { return l.table.Binding.String() }

// Topology exposes T for callers needing the full processor table
// (e.g. cmd/numalib-dump).
func (l *Library) Topology() *topology.Topology { return l.topo }

// OnlineSet exposes O for callers needing the online processor list.
func (l *Library) OnlineSet() online.Set { return l.online }
