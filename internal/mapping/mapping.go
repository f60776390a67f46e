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

// Package mapping implements the Mapping Engine (M): turning an online
// set plus a mapping/binding policy into a per-worker processor
// assignment and processor-set table, per spec.md S4.3.
package mapping

import (
	"fmt"
	"sort"

	"github.com/NVIDIA/go-numalib/internal/bitset"
	"github.com/NVIDIA/go-numalib/internal/online"
	"github.com/NVIDIA/go-numalib/internal/topology"
)

// Policy is the mapping layout strategy.
type Policy int

const (
	Scatter Policy = iota
	Compact
)

func (p Policy) String() string {
	if p == Compact {
		return "compact"
	}
	return "scatter"
}

// Binding is the processor-set width bound to each worker.
type Binding int

const (
	ToCore Binding = iota
	ToPhysicalCore
	ToSocket
)

func (b Binding) String() string {
	switch b {
	case ToPhysicalCore:
		return "physcore"
	case ToSocket:
		return "socket"
	default:
		return "core"
	}
}

// NumaInfo is spec.md S3's per-worker-slot record.
type NumaInfo struct {
	ID   int
	Proc int
	Node int
	Core int
	Lnp  int
}

// Table is M's output: wired by set_affinity_policy / Init, consumed by
// the Thread Binder and the Allocator & Touch Engine.
type Table struct {
	Mapping Policy
	Binding Binding

	workers   []NumaInfo
	bindSets  []*bitset.Set // per worker, indexed by worker id
	online    online.Set
	avoidHT   bool
	numWorkers int
}

// Build runs M: UNINIT -> READY per spec.md S4.3's state machine.
// numWorkers may differ from the number of online processors; workers
// beyond that count wrap (proc = idx mod online_procs) per spec.md S8.
func Build(topo *topology.Topology, on online.Set, numWorkers int, mapping Policy, binding Binding, avoidHT bool) (*Table, error) {
	if numWorkers <= 0 {
		return nil, fmt.Errorf("mapping: num_threads must be positive, got %d", numWorkers)
	}
	if len(on.Procs) == 0 {
		return nil, fmt.Errorf("mapping: online set is empty")
	}

	assignment := buildAssignmentOrder(topo, on, mapping, avoidHT)
	if len(assignment) == 0 {
		// AVOID_HTCORE filtered every processor (e.g. single-SMT
		// topology where every proc has smt==0 already prevents this,
		// but guard regardless): fall back to the unfiltered set.
		assignment = buildAssignmentOrder(topo, on, mapping, false)
	}

	workers := make([]NumaInfo, numWorkers)
	bindSets := make([]*bitset.Set, numWorkers)
	perNodeCount := make([]int, on.NumNodes())

	nodeIndexOf := make(map[int]int, len(on.NodeMapping))
	for i, n := range on.NodeMapping {
		nodeIndexOf[n] = i
	}

	for i := 0; i < numWorkers; i++ {
		proc := assignment[i%len(assignment)]
		ci := topo.GetCPUInfo(proc)
		nodeIdx := nodeIndexOf[ci.Node]
		core := perNodeCount[nodeIdx]
		perNodeCount[nodeIdx]++
		workers[i] = NumaInfo{ID: i, Proc: proc, Node: nodeIdx, Core: core}
		bindSets[i] = procSetFor(topo, ci, binding)
	}
	for i := range workers {
		workers[i].Lnp = perNodeCount[workers[i].Node]
	}

	return &Table{
		Mapping:    mapping,
		Binding:    binding,
		workers:    workers,
		bindSets:   bindSets,
		online:     on,
		avoidHT:    avoidHT,
		numWorkers: numWorkers,
	}, nil
}

// buildAssignmentOrder produces the ordered list of processor ids a
// worker index maps onto before wrapping, per spec.md S4.3's scatter /
// compact definitions. Ties within a node break ascending (core, smt).
func buildAssignmentOrder(topo *topology.Topology, on online.Set, mapping Policy, avoidHT bool) []int {
	perNode := make([][]int, on.NumNodes())
	nodeIndexOf := make(map[int]int, len(on.NodeMapping))
	for i, n := range on.NodeMapping {
		nodeIndexOf[n] = i
	}
	for _, proc := range on.Procs {
		ci := topo.GetCPUInfo(proc)
		if avoidHT && ci.SMT > 0 {
			continue
		}
		idx := nodeIndexOf[ci.Node]
		perNode[idx] = append(perNode[idx], proc)
	}
	for i := range perNode {
		sort.Slice(perNode[i], func(a, b int) bool {
			ca, cb := topo.GetCPUInfo(perNode[i][a]), topo.GetCPUInfo(perNode[i][b])
			if ca.Core != cb.Core {
				return ca.Core < cb.Core
			}
			return ca.SMT < cb.SMT
		})
	}

	var order []int
	switch mapping {
	case Compact:
		for _, members := range perNode {
			order = append(order, members...)
		}
	default: // Scatter
		for {
			appended := false
			for i := range perNode {
				if len(perNode[i]) == 0 {
					continue
				}
				order = append(order, perNode[i][0])
				perNode[i] = perNode[i][1:]
				appended = true
			}
			if !appended {
				break
			}
		}
	}
	return order
}

// procSetFor computes the processor-set a worker bound to ci under
// binding is pinned to, per spec.md S4.3's Binding rules.
func procSetFor(topo *topology.Topology, ci topology.ProcessorInfo, binding Binding) *bitset.Set {
	set := bitset.New(topo.NumProcs())
	switch binding {
	case ToPhysicalCore:
		for _, p := range topo.Procs() {
			if p.Node == ci.Node && p.Core == ci.Core {
				set.Set(p.ID)
			}
		}
	case ToSocket:
		for _, p := range topo.Procs() {
			if p.Node == ci.Node {
				set.Set(p.ID)
			}
		}
	default: // ToCore
		set.Set(ci.ID)
	}
	return set
}

// NumWorkers returns the size of the per-thread table.
func (t *Table) NumWorkers() int { return t.numWorkers }

// NumaInfo returns the NumaInfo for worker tid, per DESIGN.md's Open
// Question 3 decision: out-of-range indices fail fast rather than
// wrapping (unlike topology.GetCPUInfo).
func (t *Table) NumaInfo(tid int) (NumaInfo, error) {
	if tid < 0 || tid >= len(t.workers) {
		return NumaInfo{}, fmt.Errorf("mapping: worker index %d out of range [0,%d)", tid, len(t.workers))
	}
	return t.workers[tid], nil
}

// BindSet returns the processor-set worker tid should be bound to.
func (t *Table) BindSet(tid int) (*bitset.Set, error) {
	if tid < 0 || tid >= len(t.bindSets) {
		return nil, fmt.Errorf("mapping: worker index %d out of range [0,%d)", tid, len(t.bindSets))
	}
	return t.bindSets[tid], nil
}

// OnlineSet exposes the online set this table was built from, needed by
// the Allocator & Touch Engine to partition by node.
func (t *Table) OnlineSet() online.Set { return t.online }
