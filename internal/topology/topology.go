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

// Package topology implements the Topology Inventory (T): a one-time
// probe of the platform that publishes immutable processor and node
// tables, per spec.md S4.1.
package topology

import (
	"fmt"

	"github.com/NVIDIA/go-numalib/internal/log"
	"github.com/NVIDIA/go-numalib/internal/numaerr"
	"github.com/NVIDIA/go-numalib/internal/platform"
)

// ProcessorInfo is spec.md S3's immutable per-processor record.
type ProcessorInfo struct {
	ID   int
	Node int
	Core int
	SMT  int
}

// NodeInfo is spec.md S3's per-node record.
type NodeInfo struct {
	MemoryBytes uint64
	PageBytes   uint64
}

// Topology holds the immutable tables T publishes. The zero value is
// not usable; build one with Load.
type Topology struct {
	procs     []ProcessorInfo
	nodes     []NodeInfo
	numCores  int
	numSMTs   int
	alignSize uint64
}

// Load runs T's one-time platform probe and validates its invariants.
// alignOverride, if non-zero, overrides the alignment size (the
// ALIGNSIZE configuration option); a zero override falls back to node
// 0's page size, logged per DESIGN.md's Open Question 2 decision.
func Load(port platform.Port, alignOverride uint64, logger log.Logger) (*Topology, error) {
	if logger == nil {
		logger = log.Discard
	}

	procs, nodes, err := port.Walk()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", numaerr.ErrTopology, err)
	}

	if err := validate(procs); err != nil {
		return nil, err
	}

	if len(nodes) == 0 {
		// Zero nodes -> coerce to one synthetic node holding all
		// processors (spec.md S4.1's "Zero nodes" edge case).
		nodes = []NodeInfo{{PageBytes: port.DefaultPageSize()}}
		for i := range procs {
			procs[i].Node = 0
		}
	}

	numCores := 0
	seenCore := make(map[[2]int]bool)
	for _, p := range procs {
		if p.Node < 0 {
			return nil, fmt.Errorf("%w: negative node index %d for processor %d", numaerr.ErrTopology, p.Node, p.ID)
		}
		key := [2]int{p.Node, p.Core}
		if !seenCore[key] {
			seenCore[key] = true
			numCores++
		}
	}

	total, _ := port.TotalMemory()
	for i := range nodes {
		if nodes[i].PageBytes == 0 {
			nodes[i].PageBytes = port.DefaultPageSize()
			logger.Warnf("topology: node %d reported page size 0, defaulting to %d bytes", i, nodes[i].PageBytes)
		}
		if nodes[i].MemoryBytes == 0 {
			// [SUPPLEMENT] total-RAM fallback, see SPEC_FULL.md.
			nodes[i].MemoryBytes = total
		}
	}

	align := alignOverride
	if align == 0 {
		align = nodes[0].PageBytes
		logger.Warnf("topology: ALIGNSIZE=0 overridden to node 0 page size (%d bytes)", align)
	}

	t := &Topology{
		procs:     procs,
		nodes:     nodes,
		numCores:  numCores,
		numSMTs:   maxSMT(procs) + 1,
		alignSize: align,
	}
	logger.Infof("topology: %d processors, %d nodes, %d cores, %d smts, align=%d",
		t.NumProcs(), t.NumNodes(), t.NumCores(), t.NumSMTs(), t.AlignSize())
	return t, nil
}

func maxSMT(procs []ProcessorInfo) int {
	max := 0
	for _, p := range procs {
		if p.SMT > max {
			max = p.SMT
		}
	}
	return max
}

// validate enforces spec.md S3's ProcessorInfo invariants: unique id,
// unique (node, core, smt), node >= 0.
func validate(procs []ProcessorInfo) error {
	ids := make(map[int]bool, len(procs))
	coords := make(map[[3]int]bool, len(procs))
	for _, p := range procs {
		if ids[p.ID] {
			return fmt.Errorf("%w: duplicate processor id %d", numaerr.ErrTopology, p.ID)
		}
		ids[p.ID] = true

		key := [3]int{p.Node, p.Core, p.SMT}
		if coords[key] {
			return fmt.Errorf("%w: duplicate (node,core,smt)=%v", numaerr.ErrTopology, key)
		}
		coords[key] = true

		if p.Node < 0 {
			return fmt.Errorf("%w: negative node index %d", numaerr.ErrTopology, p.Node)
		}
	}
	return nil
}

// NumProcs returns the number of logical processors.
func (t *Topology) NumProcs() int { return len(t.procs) }

// NumNodes returns the number of NUMA nodes.
func (t *Topology) NumNodes() int { return len(t.nodes) }

// NumCores returns the number of distinct (node, core) pairs.
func (t *Topology) NumCores() int { return t.numCores }

// NumSMTs returns the maximum SMT width observed across all cores.
func (t *Topology) NumSMTs() int { return t.numSMTs }

// AlignSize returns the allocation alignment in bytes.
func (t *Topology) AlignSize() uint64 { return t.alignSize }

// PageSize returns node's page size, defaulting safely for an
// out-of-range index.
func (t *Topology) PageSize(node int) uint64 {
	if node < 0 || node >= len(t.nodes) {
		return t.nodes[0].PageBytes
	}
	return t.nodes[node].PageBytes
}

// MemorySize returns node's reported memory size.
func (t *Topology) MemorySize(node int) uint64 {
	if node < 0 || node >= len(t.nodes) {
		return 0
	}
	return t.nodes[node].MemoryBytes
}

// GetCPUInfo returns the ProcessorInfo for idx, wrapping modulo
// NumProcs for an out-of-range index (spec.md S8's literal "Boundaries"
// property; see DESIGN.md's Open Question 3 for why this one wraps
// while NumaInfo lookups fail fast).
func (t *Topology) GetCPUInfo(idx int) ProcessorInfo {
	if n := t.NumProcs(); n > 0 && idx >= n {
		idx %= n
	}
	if idx < 0 || idx >= len(t.procs) {
		return ProcessorInfo{}
	}
	return t.procs[idx]
}

// Procs returns a copy of the full processor table, for callers that
// need to iterate (O's online-set derivation, diagnostics).
func (t *Topology) Procs() []ProcessorInfo {
	return append([]ProcessorInfo(nil), t.procs...)
}
