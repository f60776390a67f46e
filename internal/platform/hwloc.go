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

//go:build hwloc

// Package platform's hwloc port is an optional third variant (behind
// the "hwloc" build tag, since it cgo-links system libhwloc) grounded
// directly on the teacher's vendored github.com/gpucloud/gohwloc/topology
// binding: same NewTopology/Load/Destroy life-cycle and object-type
// walk, repurposed here to fill ProcessorInfo/NodeInfo instead of a GPU
// PCI device tree.
package platform

import (
	"fmt"

	"github.com/gpucloud/gohwloc/topology"

	"github.com/NVIDIA/go-numalib/internal/bitset"
)

// HwlocPort walks the hwloc object tree instead of sysfs.
type HwlocPort struct{}

func NewHwlocPort() *HwlocPort { return &HwlocPort{} }

func (p *HwlocPort) Name() string { return "hwloc" }

func (p *HwlocPort) DefaultPageSize() uint64 { return defaultPageBytes }

func (p *HwlocPort) TotalMemory() (uint64, error) { return 0, nil }

func (p *HwlocPort) Walk() ([]ProcessorInfo, []NodeInfo, error) {
	t, err := topology.NewTopology()
	if err != nil {
		return nil, nil, fmt.Errorf("platform: hwloc: %w", err)
	}
	if err := t.Load(); err != nil {
		return nil, nil, fmt.Errorf("platform: hwloc load: %w", err)
	}
	defer t.Destroy()

	nNodes, err := t.GetNbobjsByType(topology.HwlocObjNumaNode)
	if err != nil || nNodes == 0 {
		nNodes = 1
	}
	nodes := make([]NodeInfo, nNodes)
	for i := 0; i < nNodes; i++ {
		obj, err := t.GetObjByType(topology.HwlocObjNumaNode, uint(i))
		if err != nil || obj == nil {
			continue
		}
		mem := obj.TotalMemory
		if obj.Attributes != nil && obj.Attributes.NumaNode != nil {
			mem = obj.Attributes.NumaNode.LocalMemory
		}
		nodes[i] = NodeInfo{MemoryBytes: mem, PageBytes: defaultPageBytes}
	}

	nPU, err := t.GetNbobjsByType(topology.HwlocObjPU)
	if err != nil {
		return nil, nil, fmt.Errorf("platform: hwloc: no PU objects: %w", err)
	}
	procs := make([]ProcessorInfo, 0, nPU)
	coreOf := make(map[uint]int)
	smtCounter := make(map[[2]int]int)
	nextCore := 0
	for i := 0; i < nPU; i++ {
		pu, err := t.GetObjByType(topology.HwlocObjPU, uint(i))
		if err != nil || pu == nil {
			continue
		}
		core := pu.Parent
		coreKey := uint(0)
		if core != nil {
			coreKey = core.LogicalIndex
		}
		coreIdx, ok := coreOf[coreKey]
		if !ok {
			coreIdx = nextCore
			coreOf[coreKey] = coreIdx
			nextCore++
		}
		node := nodeOfObj(pu, nNodes)
		key := [2]int{node, coreIdx}
		smt := smtCounter[key]
		smtCounter[key] = smt + 1
		procs = append(procs, ProcessorInfo{ID: int(pu.OSIndex), Node: node, Core: coreIdx, SMT: smt})
	}
	return procs, nodes, nil
}

func nodeOfObj(obj *topology.HwlocObject, nNodes int) int {
	if obj == nil || obj.NodeSet == nil {
		return 0
	}
	for n := 0; n < nNodes; n++ {
		if set, err := obj.NodeSet.IsSet(uint64(n)); err == nil && set {
			return n
		}
	}
	return 0
}

func (p *HwlocPort) ProcessAffinity() (*bitset.Set, error) {
	procs, _, err := p.Walk()
	if err != nil {
		return nil, err
	}
	s := bitset.New(len(procs))
	for _, pr := range procs {
		s.Set(pr.ID)
	}
	return s, nil
}

func (p *HwlocPort) BindThread(procs *bitset.Set) error {
	return fmt.Errorf("platform: hwloc: thread binding not wired through cgo yet")
}

func (p *HwlocPort) CurrentAffinity() (*bitset.Set, error) { return p.ProcessAffinity() }

func (p *HwlocPort) Allocate(size uintptr, policy MemPolicy, nodemask *bitset.Set) (Region, error) {
	return Region{}, fmt.Errorf("platform: hwloc: allocation not wired through cgo yet")
}

func (p *HwlocPort) Release(r Region) error { return nil }
