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

// Package online implements the Online Set (O): filtering T down to the
// processors this process may actually use, per spec.md S4.2.
package online

import (
	"fmt"
	"sort"

	"github.com/NVIDIA/go-numalib/internal/bitset"
	"github.com/NVIDIA/go-numalib/internal/log"
	"github.com/NVIDIA/go-numalib/internal/numaerr"
	"github.com/NVIDIA/go-numalib/internal/platform"
	"github.com/NVIDIA/go-numalib/internal/rangeset"
	"github.com/NVIDIA/go-numalib/internal/topology"
)

// Mode distinguishes why a processor list was chosen, spec.md S3's
// OnlineSet "enabled" flag.
type Mode int

const (
	// ModeAll means neither the affinity mask nor PROCLIST restricted
	// the process; binding is a library no-op (affinity mode "off").
	ModeAll Mode = iota
	// ModeAffinityMask means the OS process affinity mask restricted us.
	ModeAffinityMask
	// ModeProclist means a configured PROCLIST restricted us.
	ModeProclist
)

// Set is O's output: the sorted, deduplicated list of usable processor
// indices and how it was derived, plus the derived online-node table
// spec.md S3's Policy state needs ("online-node count, node-mapping
// table, per-online-node core count").
type Set struct {
	Procs []int
	Mode  Mode

	// NodeMapping maps online-node index -> platform node index,
	// ordered by first appearance when walking Procs ascending.
	NodeMapping []int
	// CoresPerNode[i] is the number of online processors belonging to
	// NodeMapping[i], independent of any later worker-count choice.
	CoresPerNode []int
}

// NumNodes returns the number of online nodes.
func (s Set) NumNodes() int { return len(s.NodeMapping) }

// deriveNodes fills NodeMapping/CoresPerNode from Procs by walking
// topo's per-processor node assignment, matching make_numainfo's
// first-encountered node ordering.
func deriveNodes(s *Set, topo *topology.Topology) {
	index := make(map[int]int)
	for _, proc := range s.Procs {
		node := topo.GetCPUInfo(proc).Node
		if _, ok := index[node]; !ok {
			index[node] = len(s.NodeMapping)
			s.NodeMapping = append(s.NodeMapping, node)
			s.CoresPerNode = append(s.CoresPerNode, 0)
		}
		s.CoresPerNode[index[node]]++
	}
}

// Resolve computes O from T, an optional PROCLIST expression (empty
// means "none configured"), and the platform's process affinity mask.
func Resolve(topo *topology.Topology, proclist string, port platform.Port, logger log.Logger) (Set, error) {
	if logger == nil {
		logger = log.Discard
	}

	if proclist != "" {
		procs, err := rangeset.Parse(proclist)
		if err != nil {
			return Set{}, fmt.Errorf("%w: PROCLIST: %v", numaerr.ErrConfig, err)
		}
		procs = clampToTopology(procs, topo.NumProcs())
		logger.Infof("online: PROCLIST restricts to %d processors", len(procs))
		s := Set{Procs: procs, Mode: ModeProclist}
		deriveNodes(&s, topo)
		return s, nil
	}

	mask, err := port.ProcessAffinity()
	if err != nil {
		return Set{}, fmt.Errorf("%w: reading process affinity: %v", numaerr.ErrTopology, err)
	}
	affinityProcs := clampToTopology(mask.Bits(), topo.NumProcs())

	if len(affinityProcs) > 0 && len(affinityProcs) < topo.NumProcs() {
		logger.Infof("online: process affinity mask restricts to %d of %d processors", len(affinityProcs), topo.NumProcs())
		s := Set{Procs: affinityProcs, Mode: ModeAffinityMask}
		deriveNodes(&s, topo)
		return s, nil
	}

	all := make([]int, topo.NumProcs())
	for i := range all {
		all[i] = i
	}
	s := Set{Procs: all, Mode: ModeAll}
	deriveNodes(&s, topo)
	return s, nil
}

func clampToTopology(procs []int, numProcs int) []int {
	set := bitset.New(numProcs)
	for _, p := range procs {
		if p >= 0 && p < numProcs {
			set.Set(p)
		}
	}
	out := set.Bits()
	sort.Ints(out)
	return out
}

// Enabled reports whether O actually restricts the process (spec.md
// S4.2's distinction between "user restricted us" and "platform
// default").
func (s Set) Enabled() bool { return s.Mode != ModeAll }
