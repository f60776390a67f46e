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

package platform

import (
	"fmt"
	"runtime"

	"github.com/NVIDIA/go-numalib/internal/bitset"
)

// DummyPort is the no-binding fallback: every processor belongs to a
// single synthetic node, bind/allocate primitives are no-ops over a
// plain aligned byte slice. It mirrors the original's
// ULIBC_v1.11_dummy variant, used on platforms without sysfs NUMA
// reporting or without privilege to bind.
type DummyPort struct{}

func NewDummyPort() *DummyPort { return &DummyPort{} }

func (p *DummyPort) Name() string { return "dummy" }

func (p *DummyPort) DefaultPageSize() uint64 { return defaultPageBytes }

func (p *DummyPort) TotalMemory() (uint64, error) { return 0, nil }

func (p *DummyPort) Walk() ([]ProcessorInfo, []NodeInfo, error) {
	n := runtime.NumCPU()
	procs := make([]ProcessorInfo, n)
	for i := range procs {
		procs[i] = ProcessorInfo{ID: i, Node: 0, Core: i, SMT: 0}
	}
	nodes := []NodeInfo{{MemoryBytes: 0, PageBytes: defaultPageBytes}}
	return procs, nodes, nil
}

func (p *DummyPort) ProcessAffinity() (*bitset.Set, error) {
	n := runtime.NumCPU()
	s := bitset.New(n)
	for i := 0; i < n; i++ {
		s.Set(i)
	}
	return s, nil
}

func (p *DummyPort) BindThread(procs *bitset.Set) error { return nil }

func (p *DummyPort) CurrentAffinity() (*bitset.Set, error) { return p.ProcessAffinity() }

func (p *DummyPort) Allocate(size uintptr, policy MemPolicy, nodemask *bitset.Set) (Region, error) {
	if size == 0 {
		return Region{}, fmt.Errorf("platform: %w: zero-size allocation", errAllocInvalid)
	}
	size = roundUp2M(size)
	buf := make([]byte, size)
	return Region{Base: sliceAddr(buf), Bytes: size, Routine: RoutineMallocAligned, handle: buf}, nil
}

func (p *DummyPort) Release(r Region) error { return nil }
