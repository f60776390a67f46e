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

package topology

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/go-numalib/internal/bitset"
	"github.com/NVIDIA/go-numalib/internal/platform"
)

// fakePort is a minimal platform.Port double for exercising T in
// isolation, the way the teacher's resource/manager tests double out
// the NVML client rather than mocking it.
type fakePort struct {
	procs       []platform.ProcessorInfo
	nodes       []platform.NodeInfo
	walkErr     error
	totalMemory uint64
}

func (f *fakePort) Name() string { return "fake" }
func (f *fakePort) Walk() ([]platform.ProcessorInfo, []platform.NodeInfo, error) {
	return f.procs, f.nodes, f.walkErr
}
func (f *fakePort) DefaultPageSize() uint64                    { return 4096 }
func (f *fakePort) TotalMemory() (uint64, error)                { return f.totalMemory, nil }
func (f *fakePort) ProcessAffinity() (*bitset.Set, error)       { return bitset.New(0), nil }
func (f *fakePort) BindThread(*bitset.Set) error                { return nil }
func (f *fakePort) CurrentAffinity() (*bitset.Set, error)       { return bitset.New(0), nil }
func (f *fakePort) Allocate(uintptr, platform.MemPolicy, *bitset.Set) (platform.Region, error) {
	return platform.Region{}, nil
}
func (f *fakePort) Release(platform.Region) error { return nil }

func twoNodeFourProc() *fakePort {
	return &fakePort{
		procs: []platform.ProcessorInfo{
			{ID: 0, Node: 0, Core: 0, SMT: 0},
			{ID: 1, Node: 0, Core: 0, SMT: 1},
			{ID: 2, Node: 1, Core: 0, SMT: 0},
			{ID: 3, Node: 1, Core: 1, SMT: 0},
		},
		nodes: []platform.NodeInfo{
			{MemoryBytes: 1 << 30, PageBytes: 1 << 21},
			{MemoryBytes: 1 << 30, PageBytes: 1 << 21},
		},
	}
}

func TestLoadBasic(t *testing.T) {
	topo, err := Load(twoNodeFourProc(), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, topo.NumProcs())
	assert.Equal(t, 2, topo.NumNodes())
	assert.Equal(t, 3, topo.NumCores())
	assert.Equal(t, 2, topo.NumSMTs())
}

func TestLoadZeroNodesCoercesToOne(t *testing.T) {
	port := &fakePort{
		procs: []platform.ProcessorInfo{{ID: 0, Core: 0}, {ID: 1, Core: 1}},
	}
	topo, err := Load(port, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, topo.NumNodes())
	assert.Equal(t, 0, topo.GetCPUInfo(0).Node)
	assert.Equal(t, 0, topo.GetCPUInfo(1).Node)
}

func TestLoadAlignOverride(t *testing.T) {
	topo, err := Load(twoNodeFourProc(), 1<<12, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1<<12, topo.AlignSize())
}

func TestLoadAlignDefaultsToNodeZeroPageSize(t *testing.T) {
	topo, err := Load(twoNodeFourProc(), 0, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1<<21, topo.AlignSize())
}

func TestLoadTotalMemoryFallback(t *testing.T) {
	port := twoNodeFourProc()
	port.nodes[1].MemoryBytes = 0
	port.totalMemory = 42 << 30
	topo, err := Load(port, 0, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 42<<30, topo.MemorySize(1))
}

func TestLoadPropagatesWalkError(t *testing.T) {
	port := &fakePort{walkErr: errors.New("sysfs unreadable")}
	_, err := Load(port, 0, nil)
	assert.Error(t, err)
}

func TestLoadDuplicateProcessorIDIsInvalid(t *testing.T) {
	port := &fakePort{
		procs: []platform.ProcessorInfo{{ID: 0}, {ID: 0}},
		nodes: []platform.NodeInfo{{PageBytes: 4096}},
	}
	_, err := Load(port, 0, nil)
	assert.Error(t, err)
}

func TestGetCPUInfoWrapsModuloNumProcs(t *testing.T) {
	topo, err := Load(twoNodeFourProc(), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, topo.GetCPUInfo(0), topo.GetCPUInfo(4))
	assert.Equal(t, topo.GetCPUInfo(1), topo.GetCPUInfo(9))
}
