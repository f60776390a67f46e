//go:build linux

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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/go-numalib/internal/bitset"
)

// writeFile creates path's parent directories and writes content.
func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// fakeSysfs builds a minimal /sys tree for a 2-node, 2-core, 2-SMT host
// (4 logical CPUs), the shape src/linux_topology.c's fill_cpuinfo walks.
func fakeSysfs(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	type cpu struct{ id, core, node int }
	cpus := []cpu{{0, 0, 0}, {1, 0, 0}, {2, 1, 1}, {3, 1, 1}}
	for _, c := range cpus {
		writeFile(t, filepath.Join(root, "devices/system/cpu", cpuName(c.id), "topology/core_id"), itoa(c.core))
	}

	for _, node := range []int{0, 1} {
		nodeDir := filepath.Join(root, "devices/system/node", nodeName(node))
		writeFile(t, filepath.Join(nodeDir, "meminfo"), nodeMeminfoLine(node))
		for _, c := range cpus {
			if c.node != node {
				continue
			}
			require.NoError(t, os.MkdirAll(filepath.Join(nodeDir, cpuName(c.id)), 0o755))
		}
	}
	return root
}

func cpuName(id int) string  { return "cpu" + itoa(id) }
func nodeName(id int) string { return "node" + itoa(id) }
func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	digits := ""
	for v > 0 {
		digits = string(rune('0'+v%10)) + digits
		v /= 10
	}
	return digits
}
func nodeMeminfoLine(node int) string {
	return "Node " + itoa(node) + " MemTotal:       16777216 kB\n"
}

func TestLinuxPortWalk(t *testing.T) {
	p := &LinuxPort{sysRoot: fakeSysfs(t)}
	procs, nodes, err := p.Walk()
	require.NoError(t, err)

	require.Len(t, procs, 4)
	require.Len(t, nodes, 2)

	byID := map[int]ProcessorInfo{}
	for _, pr := range procs {
		byID[pr.ID] = pr
	}
	assert.Equal(t, 0, byID[0].Node)
	assert.Equal(t, 1, byID[2].Node)
	assert.Equal(t, 0, byID[0].SMT)
	assert.Equal(t, 1, byID[1].SMT) // shares core 0 on node 0 with cpu0

	assert.EqualValues(t, 16777216*1024, nodes[0].MemoryBytes)
}

func TestLinuxPortWalkMissingCPUDirFails(t *testing.T) {
	p := &LinuxPort{sysRoot: t.TempDir()}
	_, _, err := p.Walk()
	assert.Error(t, err)
}

func TestNodemaskWords(t *testing.T) {
	mask := bitset.New(70)
	mask.Set(0)
	mask.Set(65)
	words := nodemaskWords(mask)
	require.Len(t, words, 2)
	assert.Equal(t, uint64(1), words[0])
	assert.Equal(t, uint64(1<<1), words[1])
}

func TestMempolModeFor(t *testing.T) {
	assert.Equal(t, mpolBind, mempolModeFor(PolicyBind))
	assert.Equal(t, mpolInterleave, mempolModeFor(PolicyInterleave))
	assert.Equal(t, mpolDefault, mempolModeFor(PolicyDefault))
}
