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

package numalib

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/go-numalib/internal/config"
)

// TestInitAndLifecycle exercises the full T->O->M->B->A wiring against
// the host's real topology, the way the teacher's replica_test.go
// prefers real code paths over mocks.
func TestInitAndLifecycle(t *testing.T) {
	opts := config.Default()
	lib, err := Init(opts, nil)
	require.NoError(t, err)
	defer lib.Finalize()

	assert.Positive(t, lib.NumProcs())
	assert.Positive(t, lib.NumNodes())
	assert.Positive(t, lib.NumWorkers())
	assert.Equal(t, "scatter", lib.MappingName())
	assert.Equal(t, "core", lib.BindingName())

	ni, err := lib.NumaInfo(0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ni.Node, 0)

	addr, err := lib.AllocBind(1<<20, 0)
	require.NoError(t, err)
	require.NotZero(t, addr)

	require.NoError(t, lib.TouchAll(context.Background()))

	usage, total := lib.MemoryUsage()
	assert.NotEmpty(t, usage)
	assert.Positive(t, total)

	require.NoError(t, lib.Free(addr))
	_, total = lib.MemoryUsage()
	assert.Zero(t, total)
}

func TestSetAffinityPolicyRebuildsMappingAndBinder(t *testing.T) {
	lib, err := Init(config.Default(), nil)
	require.NoError(t, err)
	defer lib.Finalize()

	before := lib.NumWorkers()
	require.NoError(t, lib.SetAffinityPolicy(before, Compact, ToSocket))
	assert.Equal(t, "compact", lib.MappingName())
	assert.Equal(t, "socket", lib.BindingName())
}

func TestInitCapsNumThreadsToOnlineProcessorCount(t *testing.T) {
	opts := config.Default()
	opts.NumThreads = 1 << 20 // far beyond any real online processor count
	lib, err := Init(opts, nil)
	require.NoError(t, err)
	defer lib.Finalize()

	assert.LessOrEqual(t, lib.NumWorkers(), lib.NumProcs())
}

func TestAllocMempolFallsBackToAllOnlineNodes(t *testing.T) {
	lib, err := Init(config.Default(), nil)
	require.NoError(t, err)
	defer lib.Finalize()

	addr, err := lib.AllocMempol(1<<20, PolicyInterleave)
	require.NoError(t, err)
	require.NotZero(t, addr)
	require.NoError(t, lib.Free(addr))
}
