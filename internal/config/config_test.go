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

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/go-numalib/internal/mapping"
)

func TestParseAffinityScatterCore(t *testing.T) {
	opt := Default()
	require.NoError(t, ParseAffinity(&opt, "scatter:core"))
	assert.Equal(t, mapping.Scatter, opt.Mapping)
	assert.Equal(t, mapping.ToCore, opt.Binding)
}

func TestParseAffinityCompactSocket(t *testing.T) {
	opt := Default()
	require.NoError(t, ParseAffinity(&opt, "compact:socket"))
	assert.Equal(t, mapping.Compact, opt.Mapping)
	assert.Equal(t, mapping.ToSocket, opt.Binding)
}

func TestParseAffinityMappingOnly(t *testing.T) {
	opt := Default()
	require.NoError(t, ParseAffinity(&opt, "compact"))
	assert.Equal(t, mapping.Compact, opt.Mapping)
	assert.Equal(t, mapping.ToCore, opt.Binding, "binding keeps its default when unset")
}

func TestParseAffinityEmptyIsNotAnError(t *testing.T) {
	opt := Default()
	require.NoError(t, ParseAffinity(&opt, ""))
	assert.Equal(t, Default(), opt)
}

func TestParseAffinityUnknownMapping(t *testing.T) {
	opt := Default()
	err := ParseAffinity(&opt, "diagonal:core")
	assert.Error(t, err)
}

func TestParseAffinityUnknownBinding(t *testing.T) {
	opt := Default()
	err := ParseAffinity(&opt, "scatter:l3")
	assert.Error(t, err)
}

func TestParseVerboseClamps(t *testing.T) {
	v, err := ParseVerbose("99")
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	v, err = ParseVerbose("-5")
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	v, err = ParseVerbose("")
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	_, err = ParseVerbose("nope")
	assert.Error(t, err)
}

func TestFlagsCoverEveryOption(t *testing.T) {
	opt := Default()
	names := make(map[string]bool)
	for _, f := range opt.Flags() {
		names[f.Names()[0]] = true
	}
	for _, want := range []string{"affinity", "avoid-htcore", "num-threads", "proclist", "membind", "alignsize", "verbose"} {
		assert.True(t, names[want], "missing flag %q", want)
	}
}
