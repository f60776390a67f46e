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

package rangeset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	got, err := Parse("0-3,8,12-15")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 8, 12, 13, 14, 15}, got)
}

func TestParseDedupesAndSorts(t *testing.T) {
	got, err := Parse("5,1-3,2")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 5}, got)
}

func TestParseSwappedRange(t *testing.T) {
	got, err := Parse("5-2")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4, 5}, got)
}

func TestParseEmpty(t *testing.T) {
	got, err := Parse("")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse("1-2-3")
	assert.Error(t, err)

	_, err = Parse("abc")
	assert.Error(t, err)

	_, err = Parse("-1")
	assert.Error(t, err)
}

func TestStringRoundTrip(t *testing.T) {
	for _, xs := range [][]int{
		{0, 1, 2, 3, 8, 12, 13, 14, 15},
		{5},
		{},
		{1, 3, 5, 7},
	} {
		s := String(xs)
		got, err := Parse(s)
		require.NoError(t, err)
		assert.Equal(t, Uniq(xs), got)
	}
}

func TestStringCollapsesRuns(t *testing.T) {
	assert.Equal(t, "0-3,8,12-15", String([]int{15, 14, 13, 12, 8, 3, 2, 1, 0, 1}))
}

func TestUniq(t *testing.T) {
	assert.Equal(t, []int{1, 2, 3}, Uniq([]int{3, 1, 2, 1, 3}))
	assert.Nil(t, Uniq(nil))
}
