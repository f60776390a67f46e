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

package bitset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetClearIsSet(t *testing.T) {
	s := New(4)
	assert.False(t, s.IsSet(0))
	s.Set(0)
	s.Set(70) // beyond initial word, forces grow
	assert.True(t, s.IsSet(0))
	assert.True(t, s.IsSet(70))
	s.Clear(0)
	assert.False(t, s.IsSet(0))
	assert.True(t, s.IsSet(70))
}

func TestCountAndBits(t *testing.T) {
	s := New(8)
	s.Set(1)
	s.Set(3)
	s.Set(5)
	assert.Equal(t, 3, s.Count())
	assert.Equal(t, []int{1, 3, 5}, s.Bits())
}

func TestUnion(t *testing.T) {
	a := New(4)
	a.Set(0)
	b := New(70)
	b.Set(65)
	a.Union(b)
	assert.True(t, a.IsSet(0))
	assert.True(t, a.IsSet(65))
}

func TestCloneIsIndependent(t *testing.T) {
	a := New(4)
	a.Set(1)
	b := a.Clone()
	b.Set(2)
	assert.False(t, a.IsSet(2))
	assert.True(t, b.IsSet(2))
}

func TestEqual(t *testing.T) {
	a := FromBits([]int{1, 2, 65})
	b := FromBits([]int{65, 2, 1})
	assert.True(t, a.Equal(b))

	c := FromBits([]int{1, 2})
	assert.False(t, a.Equal(c))
}

func TestIsSetOutOfRangeIsFalse(t *testing.T) {
	var s *Set
	assert.False(t, s.IsSet(0))

	s = New(4)
	assert.False(t, s.IsSet(-1))
	assert.False(t, s.IsSet(1000))
}
