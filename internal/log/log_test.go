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

package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelForClampsVerbosity(t *testing.T) {
	cases := []struct {
		verbose int
		want    string
	}{
		{-1, "warning"},
		{0, "warning"},
		{1, "info"},
		{2, "debug"},
		{3, "trace"},
		{99, "trace"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, levelFor(c.verbose).String())
	}
}

func TestNewDoesNotPanic(t *testing.T) {
	l := New(2)
	assert.NotPanics(t, func() {
		l.Tracef("x=%d", 1)
		l.Debugf("x=%d", 1)
		l.Infof("x=%d", 1)
		l.Warnf("x=%d", 1)
	})
}

func TestDiscardSwallowsOutput(t *testing.T) {
	assert.NotPanics(t, func() {
		Discard.Infof("should go nowhere")
	})
}
