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

// Package timing is a minimal wall-clock helper for the bench command,
// grounded on the original source's tools.c get_msecs: a millisecond
// timestamp taken around a region of interest, not a profiling
// framework.
package timing

import "time"

// Stopwatch measures elapsed wall time between Start and Elapsed/Lap, the
// Go analogue of bracketing a region with two get_msecs() calls.
type Stopwatch struct {
	start time.Time
}

// Start begins timing.
func Start() Stopwatch {
	return Stopwatch{start: time.Now()}
}

// Elapsed returns the time since Start, in milliseconds.
func (s Stopwatch) Elapsed() float64 {
	return float64(time.Since(s.start)) / float64(time.Millisecond)
}

// Lap returns the elapsed milliseconds and resets the start point, for
// timing a sequence of phases with one Stopwatch.
func (s *Stopwatch) Lap() float64 {
	now := time.Now()
	ms := float64(now.Sub(s.start)) / float64(time.Millisecond)
	s.start = now
	return ms
}
