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

// Package pool provides the caller-supplied worker pool spec.md S5
// assumes: a fixed set of goroutines, each identified by a dense
// integer index, that the Thread Binder and the Allocator & Touch
// Engine dispatch work onto.
package pool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool is a fixed-size collection of worker slots. It does not itself
// spawn goroutines ahead of time; Dispatch runs fn once per slot,
// concurrently, and waits for all of them, propagating the first error
// (mirroring "the library does not create the pool; it expects a
// caller-supplied pool whose size it knows" — Dispatch is the seam
// where the host application's own pool would plug in instead).
type Pool struct {
	size int
}

// New returns a Pool with n worker slots, indexed 0..n-1.
func New(n int) *Pool { return &Pool{size: n} }

// Size returns the number of worker slots.
func (p *Pool) Size() int { return p.size }

// Dispatch runs fn(workerID) on every slot concurrently and blocks
// until all have returned, returning the first non-nil error.
func (p *Pool) Dispatch(ctx context.Context, fn func(ctx context.Context, workerID int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for id := 0; id < p.size; id++ {
		id := id
		g.Go(func() error { return fn(gctx, id) })
	}
	return g.Wait()
}
