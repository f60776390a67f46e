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

// Package barrier implements spec.md S4.6's Intra-node Barrier and the
// separate whole-pool barrier the touch-all protocol surrounds each
// region with.
package barrier

import "sync"

// Cyclic is a reusable rendezvous point for a fixed number of
// goroutines, the Go analogue of pthread_barrier_t: once n callers have
// called Wait, all are released and the barrier resets for reuse.
type Cyclic struct {
	mu         sync.Mutex
	cond       *sync.Cond
	n          int
	count      int
	generation int
}

// NewCyclic returns a barrier that releases every n-th caller.
func NewCyclic(n int) *Cyclic {
	c := &Cyclic{n: n}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Wait blocks until n goroutines have called Wait in the current
// generation, then returns for all of them simultaneously and starts a
// new generation.
func (c *Cyclic) Wait() {
	c.mu.Lock()
	defer c.mu.Unlock()
	gen := c.generation
	c.count++
	if c.count == c.n {
		c.count = 0
		c.generation++
		c.cond.Broadcast()
		return
	}
	for gen == c.generation {
		c.cond.Wait()
	}
}

// Family is the per-node barrier family: node_barrier() called from a
// worker whose NumaInfo has node=k blocks until every online core of
// node k has also called it, per spec.md S4.6's contract. Must not be
// confused with the whole-pool barrier, which is a separate Cyclic.
type Family struct {
	byNode []*Cyclic
}

// NewFamily allocates one Cyclic per node, sized by counts[k] =
// online_cores(k) (spec.md S4.6's "each node's barrier count equals
// online_cores(k)"). A zero count yields a barrier nobody will ever
// call, which is fine: no worker has that node.
func NewFamily(counts []int) *Family {
	f := &Family{byNode: make([]*Cyclic, len(counts))}
	for i, c := range counts {
		if c <= 0 {
			c = 1
		}
		f.byNode[i] = NewCyclic(c)
	}
	return f
}

// Wait blocks the calling worker until every worker of node k arrives.
func (f *Family) Wait(node int) {
	if node < 0 || node >= len(f.byNode) {
		return
	}
	f.byNode[node].Wait()
}
