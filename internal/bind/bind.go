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

// Package bind implements the Thread Binder (B): applying the Mapping
// Engine's per-worker processor sets to the running pool, per spec.md
// S4.4.
package bind

import (
	"fmt"
	"sync"

	"github.com/NVIDIA/go-numalib/internal/bitset"
	"github.com/NVIDIA/go-numalib/internal/config"
	"github.com/NVIDIA/go-numalib/internal/mapping"
	"github.com/NVIDIA/go-numalib/internal/numaerr"
	"github.com/NVIDIA/go-numalib/internal/platform"
)

// Result is check_and_rebind's outcome.
type Result int

const (
	Unchanged Result = iota
	Rebound
)

type workerState struct {
	mu        sync.Mutex
	defaultSet *bitset.Set
	bindSet    *bitset.Set
	numBinds   int64
}

// Binder is B: per-worker state plus the bind/rebind/unbind operations.
//
// mode is a pointer into the owning Library's Policy singleton. Per
// spec.md S5's ordering guarantees, the singleton is written only from
// the main thread during init/repolicy, and all reads happen-after the
// write via the pool-start barrier that follows it — so a plain read
// here (no atomics) is sound.
type Binder struct {
	port  platform.Port
	table *mapping.Table
	mode  *config.AffinityMode

	defaultSet *bitset.Set
	workers    []*workerState
}

// New builds a Binder over table. default_set is the affinity restored
// by UnbindThread; per spec.md S4.4 it is "the set in effect at
// initialisation," not at the most recent repolicy, so prevDefault lets
// a repolicy carry the library's original sample forward instead of
// resampling the OS after binds have already narrowed it. Pass nil only
// on the library's first build, when no prior sample exists yet.
func New(port platform.Port, table *mapping.Table, mode *config.AffinityMode, prevDefault *bitset.Set) (*Binder, error) {
	def := prevDefault
	if def == nil {
		sampled, err := port.CurrentAffinity()
		if err != nil {
			return nil, fmt.Errorf("bind: sampling default affinity: %w", err)
		}
		def = sampled
	}

	b := &Binder{port: port, table: table, mode: mode, defaultSet: def.Clone()}
	b.workers = make([]*workerState, table.NumWorkers())
	for i := range b.workers {
		b.workers[i] = &workerState{defaultSet: def.Clone()}
	}
	return b, nil
}

// DefaultSet returns the affinity mask sampled when this Binder (or the
// first Binder in its repolicy chain) was built, for callers that need
// to carry it across a later New call.
func (b *Binder) DefaultSet() *bitset.Set { return b.defaultSet.Clone() }

func (b *Binder) modeValue() config.AffinityMode {
	if b.mode == nil {
		return config.Off
	}
	return *b.mode
}

// BindThread pins worker id to the processor set M computed for it.
// It is a no-op if affinity mode is not library-driven, per spec.md
// S4.4. Bind failures are surfaced, never retried, and do not touch
// per-worker state.
func (b *Binder) BindThread(id int) error {
	if b.modeValue() != config.LibraryDriven {
		return nil
	}
	if id < 0 || id >= len(b.workers) {
		return fmt.Errorf("bind: worker index %d out of range", id)
	}
	target, err := b.table.BindSet(id)
	if err != nil {
		return err
	}
	if err := b.port.BindThread(target); err != nil {
		return fmt.Errorf("%w: worker %d: %v", numaerr.ErrBind, id, err)
	}

	w := b.workers[id]
	w.mu.Lock()
	w.bindSet = target.Clone()
	w.numBinds++
	w.mu.Unlock()
	return nil
}

// CheckAndRebind samples the OS-reported current affinity for worker id
// and rebinds only if it no longer matches bind_set, per spec.md S4.4.
func (b *Binder) CheckAndRebind(id int) (Result, error) {
	if id < 0 || id >= len(b.workers) {
		return Unchanged, fmt.Errorf("bind: worker index %d out of range", id)
	}
	current, err := b.port.CurrentAffinity()
	if err != nil {
		return Unchanged, fmt.Errorf("bind: sampling current affinity: %w", err)
	}

	w := b.workers[id]
	w.mu.Lock()
	bound := w.bindSet
	w.mu.Unlock()

	if bound != nil && current.Equal(bound) {
		return Unchanged, nil
	}
	if err := b.BindThread(id); err != nil {
		return Unchanged, err
	}
	return Rebound, nil
}

// UnbindThread restores worker id's default_set. bind_set is left
// untouched, per spec.md S4.4.
func (b *Binder) UnbindThread(id int) error {
	if id < 0 || id >= len(b.workers) {
		return fmt.Errorf("bind: worker index %d out of range", id)
	}
	w := b.workers[id]
	w.mu.Lock()
	def := w.defaultSet
	w.mu.Unlock()

	if err := b.port.BindThread(def); err != nil {
		return fmt.Errorf("%w: unbind worker %d: %v", numaerr.ErrBind, id, err)
	}
	return nil
}

// IsBound reports whether proc is a member of worker id's bind_set.
func (b *Binder) IsBound(id, proc int) bool {
	if id < 0 || id >= len(b.workers) {
		return false
	}
	w := b.workers[id]
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bindSet.IsSet(proc)
}

// NumBinds returns worker id's successful-bind counter.
func (b *Binder) NumBinds(id int) int64 {
	if id < 0 || id >= len(b.workers) {
		return 0
	}
	w := b.workers[id]
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.numBinds
}
