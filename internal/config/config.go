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

// Package config collects spec.md S6's recognised options into an
// Options value and defines the AffinityMode of spec.md S3's policy
// state, grounded in the teacher's internal/flags per-field cli.Flag
// construction (github.com/urfave/cli/v2). The policy state itself is
// held by numalib.Library.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/NVIDIA/go-numalib/internal/mapping"
	"github.com/NVIDIA/go-numalib/internal/numaerr"
)

// AffinityMode distinguishes how (or whether) thread binding is active,
// spec.md S3's Policy state "affinity mode" field.
type AffinityMode int

const (
	// Off means no restriction was configured or detected; M still
	// produces a table but bind_thread is a no-op.
	Off AffinityMode = iota
	// LibraryDriven means this library's bind_thread calls take effect.
	LibraryDriven
	// SchedulerDriven means an external scheduler (e.g. KMP_AFFINITY)
	// already pins threads; the library defers to it.
	SchedulerDriven
)

// Options holds the raw, as-configured settings (spec.md S6's table),
// before they're resolved against an online set.
type Options struct {
	Mapping      mapping.Policy
	Binding      mapping.Binding
	AvoidHTCore  bool
	NumThreads   int // 0 means "unset, use online processor count"
	Proclist     string
	Membind      string
	AlignSize    uint64
	Verbose      int
}

// Default returns the library's default Options: scatter:core, no
// restrictions, verbose 0.
func Default() Options {
	return Options{Mapping: mapping.Scatter, Binding: mapping.ToCore}
}

// ParseAffinity parses the "<mapping>:<binding>" AFFINITY value,
// spec.md S6's configuration table. An empty string is not an error
// (AFFINITY is optional); an unrecognised mapping or binding name is.
func ParseAffinity(opt *Options, value string) error {
	if value == "" {
		return nil
	}
	parts := strings.SplitN(value, ":", 2)
	mappingName := parts[0]
	switch mappingName {
	case "scatter":
		opt.Mapping = mapping.Scatter
	case "compact":
		opt.Mapping = mapping.Compact
	default:
		return fmt.Errorf("%w: unknown affinity mapping %q (want scatter or compact)", numaerr.ErrConfig, mappingName)
	}
	if len(parts) < 2 {
		return nil
	}
	switch parts[1] {
	case "core":
		opt.Binding = mapping.ToCore
	case "physcore":
		opt.Binding = mapping.ToPhysicalCore
	case "socket":
		opt.Binding = mapping.ToSocket
	default:
		return fmt.Errorf("%w: unknown binding policy %q (want core, physcore or socket)", numaerr.ErrConfig, parts[1])
	}
	return nil
}

// Flags returns the urfave/cli/v2 flags for every spec.md S6 option,
// each with a matching EnvVars entry, the way the teacher's
// internal/flags/node.go builds NodeConfig.Flags().
func (o *Options) Flags() []cli.Flag {
	var affinity string
	var alignSize int64
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "affinity",
			Usage:       "mapping:binding, e.g. scatter:core, compact:physcore, scatter:socket",
			Destination: &affinity,
			EnvVars:     []string{"AFFINITY"},
			Action: func(_ *cli.Context, v string) error {
				return ParseAffinity(o, v)
			},
		},
		&cli.BoolFlag{
			Name:        "avoid-htcore",
			Usage:       "skip SMT-sibling processors when mapping worker threads",
			Destination: &o.AvoidHTCore,
			EnvVars:     []string{"AVOID_HTCORE"},
		},
		&cli.IntFlag{
			Name:        "num-threads",
			Usage:       "number of worker threads, capped by the online processor count",
			Destination: &o.NumThreads,
			EnvVars:     []string{"NUM_THREADS"},
		},
		&cli.StringFlag{
			Name:        "proclist",
			Usage:       "explicit processor range list, overrides the process affinity mask",
			Destination: &o.Proclist,
			EnvVars:     []string{"PROCLIST"},
		},
		&cli.StringFlag{
			Name:        "membind",
			Usage:       "default node-mask for alloc_mempol when no explicit mask is passed",
			Destination: &o.Membind,
			EnvVars:     []string{"MEMBIND"},
		},
		&cli.Int64Flag{
			Name:        "alignsize",
			Usage:       "override the allocation alignment, in bytes",
			Destination: &alignSize,
			EnvVars:     []string{"ALIGNSIZE"},
			Action: func(_ *cli.Context, v int64) error {
				if v < 0 {
					return fmt.Errorf("%w: ALIGNSIZE must be non-negative, got %d", numaerr.ErrConfig, v)
				}
				o.AlignSize = uint64(v)
				return nil
			},
		},
		&cli.IntFlag{
			Name:        "verbose",
			Usage:       "diagnostic verbosity, 0-3",
			Destination: &o.Verbose,
			EnvVars:     []string{"VERBOSE"},
		},
	}
}

// ParseVerbose clamps a verbosity value to the documented 0..3 range,
// used when VERBOSE is read outside of cli's own flag parsing.
func ParseVerbose(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: VERBOSE must be an integer: %v", numaerr.ErrConfig, err)
	}
	if v < 0 {
		v = 0
	}
	if v > 3 {
		v = 3
	}
	return v, nil
}
