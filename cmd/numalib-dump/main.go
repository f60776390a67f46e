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

// numalib-dump prints the probed topology and the current worker
// mapping, the Go-native replacement for ULIBC_print_topology /
// ULIBC_print_mapping (see SPEC_FULL.md's SUPPLEMENTED FEATURES).
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	numalib "github.com/NVIDIA/go-numalib"
	"github.com/NVIDIA/go-numalib/internal/config"
	"github.com/NVIDIA/go-numalib/internal/log"
	"github.com/NVIDIA/go-numalib/internal/version"
)

func main() {
	opts := config.Default()

	app := cli.NewApp()
	app.Name = "numalib-dump"
	app.Usage = "print the NUMA topology and the current thread-to-processor mapping"
	app.Version = version.String()
	app.Flags = opts.Flags()
	app.Action = func(c *cli.Context) error {
		return run(opts)
	}

	if err := app.Run(os.Args); err != nil {
		klog.Error(err)
		os.Exit(1)
	}
}

func run(opts config.Options) error {
	logger := log.New(opts.Verbose)

	lib, err := numalib.Init(opts, logger)
	if err != nil {
		return fmt.Errorf("numalib-dump: %w", err)
	}
	defer lib.Finalize()

	printTopology(lib)
	printMapping(lib)
	return nil
}

func printTopology(lib *numalib.Library) {
	klog.Infof("topology: %d processors, %d nodes, mapping=%s binding=%s",
		lib.NumProcs(), lib.NumNodes(), lib.MappingName(), lib.BindingName())
	for i := 0; i < lib.NumProcs(); i++ {
		ci := lib.GetCPUInfo(i)
		klog.Infof("  cpu=%-4d node=%-2d core=%-3d smt=%d", ci.ID, ci.Node, ci.Core, ci.SMT)
	}
}

func printMapping(lib *numalib.Library) {
	klog.Infof("mapping: %d workers over %d online nodes", lib.NumWorkers(), lib.NumOnlineNodes())
	for i := 0; i < lib.NumWorkers(); i++ {
		ni, err := lib.NumaInfo(i)
		if err != nil {
			klog.Warningf("  worker=%d: %v", i, err)
			continue
		}
		klog.Infof("  worker=%-4d proc=%-4d node=%-2d core=%-3d lnp=%d", ni.ID, ni.Proc, ni.Node, ni.Core, ni.Lnp)
	}
}
