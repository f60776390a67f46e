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

// numalib-bench allocates, touches and frees one region per online node,
// reporting the aggregate touch bandwidth and the bytes attributed to
// each node — the Go-native replacement for
// test/test_numa_malloc.c (see SPEC_FULL.md's SUPPLEMENTED FEATURES).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	numalib "github.com/NVIDIA/go-numalib"
	"github.com/NVIDIA/go-numalib/internal/config"
	"github.com/NVIDIA/go-numalib/internal/log"
	"github.com/NVIDIA/go-numalib/internal/timing"
	"github.com/NVIDIA/go-numalib/internal/version"
)

func main() {
	opts := config.Default()
	var bytesPerNode int64

	app := cli.NewApp()
	app.Name = "numalib-bench"
	app.Usage = "allocate, touch and free a region on every online node, timing each phase"
	app.Version = version.String()
	app.Flags = append(opts.Flags(), &cli.Int64Flag{
		Name:        "bytes",
		Value:       256 << 20,
		Usage:       "bytes to allocate per online node",
		Destination: &bytesPerNode,
	})
	app.Action = func(c *cli.Context) error {
		return run(opts, uintptr(bytesPerNode))
	}

	if err := app.Run(os.Args); err != nil {
		klog.Error(err)
		os.Exit(1)
	}
}

func run(opts config.Options, bytesPerNode uintptr) error {
	logger := log.New(opts.Verbose)

	lib, err := numalib.Init(opts, logger)
	if err != nil {
		return fmt.Errorf("numalib-bench: %w", err)
	}
	defer lib.Finalize()

	sw := timing.Start()
	for node := 0; node < lib.NumOnlineNodes(); node++ {
		if _, err := lib.AllocBind(bytesPerNode, node); err != nil {
			return fmt.Errorf("numalib-bench: alloc_bind node %d: %w", node, err)
		}
	}
	klog.Infof("alloc_bind x%d: %.2f ms", lib.NumOnlineNodes(), sw.Lap())

	if err := lib.TouchAll(context.Background()); err != nil {
		return fmt.Errorf("numalib-bench: touch_all: %w", err)
	}
	touchMs := sw.Lap()

	usage, total := lib.MemoryUsage()
	klog.Infof("touch_all: %.2f ms, %.2f MiB/s", touchMs, float64(total)/(1<<20)/(touchMs/1000))
	for node, bytes := range usage {
		klog.Infof("  node=%d bytes=%d", node, bytes)
	}

	if err := lib.AllFree(); err != nil {
		return fmt.Errorf("numalib-bench: all_free: %w", err)
	}
	klog.Infof("all_free: %.2f ms", sw.Lap())
	return nil
}
