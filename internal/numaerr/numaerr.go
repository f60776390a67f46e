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

// Package numaerr defines the sentinel error kinds spec.md S7 assigns to
// the library's fatal conditions. Configuration and topology errors are
// fatal at init in the original; here they are returned, not process
// aborts — a thin cmd/ wrapper decides whether to log-and-exit.
package numaerr

import "errors"

var (
	// ErrConfig marks an unrecognised enum, malformed range, or
	// negative node index in configuration.
	ErrConfig = errors.New("numalib: configuration error")
	// ErrTopology marks a processor-count mismatch or a negative node
	// index discovered while probing the platform.
	ErrTopology = errors.New("numalib: topology inconsistency")
	// ErrBind marks a rejected processor-set bind.
	ErrBind = errors.New("numalib: bind failure")
	// ErrAlloc marks a platform allocation failure (null return).
	ErrAlloc = errors.New("numalib: allocation failure")
)
