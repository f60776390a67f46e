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

// Package version reports the library's build version, adapted from the
// teacher's internal/info package.
package version

import "strings"

// version is set by go build's -X option in the release pipeline.
var version = "unknown"

// gitCommit is the commit the binary was built from.
var gitCommit = ""

// Parts returns the individual version components.
func Parts() []string {
	v := []string{version}
	if gitCommit != "" {
		v = append(v, "commit: "+gitCommit)
	}
	return v
}

// String returns the version joined with any extra components.
func String(more ...string) string {
	return strings.Join(append(Parts(), more...), "\n")
}
