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

// Package rangeset parses and serializes the compact node/processor
// range expressions used by the PROCLIST and MEMBIND configuration
// options (spec.md S6's "Range syntax"), e.g. "0-3,8,12-15".
package rangeset

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Parse turns a range expression into a sorted, deduplicated list of
// non-negative integers. Items are comma/colon/space separated; each
// item is a single integer or an inclusive "a-b" range with a>b
// swapped. An item with more than one dash is a malformed-range
// configuration error. An expression with no items yields nil.
func Parse(expr string) ([]int, error) {
	fields := strings.FieldsFunc(expr, func(r rune) bool {
		return r == ',' || r == ':' || r == ' ' || r == '\t'
	})

	seen := make(map[int]struct{})
	for _, item := range fields {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		lo, hi, err := parseItem(item)
		if err != nil {
			return nil, err
		}
		for i := lo; i <= hi; i++ {
			seen[i] = struct{}{}
		}
	}

	if len(seen) == 0 {
		return nil, nil
	}
	out := make([]int, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Ints(out)
	return out, nil
}

func parseItem(item string) (lo, hi int, err error) {
	parts := strings.Split(item, "-")
	switch len(parts) {
	case 1:
		v, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, 0, fmt.Errorf("rangeset: malformed item %q: %w", item, err)
		}
		if v < 0 {
			return 0, 0, fmt.Errorf("rangeset: negative index %q", item)
		}
		return v, v, nil
	case 2:
		a, err1 := strconv.Atoi(parts[0])
		b, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			return 0, 0, fmt.Errorf("rangeset: malformed range %q", item)
		}
		if a < 0 || b < 0 {
			return 0, 0, fmt.Errorf("rangeset: negative index in range %q", item)
		}
		if a > b {
			a, b = b, a
		}
		return a, b, nil
	default:
		return 0, 0, fmt.Errorf("rangeset: malformed range %q (more than one dash)", item)
	}
}

// String serializes a sorted, deduplicated list of integers back into
// the compact range form, collapsing consecutive runs into "a-b".
// Parse(String(Uniq(xs))) reproduces the same set (spec.md S8's
// round-trip property).
func String(xs []int) string {
	xs = Uniq(xs)
	if len(xs) == 0 {
		return ""
	}

	var parts []string
	runStart := xs[0]
	prev := xs[0]
	flush := func(end int) {
		if runStart == end {
			parts = append(parts, strconv.Itoa(runStart))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", runStart, end))
		}
	}
	for _, v := range xs[1:] {
		if v == prev+1 {
			prev = v
			continue
		}
		flush(prev)
		runStart, prev = v, v
	}
	flush(prev)
	return strings.Join(parts, ",")
}

// Uniq returns a sorted copy of xs with duplicates removed.
func Uniq(xs []int) []int {
	if len(xs) == 0 {
		return nil
	}
	cp := append([]int(nil), xs...)
	sort.Ints(cp)
	out := cp[:1]
	for _, v := range cp[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
