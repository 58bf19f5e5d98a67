/*
Copyright Quarry Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package rules carries the fixed declarative rule files. Their bytes are
// part of the problem digest, so editing any selected file invalidates old
// cache entries.
package rules

import (
	"embed"
	"sort"
)

//go:embed *.lp
var files embed.FS

// Options selects which optional rule files join the fixed set.
type Options struct {
	// WhenPossible solves best-effort instead of all-or-nothing.
	WhenPossible bool
	// LibcCompatibility reuses binaries by libc instead of OS match.
	LibcCompatibility bool
	// Splices enables the automatic splice rules.
	Splices bool
}

// Selected returns the chosen rule file names in deterministic order.
func Selected(o Options) []string {
	names := []string{"concretize.lp", "direct_dependency.lp", "display.lp", "heuristic.lp"}
	if o.WhenPossible {
		names = append(names, "when_possible.lp")
	}
	if o.LibcCompatibility {
		names = append(names, "libc_compatibility.lp")
	} else {
		names = append(names, "os_compatibility.lp")
	}
	if o.Splices {
		names = append(names, "splices.lp")
	}
	sort.Strings(names)
	return names
}

// Bytes concatenates the selected rule files, name-ordered, for digesting.
func Bytes(o Options) ([]byte, error) {
	var out []byte
	for _, name := range Selected(o) {
		data, err := files.ReadFile(name)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	return out, nil
}
