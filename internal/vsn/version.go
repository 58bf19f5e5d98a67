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

// Package vsn models package versions and version constraints.
//
// Versions are dot-separated component strings ("1.19.2", "2021.4", "develop").
// Where a version parses as (coerced) semver we compare with semver semantics,
// otherwise we fall back to component-wise comparison with numeric components
// ordered before alphabetic ones.
package vsn

import (
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Version is a single version point. The zero value is the empty version,
// which compares lower than anything else.
type Version struct {
	raw string
	sv  *semver.Version
}

// New parses a version string. Parsing never fails: strings that are not
// coercible to semver are still usable with component-wise comparison.
func New(s string) Version {
	v := Version{raw: s}
	if sv, err := semver.NewVersion(s); err == nil {
		v.sv = sv
	}
	return v
}

func (v Version) String() string { return v.raw }

// Empty reports whether this is the zero version.
func (v Version) Empty() bool { return v.raw == "" }

func (v Version) components() []string {
	return strings.FieldsFunc(v.raw, func(r rune) bool { return r == '.' || r == '-' || r == '_' })
}

// Compare returns -1, 0 or 1 comparing v to o.
func (v Version) Compare(o Version) int {
	if v.raw == o.raw {
		return 0
	}
	if v.sv != nil && o.sv != nil {
		if c := v.sv.Compare(o.sv); c != 0 {
			return c
		}
		// semver coercion can collapse "1.0" and "1.0.0"; keep them distinct
		return strings.Compare(v.raw, o.raw)
	}
	a, b := v.components(), o.components()
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] == b[i] {
			continue
		}
		an, aerr := strconv.Atoi(a[i])
		bn, berr := strconv.Atoi(b[i])
		switch {
		case aerr == nil && berr == nil:
			if an < bn {
				return -1
			}
			return 1
		case aerr == nil:
			// numeric releases sort after named ones ("develop" < "1.0")
			return 1
		case berr == nil:
			return -1
		default:
			return strings.Compare(a[i], b[i])
		}
	}
	if len(a) < len(b) {
		return -1
	}
	if len(a) > len(b) {
		return 1
	}
	return 0
}

// LessThan reports whether v orders strictly before o.
func (v Version) LessThan(o Version) bool { return v.Compare(o) < 0 }

// SatisfiesPrefix reports whether v lies within the release series named by
// p: "1.0" is satisfied by "1.0", "1.0.2" but not by "1.10".
func (v Version) SatisfiesPrefix(p Version) bool {
	if p.Empty() {
		return true
	}
	a, b := v.components(), p.components()
	if len(b) > len(a) {
		return false
	}
	for i := range b {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
