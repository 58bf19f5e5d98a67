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

package vsn

import (
	"strings"

	"github.com/pkg/errors"
)

// Range is a version constraint:
//
//	""        any version
//	"=1.2"    exactly version 1.2
//	"1.2"     the 1.2 release series (prefix satisfaction)
//	"1.2:1.9" inclusive range, either bound may be omitted
type Range struct {
	Lo    Version
	Hi    Version
	Exact bool
	// Series holds a prefix constraint ("@1.2" meaning 1.2.x)
	Series Version
}

// AnyRange matches every version.
var AnyRange = Range{}

// ParseRange parses the textual form of a Range, without a leading "@".
func ParseRange(s string) (Range, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == ":" {
		return AnyRange, nil
	}
	if strings.HasPrefix(s, "=") {
		v := strings.TrimPrefix(s, "=")
		if v == "" {
			return Range{}, errors.Errorf("invalid version constraint %q", s)
		}
		return Range{Lo: New(v), Hi: New(v), Exact: true}, nil
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		r := Range{}
		if lo := s[:idx]; lo != "" {
			r.Lo = New(lo)
		}
		if hi := s[idx+1:]; hi != "" {
			r.Hi = New(hi)
		}
		if !r.Lo.Empty() && !r.Hi.Empty() && r.Hi.LessThan(r.Lo) {
			return Range{}, errors.Errorf("empty version range %q", s)
		}
		return r, nil
	}
	return Range{Series: New(s)}, nil
}

// MustRange is ParseRange for literals known to be valid.
func MustRange(s string) Range {
	r, err := ParseRange(s)
	if err != nil {
		panic(err)
	}
	return r
}

// Any reports whether the range matches every version.
func (r Range) Any() bool {
	return !r.Exact && r.Lo.Empty() && r.Hi.Empty() && r.Series.Empty()
}

// Concrete reports whether the range pins exactly one version.
func (r Range) Concrete() bool { return r.Exact }

// Version returns the pinned version of a concrete range.
func (r Range) Version() Version { return r.Lo }

// Satisfies reports whether version v satisfies the range.
func (r Range) Satisfies(v Version) bool {
	if r.Any() {
		return true
	}
	if r.Exact {
		return v.Compare(r.Lo) == 0
	}
	if !r.Series.Empty() {
		return v.SatisfiesPrefix(r.Series)
	}
	if !r.Lo.Empty() && v.Compare(r.Lo) < 0 {
		return false
	}
	if !r.Hi.Empty() {
		// the upper bound is inclusive of its whole release series,
		// "…:1.9" admits 1.9.2
		if r.Hi.LessThan(v) && !v.SatisfiesPrefix(r.Hi) {
			return false
		}
	}
	return true
}

// Intersects reports whether some version could satisfy both ranges. It is a
// conservative check used when merging constraints from multiple specs.
func (r Range) Intersects(o Range) bool {
	switch {
	case r.Any() || o.Any():
		return true
	case r.Exact:
		return o.Satisfies(r.Lo)
	case o.Exact:
		return r.Satisfies(o.Lo)
	case !r.Series.Empty():
		return o.Satisfies(r.Series) || r.Series.SatisfiesPrefix(o.Series)
	case !o.Series.Empty():
		return r.Satisfies(o.Series) || o.Series.SatisfiesPrefix(r.Series)
	}
	if !r.Hi.Empty() && !o.Lo.Empty() && r.Hi.LessThan(o.Lo) {
		return false
	}
	if !o.Hi.Empty() && !r.Lo.Empty() && o.Hi.LessThan(r.Lo) {
		return false
	}
	return true
}

func (r Range) String() string {
	switch {
	case r.Any():
		return ""
	case r.Exact:
		return "=" + r.Lo.String()
	case !r.Series.Empty():
		return r.Series.String()
	default:
		return r.Lo.String() + ":" + r.Hi.String()
	}
}
