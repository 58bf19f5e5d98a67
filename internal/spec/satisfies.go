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

package spec

// Satisfies reports whether s (typically concrete) satisfies the constraints
// of the abstract spec other. Virtual names are not resolved here; callers
// that allow providers must map the virtual to a provider name first.
func (s *Spec) Satisfies(other *Spec) bool {
	if !s.nodeSatisfies(other) {
		return false
	}
	// every dependency constraint must be met by some node of the DAG
	for _, want := range other.edges {
		found := false
		for _, node := range PostOrder(s) {
			if node != s && node.nodeSatisfies(want.Spec) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (s *Spec) nodeSatisfies(other *Spec) bool {
	if other.Name != "" && other.Name != s.Name {
		return false
	}
	if other.Namespace != "" && other.Namespace != s.Namespace {
		return false
	}
	if !other.Versions.Any() {
		if s.Versions.Concrete() {
			if !other.Versions.Satisfies(s.Version()) {
				return false
			}
		} else if !s.Versions.Intersects(other.Versions) {
			return false
		}
	}
	for name, want := range other.Variants {
		have, ok := s.Variants[name]
		if !ok {
			return false
		}
		for _, v := range want.Values {
			if !have.Has(v) {
				return false
			}
		}
	}
	for ft, want := range other.Flags {
		have := map[string]bool{}
		for _, f := range s.Flags[ft] {
			have[f.Flag] = true
		}
		for _, f := range want {
			if !have[f.Flag] {
				return false
			}
		}
	}
	if other.Arch.Platform != "" && other.Arch.Platform != s.Arch.Platform {
		return false
	}
	if other.Arch.OS != "" && other.Arch.OS != s.Arch.OS {
		return false
	}
	if other.Arch.Target != "" && other.Arch.Target != s.Arch.Target {
		return false
	}
	return true
}
