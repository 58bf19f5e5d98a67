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

import (
	"sort"

	"github.com/pkg/errors"
)

// ConcreteSpecsByHash is an invariant-preserving container of concrete specs
// keyed by DAG hash: if any spec stored here has a dependency with hash X,
// that dependency is the same object as the spec keyed by X.
type ConcreteSpecsByHash struct {
	data     map[string]*Spec
	explicit map[string]bool
}

// NewConcreteSpecsByHash returns an empty container.
func NewConcreteSpecsByHash() *ConcreteSpecsByHash {
	return &ConcreteSpecsByHash{data: map[string]*Spec{}, explicit: map[string]bool{}}
}

// Get returns the spec stored under the given hash, or nil.
func (c *ConcreteSpecsByHash) Get(dagHash string) *Spec { return c.data[dagHash] }

// Has reports whether a spec with the given hash is stored.
func (c *ConcreteSpecsByHash) Has(dagHash string) bool {
	_, ok := c.data[dagHash]
	return ok
}

// Len returns the number of stored specs, dependencies included.
func (c *ConcreteSpecsByHash) Len() int { return len(c.data) }

// Hashes returns the stored hashes in sorted order.
func (c *ConcreteSpecsByHash) Hashes() []string {
	out := make([]string, 0, len(c.data))
	for h := range c.data {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// ExplicitItems returns the specs that were added explicitly, rather than
// pulled in as a dependency of another node.
func (c *ConcreteSpecsByHash) ExplicitItems() []*Spec {
	var out []*Spec
	for _, h := range c.Hashes() {
		if c.explicit[h] {
			out = append(out, c.data[h])
		}
	}
	return out
}

// Add stores a concrete spec, recursively copying and rewiring its dependency
// subgraph so that every hash resolves to a single object inside the
// container. Returns true if the spec was just added, false if its hash was
// already present (re-adding is a no-op).
func (c *ConcreteSpecsByHash) Add(s *Spec) (bool, error) {
	if !s.Concrete() || s.DagHash() == "" {
		return false, errors.Errorf(
			"trying to store the non-concrete spec '%s' in a container that only accepts concrete", s)
	}
	dagHash := s.DagHash()
	c.explicit[dagHash] = true
	if _, ok := c.data[dagHash]; ok {
		return false, nil
	}

	c.data[dagHash] = s.CopyNode()
	toReconstruct := []*Spec{s}
	for len(toReconstruct) > 0 {
		inputParent := toReconstruct[len(toReconstruct)-1]
		toReconstruct = toReconstruct[:len(toReconstruct)-1]
		containerParent := c.data[inputParent.DagHash()]

		for _, edge := range inputParent.Edges() {
			inputChild := edge.Spec
			containerChild, ok := c.data[inputChild.DagHash()]
			if !ok {
				containerChild = inputChild.CopyNode()
				c.data[inputChild.DagHash()] = containerChild
				toReconstruct = append(toReconstruct, inputChild)
			}
			containerParent.attachEdge(&Edge{
				Spec:     containerChild,
				DepTypes: edge.DepTypes,
				Virtuals: append([]string(nil), edge.Virtuals...),
				Direct:   edge.Direct,
			})
		}
	}
	return true, nil
}
