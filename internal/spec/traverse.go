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

import "sort"

// PostOrder returns every node reachable from root, children before parents.
// Shared subtrees are visited once. Implemented with an explicit work stack,
// the graphs are DAGs so no cycle bookkeeping beyond a seen set is needed.
func PostOrder(root *Spec) []*Spec {
	var order []*Spec
	seen := map[*Spec]bool{}

	type frame struct {
		node     *Spec
		expanded bool
	}
	stack := []frame{{node: root}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.expanded {
			order = append(order, top.node)
			stack = stack[:len(stack)-1]
			continue
		}
		top.expanded = true
		if seen[top.node] {
			stack = stack[:len(stack)-1]
			continue
		}
		seen[top.node] = true
		for i := len(top.node.edges) - 1; i >= 0; i-- {
			child := top.node.edges[i].Spec
			if !seen[child] {
				stack = append(stack, frame{node: child})
			}
		}
	}
	return order
}

// PreOrder returns every node reachable from root, parents before children.
func PreOrder(root *Spec) []*Spec {
	post := PostOrder(root)
	out := make([]*Spec, len(post))
	for i, n := range post {
		out[len(post)-1-i] = n
	}
	return out
}

// DependentsIndex is a derived reverse index from a node to its dependents
// within a fixed set of roots. Dependency edges themselves carry no
// back-references; this index is materialized transiently where a
// parent-direction traversal is needed.
type DependentsIndex map[*Spec][]*Spec

// BuildDependentsIndex indexes every node reachable from the given roots.
func BuildDependentsIndex(roots []*Spec) DependentsIndex {
	idx := DependentsIndex{}
	seen := map[*Spec]bool{}
	for _, root := range roots {
		for _, node := range PostOrder(root) {
			if seen[node] {
				continue
			}
			seen[node] = true
			for _, e := range node.edges {
				idx[e.Spec] = append(idx[e.Spec], node)
			}
		}
	}
	return idx
}

// ParentsPostOrder returns the names of nodes reachable from start in the
// parent direction, in post order: a node's dependents appear before the
// node itself. Ties between siblings are broken by name so the order is a
// stable total order.
func (idx DependentsIndex) ParentsPostOrder(start *Spec) []string {
	var order []string
	seen := map[*Spec]bool{}

	type frame struct {
		node     *Spec
		expanded bool
	}
	stack := []frame{{node: start}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.expanded {
			order = append(order, top.node.Name)
			stack = stack[:len(stack)-1]
			continue
		}
		top.expanded = true
		if seen[top.node] {
			stack = stack[:len(stack)-1]
			continue
		}
		seen[top.node] = true
		parents := append([]*Spec(nil), idx[top.node]...)
		sort.Slice(parents, func(i, j int) bool { return parents[i].Name > parents[j].Name })
		for _, p := range parents {
			if !seen[p] {
				stack = append(stack, frame{node: p})
			}
		}
	}
	return order
}
