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
	"github.com/pkg/errors"

	"github.com/quarry-sh/quarry/internal/vsn"
)

// Dict is the serializable form of a concrete spec DAG. Nodes are listed in
// post order (children first) and edges refer to nodes by hash.
type Dict struct {
	Root  string     `json:"root"`
	Nodes []NodeDict `json:"nodes"`
}

// NodeDict is the serializable form of one node.
type NodeDict struct {
	Name         string                    `json:"name"`
	Namespace    string                    `json:"namespace,omitempty"`
	Version      string                    `json:"version"`
	Arch         ArchSpec                  `json:"arch"`
	Variants     []*VariantValue           `json:"variants,omitempty"`
	Flags        map[string][]CompilerFlag `json:"flags,omitempty"`
	External     *External                 `json:"external,omitempty"`
	Hash         string                    `json:"hash"`
	Dependencies []EdgeDict                `json:"dependencies,omitempty"`
}

// EdgeDict is the serializable form of a dependency edge.
type EdgeDict struct {
	Name     string   `json:"name"`
	Hash     string   `json:"hash"`
	Types    string   `json:"types"`
	Virtuals []string `json:"virtuals,omitempty"`
	Direct   bool     `json:"direct,omitempty"`
}

// ToDict serializes a concrete spec and its dependency subgraph.
func (s *Spec) ToDict() (*Dict, error) {
	if !s.Concrete() || s.DagHash() == "" {
		return nil, errors.Errorf("cannot serialize non-concrete spec '%s'", s)
	}
	d := &Dict{Root: s.DagHash()}
	for _, node := range PostOrder(s) {
		nd := NodeDict{
			Name:      node.Name,
			Namespace: node.Namespace,
			Version:   node.Version().String(),
			Arch:      node.Arch,
			Flags:     node.Flags,
			External:  node.External,
			Hash:      node.DagHash(),
		}
		for _, name := range sortedVariantNames(node.Variants) {
			nd.Variants = append(nd.Variants, node.Variants[name])
		}
		for _, e := range node.Edges() {
			nd.Dependencies = append(nd.Dependencies, EdgeDict{
				Name:     e.Spec.Name,
				Hash:     e.Spec.DagHash(),
				Types:    e.DepTypes.String(),
				Virtuals: e.Virtuals,
				Direct:   e.Direct,
			})
		}
		d.Nodes = append(d.Nodes, nd)
	}
	return d, nil
}

// FromDict rebuilds a concrete spec DAG from its serialized form. Structural
// sharing is restored: nodes are materialized once per hash.
func FromDict(d *Dict) (*Spec, error) {
	nodes := map[string]*Spec{}
	for i := range d.Nodes {
		nd := &d.Nodes[i]
		node := New(nd.Name)
		node.Namespace = nd.Namespace
		node.Versions = vsn.Range{Lo: vsn.New(nd.Version), Hi: vsn.New(nd.Version), Exact: true}
		node.Arch = nd.Arch
		node.External = nd.External
		for _, v := range nd.Variants {
			node.Variants[v.Name] = v
		}
		for ft, flags := range nd.Flags {
			node.Flags[ft] = flags
		}
		node.concrete = true
		node.dagHash = nd.Hash
		nodes[nd.Hash] = node
	}
	// nodes are serialized children-first, so edges always resolve
	for i := range d.Nodes {
		nd := &d.Nodes[i]
		parent := nodes[nd.Hash]
		for _, ed := range nd.Dependencies {
			child, ok := nodes[ed.Hash]
			if !ok {
				return nil, errors.Errorf("spec dictionary references unknown node %s", ed.Hash)
			}
			types, err := ParseDepType(ed.Types)
			if err != nil {
				return nil, err
			}
			parent.attachEdge(&Edge{Spec: child, DepTypes: types, Virtuals: ed.Virtuals, Direct: ed.Direct})
		}
	}
	root, ok := nodes[d.Root]
	if !ok {
		return nil, errors.New("spec dictionary has no root node")
	}
	return root, nil
}
