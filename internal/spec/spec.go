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

// Package spec models package specs: nodes in a dependency graph carrying a
// name, version constraints, variants, compiler flags and architecture, plus
// typed dependency edges to other specs.
//
// A spec is either abstract (an under-constrained request) or concrete (fully
// resolved). Concrete specs are immutable once their DAG hash is assigned;
// mutating accessors return an error after that point.
package spec

import (
	"fmt"
	"sort"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"

	"github.com/quarry-sh/quarry/internal/vsn"
)

// DepType is a dependency-type bitflag.
type DepType uint8

const (
	Build DepType = 1 << iota
	Link
	Run
	Test
)

// DefaultTypes is the dependency type of a plain "^dep" edge.
const DefaultTypes = Build | Link

// AllTypes enumerates single dependency-type flags in canonical order.
var AllTypes = []DepType{Build, Link, Run, Test}

var depTypeNames = map[DepType]string{Build: "build", Link: "link", Run: "run", Test: "test"}

func (d DepType) String() string {
	var parts []string
	for _, t := range AllTypes {
		if d&t != 0 {
			parts = append(parts, depTypeNames[t])
		}
	}
	return strings.Join(parts, ",")
}

// ParseDepType parses a comma-separated dependency type string.
func ParseDepType(s string) (DepType, error) {
	var d DepType
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		found := false
		for t, name := range depTypeNames {
			if name == part {
				d |= t
				found = true
				break
			}
		}
		if !found {
			return 0, errors.Errorf("unknown dependency type %q", part)
		}
	}
	return d, nil
}

// FlagTypes lists the valid compiler flag groups, in canonical order.
var FlagTypes = []string{"cflags", "cxxflags", "cppflags", "fflags", "ldflags", "ldlibs"}

// IsFlagType reports whether name is a compiler flag group.
func IsFlagType(name string) bool {
	for _, t := range FlagTypes {
		if t == name {
			return true
		}
	}
	return false
}

// CompilerFlag is one compiler flag together with its provenance: the flag
// group it was written in and the source that contributed it (a compiler
// definition, a dependent package id with an origin suffix, "literal" for the
// command line, or a requirement).
type CompilerFlag struct {
	Flag      string `json:"flag"`
	FlagGroup string `json:"flag_group"`
	Source    string `json:"source"`
	Propagate bool   `json:"propagate,omitempty"`
}

// VariantValue is the assignment of one variant on a spec. Multi-valued
// variants keep their values in declaration order; that order is load-bearing
// for the "patches" variant.
type VariantValue struct {
	Name      string   `json:"name"`
	Values    []string `json:"values"`
	Multi     bool     `json:"multi,omitempty"`
	Propagate bool     `json:"propagate,omitempty"`
}

// Value returns the single value of a non-multi variant.
func (v *VariantValue) Value() string {
	if len(v.Values) == 0 {
		return ""
	}
	return v.Values[0]
}

// Has reports whether value is among the variant's values.
func (v *VariantValue) Has(value string) bool {
	for _, x := range v.Values {
		if x == value {
			return true
		}
	}
	return false
}

// ArchSpec is the platform/os/target triple of a spec. Empty fields are
// unconstrained on abstract specs.
type ArchSpec struct {
	Platform string `json:"platform,omitempty"`
	OS       string `json:"os,omitempty"`
	Target   string `json:"target,omitempty"`
}

func (a ArchSpec) empty() bool { return a.Platform == "" && a.OS == "" && a.Target == "" }

// External carries the configuration of an externally-provided package.
type External struct {
	Path    string            `json:"path,omitempty"`
	Modules []string          `json:"modules,omitempty"`
	Extra   map[string]string `json:"extra_attributes,omitempty"`
}

// Edge is a directed dependency link from a dependent to a dependency.
type Edge struct {
	Spec     *Spec
	DepTypes DepType
	// Virtuals names the virtual packages this edge satisfies.
	Virtuals []string
	// Direct marks a direct-dependency ("%dep") edge as opposed to a
	// regular ("^dep") one.
	Direct bool
	// When guards a conditional dependency on a request spec.
	When *Spec
}

// Spec is a node in a dependency graph.
type Spec struct {
	Name      string
	Namespace string
	Versions  vsn.Range
	Variants  map[string]*VariantValue
	Flags     map[string][]CompilerFlag
	Arch      ArchSpec
	External  *External

	edges    []*Edge
	concrete bool
	dagHash  string
}

// New returns an abstract spec with only a name.
func New(name string) *Spec {
	return &Spec{
		Name:     name,
		Variants: map[string]*VariantValue{},
		Flags:    map[string][]CompilerFlag{},
	}
}

// Anonymous returns a spec with no name, used for unconditional when-specs.
func Anonymous() *Spec { return New("") }

// Concrete reports whether the spec has been fully resolved.
func (s *Spec) Concrete() bool { return s.concrete }

// DagHash returns the content hash of a concrete spec. It is empty until
// Finalize has run.
func (s *Spec) DagHash() string { return s.dagHash }

// Version returns the pinned version of a concrete spec, or the zero version.
func (s *Spec) Version() vsn.Version {
	if s.Versions.Concrete() {
		return s.Versions.Version()
	}
	return vsn.Version{}
}

// Edges returns the dependency edges of the spec, in insertion order.
func (s *Spec) Edges() []*Edge { return s.edges }

// SortedVariants returns the variant assignments ordered by name.
func (s *Spec) SortedVariants() []*VariantValue {
	names := make([]string, 0, len(s.Variants))
	for name := range s.Variants {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*VariantValue, 0, len(names))
	for _, name := range names {
		out = append(out, s.Variants[name])
	}
	return out
}

// Dependencies returns the direct dependency specs.
func (s *Spec) Dependencies() []*Spec {
	deps := make([]*Spec, 0, len(s.edges))
	for _, e := range s.edges {
		deps = append(deps, e.Spec)
	}
	return deps
}

// DependencyByName returns the first direct dependency with the given name.
func (s *Spec) DependencyByName(name string) *Spec {
	for _, e := range s.edges {
		if e.Spec.Name == name {
			return e.Spec
		}
	}
	return nil
}

// reaches reports whether target is reachable from s through dependency
// edges, using an explicit work stack.
func (s *Spec) reaches(target *Spec) bool {
	seen := map[*Spec]bool{}
	stack := []*Spec{s}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == target {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		for _, e := range cur.edges {
			stack = append(stack, e.Spec)
		}
	}
	return false
}

// AddDependencyEdge wires dep as a dependency of s. Adding an edge to an
// already-present child merges the dependency types and virtuals. Edges that
// would close a cycle are rejected: dependency graphs are DAGs by
// construction.
func (s *Spec) AddDependencyEdge(dep *Spec, types DepType, virtuals ...string) error {
	if s.concrete && s.dagHash != "" {
		return errors.Errorf("cannot add a dependency to hashed concrete spec %s", s.Name)
	}
	if dep == s || dep.reaches(s) {
		return errors.Errorf("dependency edge %s -> %s would create a cycle", s.Name, dep.Name)
	}
	s.attachEdge(&Edge{Spec: dep, DepTypes: types, Virtuals: append([]string(nil), virtuals...)})
	return nil
}

// attachEdge adds or merges an edge without immutability or cycle checks.
// Reserved for graph reconstruction inside this package and the builder.
func (s *Spec) attachEdge(edge *Edge) {
	for _, e := range s.edges {
		if e.Spec == edge.Spec && e.Direct == edge.Direct {
			e.DepTypes |= edge.DepTypes
			e.Virtuals = mergeSorted(e.Virtuals, edge.Virtuals)
			return
		}
	}
	s.edges = append(s.edges, edge)
}

// AttachEdgeForBuild exposes edge attachment to the answer interpreter, which
// wires reused concrete subtrees whose roots are already hashed.
func (s *Spec) AttachEdgeForBuild(edge *Edge) { s.attachEdge(edge) }

// UpdateEdgeVirtuals records that the edge to the named dependency satisfies
// the given virtual.
func (s *Spec) UpdateEdgeVirtuals(dep *Spec, virtual string) error {
	for _, e := range s.edges {
		if e.Spec == dep {
			e.Virtuals = mergeSorted(e.Virtuals, []string{virtual})
			return nil
		}
	}
	return errors.Errorf("%s has no dependency edge to %s", s.Name, dep.Name)
}

func mergeSorted(a, b []string) []string {
	set := map[string]bool{}
	for _, x := range a {
		set[x] = true
	}
	for _, x := range b {
		set[x] = true
	}
	out := make([]string, 0, len(set))
	for x := range set {
		out = append(out, x)
	}
	sort.Strings(out)
	return out
}

// SetVariant assigns a variant value, replacing any previous assignment.
func (s *Spec) SetVariant(v *VariantValue) error {
	if s.concrete && s.dagHash != "" {
		return errors.Errorf("cannot set variant on hashed concrete spec %s", s.Name)
	}
	s.Variants[v.Name] = v
	return nil
}

// AppendVariantValue adds one value to a multi-valued variant, creating it if
// needed.
func (s *Spec) AppendVariantValue(name, value string) {
	v, ok := s.Variants[name]
	if !ok {
		s.Variants[name] = &VariantValue{Name: name, Values: []string{value}, Multi: true}
		return
	}
	if !v.Has(value) {
		v.Values = append(v.Values, value)
	}
}

// AddFlag appends a compiler flag of the given type, preserving arrival order.
func (s *Spec) AddFlag(flagType string, flag CompilerFlag) {
	s.Flags[flagType] = append(s.Flags[flagType], flag)
}

// CopyNode returns a copy of the spec without dependency edges. Hash and
// concreteness are preserved: the copy represents the same node.
func (s *Spec) CopyNode() *Spec {
	c := New(s.Name)
	c.Namespace = s.Namespace
	c.Versions = s.Versions
	c.Arch = s.Arch
	c.concrete = s.concrete
	c.dagHash = s.dagHash
	for name, v := range s.Variants {
		vals := append([]string(nil), v.Values...)
		c.Variants[name] = &VariantValue{Name: v.Name, Values: vals, Multi: v.Multi, Propagate: v.Propagate}
	}
	for ft, flags := range s.Flags {
		c.Flags[ft] = append([]CompilerFlag(nil), flags...)
	}
	if s.External != nil {
		ext := *s.External
		c.External = &ext
	}
	return c
}

// Copy returns a deep copy of the spec and its dependency subgraph, with
// structural sharing preserved (shared subtrees stay shared in the copy).
func (s *Spec) Copy() *Spec {
	copies := map[*Spec]*Spec{}
	var nodes []*Spec
	stack := []*Spec{s}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := copies[cur]; ok {
			continue
		}
		copies[cur] = cur.CopyNode()
		nodes = append(nodes, cur)
		for _, e := range cur.edges {
			stack = append(stack, e.Spec)
		}
	}
	for _, cur := range nodes {
		for _, e := range cur.edges {
			copies[cur].attachEdge(&Edge{
				Spec:     copies[e.Spec],
				DepTypes: e.DepTypes,
				Virtuals: append([]string(nil), e.Virtuals...),
				Direct:   e.Direct,
			})
		}
	}
	return copies[s]
}

// Finalize marks every node reachable from s concrete and assigns DAG hashes
// bottom-up. It is the only way a spec becomes hash-stable; afterwards the
// graph is immutable.
func (s *Spec) Finalize() error {
	for _, node := range PostOrder(s) {
		if node.dagHash != "" {
			continue
		}
		if !node.Versions.Concrete() {
			return errors.Errorf("cannot finalize %s: version %q is not concrete",
				node.Name, node.Versions.String())
		}
		node.concrete = true
		node.dagHash = digest.SHA256.FromString(node.hashableRepr()).Encoded()
	}
	return nil
}

// hashableRepr renders the canonical concrete state of one node plus the
// hashes of its dependencies. Children must be hashed first.
func (s *Spec) hashableRepr() string {
	var b strings.Builder
	fmt.Fprintf(&b, "name:%s;ns:%s;version:%s;", s.Name, s.Namespace, s.Version())
	fmt.Fprintf(&b, "arch:%s/%s/%s;", s.Arch.Platform, s.Arch.OS, s.Arch.Target)
	for _, name := range sortedVariantNames(s.Variants) {
		v := s.Variants[name]
		fmt.Fprintf(&b, "variant:%s=%s;", name, strings.Join(v.Values, ","))
	}
	for _, ft := range FlagTypes {
		flags := s.Flags[ft]
		if len(flags) == 0 {
			continue
		}
		parts := make([]string, len(flags))
		for i, f := range flags {
			parts[i] = f.Flag
		}
		fmt.Fprintf(&b, "%s:%s;", ft, strings.Join(parts, " "))
	}
	if s.External != nil {
		fmt.Fprintf(&b, "external:%s;", s.External.Path)
	}
	type depKey struct{ name, hash, types, virtuals string }
	keys := make([]depKey, 0, len(s.edges))
	for _, e := range s.edges {
		keys = append(keys, depKey{
			name: e.Spec.Name, hash: e.Spec.dagHash,
			types: e.DepTypes.String(), virtuals: strings.Join(e.Virtuals, ","),
		})
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].name != keys[j].name {
			return keys[i].name < keys[j].name
		}
		return keys[i].hash < keys[j].hash
	})
	for _, k := range keys {
		fmt.Fprintf(&b, "dep:%s/%s/%s/%s;", k.name, k.hash, k.types, k.virtuals)
	}
	return b.String()
}

func sortedVariantNames(m map[string]*VariantValue) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// String renders the spec in canonical request syntax. The rendering is
// deterministic, so it can serve as a deduplication key.
func (s *Spec) String() string {
	var b strings.Builder
	b.WriteString(s.nodeString())
	deps := make([]*Edge, len(s.edges))
	copy(deps, s.edges)
	sort.SliceStable(deps, func(i, j int) bool { return deps[i].Spec.Name < deps[j].Spec.Name })
	for _, e := range deps {
		if e.Direct {
			b.WriteString(" %" + e.Spec.String())
		} else {
			b.WriteString(" ^" + e.Spec.String())
		}
	}
	return b.String()
}

// nodeString renders a single node without its dependencies.
func (s *Spec) nodeString() string {
	var b strings.Builder
	if s.Namespace != "" {
		b.WriteString(s.Namespace + ".")
	}
	b.WriteString(s.Name)
	if !s.Versions.Any() {
		b.WriteString("@" + s.Versions.String())
	}
	for _, name := range sortedVariantNames(s.Variants) {
		v := s.Variants[name]
		plus, tilde, eq := "+", "~", "="
		if v.Propagate {
			plus, tilde, eq = "++", "~~", "=="
		}
		switch {
		case !v.Multi && v.Value() == "true":
			b.WriteString(plus + name)
		case !v.Multi && v.Value() == "false":
			b.WriteString(tilde + name)
		default:
			b.WriteString(" " + name + eq + strings.Join(v.Values, ","))
		}
	}
	for _, ft := range FlagTypes {
		flags := s.Flags[ft]
		if len(flags) == 0 {
			continue
		}
		parts := make([]string, len(flags))
		for i, f := range flags {
			parts[i] = f.Flag
		}
		fmt.Fprintf(&b, " %s=%q", ft, strings.Join(parts, " "))
	}
	if s.Arch.Platform != "" {
		b.WriteString(" platform=" + s.Arch.Platform)
	}
	if s.Arch.OS != "" {
		b.WriteString(" os=" + s.Arch.OS)
	}
	if s.Arch.Target != "" {
		b.WriteString(" target=" + s.Arch.Target)
	}
	return b.String()
}
