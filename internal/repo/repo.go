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

// Package repo is the read-only package metadata collaborator: it answers
// queries about declared versions, variants, dependencies, conflicts, virtual
// provisions, patches, requirements and splice rules of packages.
package repo

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/quarry-sh/quarry/internal/spec"
	"github.com/quarry-sh/quarry/internal/vsn"
)

// PackageRepo enumerates package metadata by name.
type PackageRepo interface {
	// Exists reports whether a package with this name is known.
	Exists(name string) bool
	// IsVirtual reports whether name is a virtual package.
	IsVirtual(name string) bool
	// Get returns the metadata of a package.
	Get(name string) (*PackageMeta, error)
	// Providers returns the names of packages that may provide a virtual.
	Providers(virtual string) []string
}

// VersionDecl is one declared version of a package, in preference order.
type VersionDecl struct {
	Version    vsn.Version
	Deprecated bool
}

// VariantValueDef is one possible value of a variant; When guards values that
// are only valid under a condition (a disabled value elsewhere).
type VariantValueDef struct {
	Value string
	When  *spec.Spec
}

// VariantDef is one variant definition. Conditional definitions carry a
// when-spec; later definitions take precedence when several could apply.
type VariantDef struct {
	Name    string
	When    *spec.Spec
	Default string
	Multi   bool
	Values  []VariantValueDef
	// Description shows up in condition reasons.
	Description string
}

// DependencyDecl is one depends_on declaration.
type DependencyDecl struct {
	Spec  *spec.Spec
	When  *spec.Spec
	Types spec.DepType
	// Patches declared on this dependency edge, applied to the dependency
	// when the edge condition holds.
	Patches []PatchDecl
}

// ConflictDecl declares that Spec conflicts with the package when When holds.
type ConflictDecl struct {
	When *spec.Spec
	Spec *spec.Spec
	Msg  string
}

// ProvideDecl declares that the package provides a virtual when When holds.
type ProvideDecl struct {
	When    *spec.Spec
	Virtual *spec.Spec
}

// PatchDecl is one patch declaration. Index is the declaration order within
// the package, Ordering a secondary key for ties across origins; both are
// first-class fields because the resulting value order is load-bearing for
// cache-key stability.
type PatchDecl struct {
	Sha256   string
	When     *spec.Spec
	Index    int
	Ordering int
}

// RequirementKind tells whether a rule comes from a package, a virtual, or
// the defaults ("all") section. Default rules are skipped when they cannot
// apply, instead of failing the solve.
type RequirementKind int

const (
	RequirementPackage RequirementKind = iota
	RequirementVirtual
	RequirementDefault
)

// RequirementPolicy selects how many alternatives of a group must hold.
type RequirementPolicy string

const (
	PolicyOneOf RequirementPolicy = "one_of"
	PolicyAnyOf RequirementPolicy = "any_of"
)

// RequirementRule is a policy group of alternative requirement specs; the
// first alternative is the cheapest.
type RequirementRule struct {
	PkgName   string
	Policy    RequirementPolicy
	Specs     []string
	Condition *spec.Spec
	Message   string
	Kind      RequirementKind
}

// SpliceRule declares that the package can be spliced in place of Target
// builds, matching ABI-relevant single-valued variants listed in
// MatchVariants ("*" means all single-valued variants).
type SpliceRule struct {
	Target        *spec.Spec
	When          *spec.Spec
	MatchVariants []string
}

// PackageMeta is the full metadata of one package.
type PackageMeta struct {
	Name      string
	Namespace string

	Versions     []VersionDecl
	Variants     []VariantDef
	Dependencies []DependencyDecl
	Conflicts    []ConflictDecl
	Provided     []ProvideDecl
	Patches      []PatchDecl
	Requirements []RequirementRule
	Splices      []SpliceRule
}

// VariantDefs returns all definitions for a variant name, in declaration
// order.
func (m *PackageMeta) VariantDefs(name string) []VariantDef {
	var defs []VariantDef
	for _, d := range m.Variants {
		if d.Name == name {
			defs = append(defs, d)
		}
	}
	return defs
}

// HasVariant reports whether the package declares the given variant.
func (m *PackageMeta) HasVariant(name string) bool { return len(m.VariantDefs(name)) > 0 }

// InMemory is a PackageRepo assembled programmatically; the test suites and
// the YAML loader both build one.
type InMemory struct {
	packages  map[string]*PackageMeta
	virtuals  map[string][]string
	namespace string
}

// NewInMemory returns an empty in-memory repository with the given default
// namespace.
func NewInMemory(namespace string) *InMemory {
	return &InMemory{
		packages:  map[string]*PackageMeta{},
		virtuals:  map[string][]string{},
		namespace: namespace,
	}
}

// AddPackage registers metadata, indexing any provided virtuals.
func (r *InMemory) AddPackage(m *PackageMeta) *InMemory {
	if m.Namespace == "" {
		m.Namespace = r.namespace
	}
	r.packages[m.Name] = m
	for _, p := range m.Provided {
		name := p.Virtual.Name
		found := false
		for _, existing := range r.virtuals[name] {
			if existing == m.Name {
				found = true
				break
			}
		}
		if !found {
			r.virtuals[name] = append(r.virtuals[name], m.Name)
			sort.Strings(r.virtuals[name])
		}
	}
	return r
}

func (r *InMemory) Exists(name string) bool {
	_, ok := r.packages[name]
	return ok
}

func (r *InMemory) IsVirtual(name string) bool {
	_, ok := r.virtuals[name]
	return ok && !r.Exists(name)
}

func (r *InMemory) Get(name string) (*PackageMeta, error) {
	m, ok := r.packages[name]
	if !ok {
		return nil, errors.Errorf("package %q not found", name)
	}
	return m, nil
}

func (r *InMemory) Providers(virtual string) []string {
	return append([]string(nil), r.virtuals[virtual]...)
}
