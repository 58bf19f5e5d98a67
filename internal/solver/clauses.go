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

package solver

import (
	"github.com/pkg/errors"

	"github.com/quarry-sh/quarry/internal/spec"
)

// ConstraintKind is the closed set of ground constraint families the
// encoder emits and the compiler understands.
type ConstraintKind int

const (
	CNode ConstraintKind = iota
	CVirtualNode
	CNamespace
	CVersionSatisfies
	CPlatform
	COS
	CTarget
	CVariant
	CFlag
	CDepends
	CHash
	CProvider
	CExternal
	CError
)

// Constraint is one ground constraint about a node or an edge. Field use
// depends on Kind:
//
//	CNode, CVirtualNode    Pkg
//	CNamespace             Pkg, Value (namespace)
//	CVersionSatisfies      Pkg, Value (range text)
//	CPlatform, COS,        Pkg, Value
//	CTarget
//	CVariant               Pkg, Name, Value, Propagate
//	CFlag                  Pkg, Name (flag type), Value (flag), Group, Source
//	CDepends               Pkg (parent), Child, DepTypes, Direct, Virtuals
//	CHash                  Pkg, Value (dag hash)
//	CProvider              Pkg (provider), Child (virtual)
//	CExternal              Pkg, Num (slot)
//	CError                 Num (priority), Value (message), Args
type Constraint struct {
	Kind      ConstraintKind
	Pkg       string
	Child     string
	Name      string
	Value     string
	Group     string
	Source    string
	Num       int
	Propagate bool
	Direct    bool
	DepTypes  spec.DepType
	Virtuals  []string
	Args      []string
	// Origin tags the constraint with the directive family that produced
	// it (dep, req, cond); it is provenance only and never changes the
	// solver semantics.
	Origin string
}

// Atom renders the constraint as a ground fact. The rendering is canonical:
// it doubles as the solver variable name and as the program-text line.
func (c Constraint) Atom() Atom {
	switch c.Kind {
	case CNode:
		return NewAtom("node", Str(c.Pkg))
	case CVirtualNode:
		return NewAtom("virtual_node", Str(c.Pkg))
	case CNamespace:
		return NewAtom("namespace", Str(c.Pkg), Str(c.Value))
	case CVersionSatisfies:
		return NewAtom("node_version_satisfies", Str(c.Pkg), Str(c.Value))
	case CPlatform:
		return NewAtom("node_platform", Str(c.Pkg), Str(c.Value))
	case COS:
		return NewAtom("node_os", Str(c.Pkg), Str(c.Value))
	case CTarget:
		return NewAtom("node_target", Str(c.Pkg), Str(c.Value))
	case CVariant:
		if c.Propagate {
			return NewAtom("variant_propagate", Str(c.Pkg), Str(c.Name), Str(c.Value))
		}
		return NewAtom("variant_value", Str(c.Pkg), Str(c.Name), Str(c.Value))
	case CFlag:
		return NewAtom("node_flag", Str(c.Pkg), Str(c.Name), Str(c.Value), Str(c.Group), Str(c.Source))
	case CDepends:
		name := "depends_on"
		if c.Direct {
			name = "direct_dependency"
		}
		return NewAtom(name, Str(c.Pkg), Str(c.Child), Str(c.DepTypes.String()))
	case CHash:
		return NewAtom("hash", Str(c.Pkg), Str(c.Value))
	case CProvider:
		return NewAtom("provider", Str(c.Pkg), Str(c.Child))
	case CExternal:
		return NewAtom("external_spec_selected", Str(c.Pkg), Num(c.Num))
	case CError:
		args := []Term{Num(c.Num), Str(c.Value)}
		for _, a := range c.Args {
			args = append(args, Str(a))
		}
		return NewAtom("error", args...)
	}
	return NewAtom("unknown")
}

// Var is the solver variable name of the constraint.
func (c Constraint) Var() string { return c.Atom().String() }

// RuntimeNames are packages that are always re-solved for compatibility even
// on reused concrete specs: the compiler runtime and the C library.
var RuntimeNames = map[string]bool{
	"gcc-runtime": true,
	"glibc":       true,
	"musl":        true,
}

// clauseOpts steers specClauses.
type clauseOpts struct {
	// body facts describe a condition trigger; head facts an imposed
	// effect. Pure node-existence facts are stripped from heads unless
	// keepNode is set.
	body     bool
	keepNode bool
	// transitive walks dependency edges.
	transitive bool
	// reuse marks an already-installed concrete spec: build-type edges
	// are skipped and nodes pin to their hash.
	reuse bool
	// origin suffix recorded on every produced constraint.
	origin string
	// requireFromPkg wraps failures with the requiring package name.
	requireFromPkg string
}

// specClauses produces the ground constraints asserting everything a spec
// says about itself and, transitively, its dependencies.
func specClauses(sp *spec.Spec, opts clauseOpts) ([]Constraint, error) {
	if sp.Name == "" {
		return nil, errors.New("cannot emit clauses for a spec with no name")
	}
	out, err := nodeClauses(sp, opts)
	if err != nil && opts.requireFromPkg != "" {
		return nil, errors.Wrapf(err, "required from package %q", opts.requireFromPkg)
	}
	return out, err
}

func nodeClauses(sp *spec.Spec, opts clauseOpts) ([]Constraint, error) {
	var out []Constraint
	add := func(c Constraint) {
		c.Origin = opts.origin
		out = append(out, c)
	}

	if opts.body || opts.keepNode {
		add(Constraint{Kind: CNode, Pkg: sp.Name})
	}
	if sp.Namespace != "" {
		add(Constraint{Kind: CNamespace, Pkg: sp.Name, Value: sp.Namespace})
	}
	if !sp.Versions.Any() {
		add(Constraint{Kind: CVersionSatisfies, Pkg: sp.Name, Value: sp.Versions.String()})
	}
	if sp.Arch.Platform != "" {
		add(Constraint{Kind: CPlatform, Pkg: sp.Name, Value: sp.Arch.Platform})
	}
	if sp.Arch.OS != "" {
		add(Constraint{Kind: COS, Pkg: sp.Name, Value: sp.Arch.OS})
	}
	if sp.Arch.Target != "" {
		add(Constraint{Kind: CTarget, Pkg: sp.Name, Value: sp.Arch.Target})
	}
	for _, v := range sp.SortedVariants() {
		for _, val := range v.Values {
			add(Constraint{Kind: CVariant, Pkg: sp.Name, Name: v.Name, Value: val, Propagate: v.Propagate})
		}
	}
	for _, group := range spec.FlagTypes {
		for _, f := range sp.Flags[group] {
			add(Constraint{
				Kind: CFlag, Pkg: sp.Name, Name: group,
				Value: f.Flag, Group: f.FlagGroup, Source: f.Source,
			})
		}
	}
	if sp.Concrete() && opts.reuse {
		add(Constraint{Kind: CHash, Pkg: sp.Name, Value: sp.DagHash()})
	}

	if !opts.transitive {
		return out, nil
	}

	for _, e := range sp.Edges() {
		// reused installs do not re-impose their build graph
		if opts.reuse && e.DepTypes&^spec.Build == 0 && !RuntimeNames[e.Spec.Name] {
			continue
		}
		add(Constraint{
			Kind: CDepends, Pkg: sp.Name, Child: e.Spec.Name,
			DepTypes: e.DepTypes, Direct: e.Direct,
			Virtuals: append([]string(nil), e.Virtuals...),
		})
		childOpts := opts
		childOpts.requireFromPkg = sp.Name
		if opts.reuse && RuntimeNames[e.Spec.Name] {
			// runtimes and libc are re-solved: expose compatibility
			// constraints instead of pinning the stored subgraph
			add(Constraint{Kind: CNode, Pkg: e.Spec.Name})
			if !e.Spec.Versions.Any() {
				add(Constraint{
					Kind: CVersionSatisfies, Pkg: e.Spec.Name,
					Value: e.Spec.Versions.String(),
				})
			}
			continue
		}
		sub, err := nodeClauses(e.Spec, childOpts)
		if err != nil {
			return nil, errors.Wrapf(err, "required from package %q", sp.Name)
		}
		out = append(out, sub...)
	}
	return out, nil
}
