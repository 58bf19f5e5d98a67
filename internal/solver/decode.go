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

import "sort"

// criteriaNames labels the lexicographic optimization levels, most
// significant first.
var criteriaNames = []string{
	"errors",
	"deprecated versions used",
	"number of packages to build",
	"version badness",
	"non-default variant values",
	"provider preferences",
	"requirement and external weights",
}

// DecodedModel is one winning assignment read back into attribute facts.
type DecodedModel struct {
	Attrs    []AttrFact
	Criteria []int64
	Errors   []*ErrorPayload
	// Reused maps dag hash → the installed entry the solver picked.
	Reused map[string]*ReuseEntry
}

// Decode reads a raw model into attribute facts. Edges to virtual nodes are
// rewritten to the chosen provider with a virtual_on_edge marker, and
// compiler flags, which are never solver variables, are reattached from the
// requests, holding conditions and reused entries that carry them.
func (cp *CompiledProblem) Decode(model []bool) *DecodedModel {
	dm := &DecodedModel{
		Criteria: make([]int64, len(criteriaNames)),
		Reused:   map[string]*ReuseEntry{},
	}

	providerChosen := map[string]string{}
	for _, c := range cp.provAttrs {
		if cp.truth(model, c.Var()) {
			providerChosen[c.Child] = c.Pkg
			dm.Attrs = append(dm.Attrs, c.Atom().Fact())
		}
	}

	nodeActive := map[string]bool{}
	for _, e := range cp.attrs {
		if !cp.truth(model, e.v) {
			continue
		}
		dm.Attrs = append(dm.Attrs, e.fact)
		if e.fact.Name == "node" {
			nodeActive[e.fact.Args[0]] = true
		}
	}

	// namespaces are fixed by the repository, not solved
	for _, name := range sortedPackages(cp.inst) {
		if nodeActive[name] {
			dm.Attrs = append(dm.Attrs, AttrFact{
				Name: "namespace",
				Args: []string{name, cp.inst.Packages[name].Namespace},
			})
		}
	}

	for _, c := range cp.edgeAttrs {
		if !cp.truth(model, c.Var()) {
			continue
		}
		if prov, virtual := providerChosen[c.Child], cp.isVirtual(c.Child); virtual {
			if prov == "" {
				continue
			}
			rewired := c
			rewired.Child = prov
			dm.Attrs = append(dm.Attrs, rewired.Atom().Fact())
			dm.Attrs = append(dm.Attrs, AttrFact{
				Name: "virtual_on_edge",
				Args: []string{c.Pkg, prov, c.Child},
			})
		} else {
			dm.Attrs = append(dm.Attrs, c.Atom().Fact())
		}
	}

	dm.Attrs = append(dm.Attrs, cp.decodeFlags(model)...)

	for _, name := range sortedHashPkgs(cp.hashVars) {
		for _, hc := range cp.hashVars[name] {
			if cp.truth(model, hc.v) {
				dm.Reused[hc.entry.Spec.DagHash()] = hc.entry
			}
		}
	}

	var errVars []string
	for v := range cp.errorVars {
		errVars = append(errVars, v)
	}
	sort.Strings(errVars)
	for _, v := range errVars {
		if cp.truth(model, v) {
			dm.Errors = append(dm.Errors, cp.errorVars[v])
		}
	}
	sort.SliceStable(dm.Errors, func(i, j int) bool {
		return dm.Errors[i].Priority > dm.Errors[j].Priority
	})

	for _, p := range cp.pens {
		if cp.truth(model, p.v) {
			addCriterion(dm.Criteria, p.weight)
		}
	}
	return dm
}

func (cp *CompiledProblem) isVirtual(name string) bool {
	r, ok := cp.inst.Packages[name]
	return ok && r.Virtual
}

// decodeFlags reattaches compiler flag facts with their full provenance:
// request flags always apply, condition flags apply where the condition
// holds, and reused entries keep their recorded flags.
func (cp *CompiledProblem) decodeFlags(model []bool) []AttrFact {
	var out []AttrFact
	emit := func(cs []Constraint) {
		for _, c := range cs {
			if c.Kind == CFlag {
				out = append(out, c.Atom().Fact())
			}
		}
	}
	for _, lit := range cp.inst.Literals {
		emit(lit.Clauses)
	}
	for _, cond := range cp.inst.Conditions {
		if cp.truth(model, cp.condVarName(cond)) {
			emit(cond.Effect)
		}
	}
	for _, name := range sortedHashPkgs(cp.hashVars) {
		for _, hc := range cp.hashVars[name] {
			if cp.truth(model, hc.v) {
				emit(hc.entry.Clauses)
			}
		}
	}
	return out
}

func sortedHashPkgs(m map[string][]hashChoice) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// addCriterion buckets one fired penalty weight into its criterion level.
func addCriterion(criteria []int64, weight int) {
	scales := []int64{
		weightError, weightDeprecated, weightBuild, weightVersion,
		weightVariant, weightProvider, weightRequirement,
	}
	w := int64(weight)
	for i, s := range scales {
		if w >= s {
			criteria[i] += w / s
			return
		}
	}
}
