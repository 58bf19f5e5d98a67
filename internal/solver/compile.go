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
	"fmt"
	"sort"
	"strings"

	"github.com/crillab/gophersat/maxsat"

	"github.com/quarry-sh/quarry/internal/vsn"
)

// Lexicographic criterion weights: each level dominates the sum of all
// weights on lower levels for any realistically-sized problem.
const (
	weightError       = 1 << 48
	weightDeprecated  = 1 << 40
	weightBuild       = 1 << 32
	weightVersion     = 1 << 22
	weightVariant     = 1 << 14
	weightProvider    = 1 << 8
	weightRequirement = 1 << 2
	weightNode        = 1
)

// AttrFact is one flat attribute tuple decoded from the winning model.
type AttrFact struct {
	Name string
	Args []string
}

func (a AttrFact) String() string {
	quoted := make([]string, len(a.Args))
	for i, s := range a.Args {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return a.Name + "(" + strings.Join(quoted, ",") + ")"
}

// CompiledProblem is the pseudo-boolean form of a ProblemInstance, ready to
// hand to the solver backend.
type CompiledProblem struct {
	inst    *ProblemInstance
	constrs []maxsat.Constr

	// sequential variable ids, assigned at first constraint appearance,
	// mirroring the backend's interning order; the model is read back
	// through them
	lastElem int
	varIDs   map[string]int

	condVar   map[int]string // condition id → variable
	hashVars  map[string][]hashChoice
	errorVars map[string]*ErrorPayload

	// decodable attributes, registered as their variables are created
	attrs     []attrEntry
	attrSeen  map[string]bool
	edgeAttrs []Constraint
	provAttrs []Constraint
	pens      []penalty

	// skip suppresses the hard assertion of specific literal facts; core
	// minimization re-compiles with grown skip sets
	skip map[string]bool
}

type hashChoice struct {
	v     string
	entry *ReuseEntry
}

type attrEntry struct {
	v    string
	fact AttrFact
}

// penalty is one recorded soft cost, fired when its variable is true.
type penalty struct {
	v      string
	weight int
}

func (cp *CompiledProblem) lit(name string) maxsat.Lit {
	return maxsat.Lit{Var: name}
}

func (cp *CompiledProblem) not(name string) maxsat.Lit {
	return maxsat.Lit{Var: name, Negated: true}
}

// record assigns sequential ids to variables in first-appearance order over
// the appended constraints. The backend interns the same way when it scans
// them, so the model is positional by these ids.
func (cp *CompiledProblem) record(lits []maxsat.Lit) {
	for _, l := range lits {
		if _, ok := cp.varIDs[l.Var]; !ok {
			cp.lastElem++
			cp.varIDs[l.Var] = cp.lastElem
		}
	}
}

func (cp *CompiledProblem) hard(lits ...maxsat.Lit) {
	cp.record(lits)
	cp.constrs = append(cp.constrs, maxsat.HardClause(lits...))
}

func (cp *CompiledProblem) soft(weight int, lits ...maxsat.Lit) {
	if len(lits) == 1 && lits[0].Negated {
		cp.pens = append(cp.pens, penalty{v: lits[0].Var, weight: weight})
	}
	cp.record(lits)
	cp.constrs = append(cp.constrs, maxsat.WeightedClause(lits, weight))
}

// regFact registers the attribute fact a variable decodes to when true in
// the winning model.
func (cp *CompiledProblem) regFact(v string, fact AttrFact) string {
	if !cp.attrSeen[v] {
		cp.attrSeen[v] = true
		cp.attrs = append(cp.attrs, attrEntry{v: v, fact: fact})
	}
	return v
}

// atMostOne forbids two of the variables being true at once.
func (cp *CompiledProblem) atMostOne(vars []string) {
	if len(vars) < 2 {
		return
	}
	lits := make([]maxsat.Lit, len(vars))
	coeffs := make([]int, len(vars))
	for i, v := range vars {
		lits[i] = cp.not(v)
		coeffs[i] = 1
	}
	cp.record(lits)
	cp.constrs = append(cp.constrs, maxsat.HardPBConstr(lits, coeffs, len(lits)-1))
}

// truth reads a variable from a model; unknown variables are false.
func (cp *CompiledProblem) truth(model []bool, name string) bool {
	id, ok := cp.varIDs[name]
	if !ok || id > len(model) {
		return false
	}
	return model[id-1]
}

// Problem assembles the backend problem from the collected constraints.
func (cp *CompiledProblem) Problem() *maxsat.Problem {
	return maxsat.New(cp.constrs...)
}

// compileProblem translates the instance. skip names literal fact lines to
// leave unasserted (used during core minimization); nil means none.
func compileProblem(inst *ProblemInstance, skip map[string]bool) *CompiledProblem {
	cp := &CompiledProblem{
		inst:      inst,
		varIDs:    map[string]int{},
		condVar:   map[int]string{},
		hashVars:  map[string][]hashChoice{},
		errorVars: map[string]*ErrorPayload{},
		attrSeen:  map[string]bool{},
		skip:      skip,
	}
	if cp.skip == nil {
		cp.skip = map[string]bool{}
	}

	ix := newDomainIndex(inst)

	cp.compileNodes(ix)
	cp.compileVersions(ix)
	cp.compileVariants(ix)
	cp.compileArch(ix)
	cp.compileNamespaces(ix)
	cp.compileConditions(ix)
	cp.compileProviders()
	cp.compileExternalsAndRequirements()
	cp.compileReuse()
	cp.compileLiterals()
	return cp
}

// domainIndex collects every constraint mentioned anywhere in the problem,
// so the compiler can close each variable family over its full domain.
type domainIndex struct {
	mentioned map[ConstraintKind][]Constraint
	seen      map[string]bool
	// dependVars groups edge variables by child package for justification
	dependVars map[string][]string
	// satisfies maps pkg → mentioned version-range texts
	satisfies map[string]map[string]bool
}

func newDomainIndex(inst *ProblemInstance) *domainIndex {
	ix := &domainIndex{
		mentioned:  map[ConstraintKind][]Constraint{},
		seen:       map[string]bool{},
		dependVars: map[string][]string{},
		satisfies:  map[string]map[string]bool{},
	}
	note := func(c Constraint) {
		key := c.Var()
		if ix.seen[key] {
			return
		}
		ix.seen[key] = true
		ix.mentioned[c.Kind] = append(ix.mentioned[c.Kind], c)
		switch c.Kind {
		case CDepends:
			ix.dependVars[c.Child] = append(ix.dependVars[c.Child], key)
		case CVersionSatisfies:
			if ix.satisfies[c.Pkg] == nil {
				ix.satisfies[c.Pkg] = map[string]bool{}
			}
			ix.satisfies[c.Pkg][c.Value] = true
		}
	}
	for _, cond := range inst.Conditions {
		for _, c := range cond.Trigger {
			note(c)
		}
		for _, c := range cond.Effect {
			note(c)
		}
		if cond.Dep != nil && cond.Kind != CondProvider {
			note(Constraint{
				Kind: CDepends, Pkg: cond.Dep.Parent, Child: cond.Dep.Child,
				DepTypes: cond.Dep.DepTypes, Direct: cond.Dep.Direct,
			})
		}
	}
	for _, lit := range inst.Literals {
		for _, c := range lit.Clauses {
			note(c)
		}
	}
	for _, r := range inst.Reuse {
		for _, c := range r.Clauses {
			note(c)
		}
	}
	return ix
}

func nodeVar(pkg string) string  { return Constraint{Kind: CNode, Pkg: pkg}.Var() }
func virtualVar(v string) string { return Constraint{Kind: CVirtualNode, Pkg: v}.Var() }
func buildVar(pkg string) string { return NewAtom("build", Str(pkg)).String() }
func versionVar(pkg, v string) string {
	return NewAtom("version", Str(pkg), Str(v)).String()
}
func providerVar(prov, virt string) string {
	return Constraint{Kind: CProvider, Pkg: prov, Child: virt}.Var()
}
func spliceVar(pkg, hash string) string {
	return NewAtom("splice_at_hash", Str(pkg), Str(hash)).String()
}
func memberVar(gid, idx int) string {
	return NewAtom("requirement_member_holds", Num(gid), Num(idx)).String()
}

// compileNodes emits node minimization and justification: every active
// non-root node needs an incoming edge or a provider role.
func (cp *CompiledProblem) compileNodes(ix *domainIndex) {
	roots := map[string]bool{}
	for _, r := range cp.inst.Roots {
		roots[r] = true
	}
	for _, name := range sortedPackages(cp.inst) {
		rules := cp.inst.Packages[name]
		if rules.Virtual {
			continue
		}
		cp.regFact(nodeVar(name), AttrFact{Name: "node", Args: []string{name}})
		if !roots[name] {
			lits := []maxsat.Lit{cp.not(nodeVar(name))}
			for _, dv := range ix.dependVars[name] {
				lits = append(lits, cp.lit(dv))
			}
			for _, virt := range sortedKeys(cp.inst.Providers) {
				if contains(cp.inst.Providers[virt], name) {
					lits = append(lits, cp.lit(providerVar(name, virt)))
				}
			}
			cp.hard(lits...)
		}
		cp.soft(weightNode, cp.not(nodeVar(name)))
	}
}

// compileVersions closes the version domain of every package: exactly one
// version per active node, ranked preferences, deprecation exclusion, and
// the biconditional defining every mentioned version range.
func (cp *CompiledProblem) compileVersions(ix *domainIndex) {
	for _, name := range sortedPackages(cp.inst) {
		rules := cp.inst.Packages[name]
		if rules.Virtual {
			continue
		}
		var vars []string
		for _, rv := range rules.Versions {
			v := versionVar(name, rv.Version.String())
			cp.regFact(v, AttrFact{Name: "version", Args: []string{name, rv.Version.String()}})
			vars = append(vars, v)
			// a version implies its node
			cp.hard(cp.not(v), cp.lit(nodeVar(name)))
			if rv.Weight > 0 {
				cp.soft(rv.Weight*weightVersion, cp.not(v))
			}
			if rv.Deprecated {
				if cp.inst.AllowDeprecated {
					cp.soft(weightDeprecated, cp.not(v))
				} else {
					cp.hard(cp.not(v))
				}
			}
		}
		// node → at least one version
		lits := []maxsat.Lit{cp.not(nodeVar(name))}
		for _, v := range vars {
			lits = append(lits, cp.lit(v))
		}
		cp.hard(lits...)
		cp.atMostOne(vars)

		// range variables over the version domain
		var ranges []string
		for r := range ix.satisfies[name] {
			ranges = append(ranges, r)
		}
		sort.Strings(ranges)
		for _, rtext := range ranges {
			rng, err := vsn.ParseRange(rtext)
			satVar := Constraint{Kind: CVersionSatisfies, Pkg: name, Value: rtext}.Var()
			var matching []string
			if err == nil {
				for _, rv := range rules.Versions {
					if rng.Satisfies(rv.Version) {
						matching = append(matching, versionVar(name, rv.Version.String()))
					}
				}
			}
			if len(matching) == 0 {
				// no declared version satisfies the range: asserting it is
				// a contradiction
				cp.hard(cp.not(satVar))
				continue
			}
			clause := []maxsat.Lit{cp.not(satVar)}
			for _, m := range matching {
				clause = append(clause, cp.lit(m))
			}
			cp.hard(clause...)
			for _, m := range matching {
				cp.hard(cp.not(m), cp.lit(satVar))
			}
		}
	}
}

type variantSlot struct{ pkg, variant string }

// compileVariants closes each variant domain: values imply their node,
// single-valued variants are exclusive, non-defaults are penalized, and
// mentioned out-of-domain values are contradictions.
func (cp *CompiledProblem) compileVariants(ix *domainIndex) {
	domain := map[variantSlot]map[string]bool{}
	defaults := map[variantSlot]string{}
	multi := map[variantSlot]bool{}
	guards := map[variantSlot]map[string]*Condition{}
	var slots []variantSlot

	for _, name := range sortedPackages(cp.inst) {
		for _, vr := range cp.inst.Packages[name].Variants {
			key := variantSlot{name, vr.Name}
			if domain[key] == nil {
				domain[key] = map[string]bool{}
				guards[key] = map[string]*Condition{}
				slots = append(slots, key)
			}
			for _, v := range vr.Values {
				domain[key][v] = true
				if g, ok := vr.DisabledValues[v]; ok {
					guards[key][v] = g
				}
			}
			// later definitions take precedence
			defaults[key] = vr.Default
			multi[key] = vr.Multi
		}
	}

	for _, key := range slots {
		var values []string
		for v := range domain[key] {
			values = append(values, v)
		}
		sort.Strings(values)
		var vars []string
		for _, val := range values {
			vv := Constraint{Kind: CVariant, Pkg: key.pkg, Name: key.variant, Value: val}.Var()
			cp.regFact(vv, AttrFact{Name: "variant_value", Args: []string{key.pkg, key.variant, val}})
			vars = append(vars, vv)
			cp.hard(cp.not(vv), cp.lit(nodeVar(key.pkg)))
			if val != defaults[key] {
				cp.soft(weightVariant, cp.not(vv))
			}
			if g, ok := guards[key][val]; ok {
				// a conditionally-disabled value outside its condition is
				// a guaranteed conflict
				ev := cp.errorVar(2,
					fmt.Sprintf("variant %s=%s is not available here", key.variant, val), key.pkg)
				cp.hard(cp.not(vv), cp.lit(cp.condVarName(g)), cp.lit(ev))
			}
		}
		if !multi[key] {
			cp.atMostOne(vars)
		}
	}

	// mentioned values outside any declared domain cannot hold
	for _, c := range ix.mentioned[CVariant] {
		if c.Propagate {
			continue
		}
		key := variantSlot{c.Pkg, c.Name}
		if domain[key] == nil || !domain[key][c.Value] {
			cp.hard(cp.not(c.Var()))
		}
	}
}

// compileArch gives every node a platform, OS and target, defaulting to the
// solve target.
func (cp *CompiledProblem) compileArch(ix *domainIndex) {
	families := []struct {
		kind ConstraintKind
		attr string
		def  string
	}{
		{CPlatform, "node_platform", cp.inst.DefaultPlatform},
		{COS, "node_os", cp.inst.DefaultOS},
		{CTarget, "node_target", cp.inst.DefaultTarget},
	}
	for _, fam := range families {
		values := map[string]map[string]bool{}
		for _, c := range ix.mentioned[fam.kind] {
			if values[c.Pkg] == nil {
				values[c.Pkg] = map[string]bool{}
			}
			values[c.Pkg][c.Value] = true
		}
		for _, name := range sortedPackages(cp.inst) {
			if cp.inst.Packages[name].Virtual {
				continue
			}
			vals := map[string]bool{fam.def: true}
			for v := range values[name] {
				vals[v] = true
			}
			var sorted []string
			for v := range vals {
				sorted = append(sorted, v)
			}
			sort.Strings(sorted)
			var vars []string
			for _, v := range sorted {
				av := Constraint{Kind: fam.kind, Pkg: name, Value: v}.Var()
				cp.regFact(av, AttrFact{Name: fam.attr, Args: []string{name, v}})
				vars = append(vars, av)
				cp.hard(cp.not(av), cp.lit(nodeVar(name)))
				if v != fam.def {
					cp.soft(weightVariant, cp.not(av))
				}
			}
			lits := []maxsat.Lit{cp.not(nodeVar(name))}
			for _, v := range vars {
				lits = append(lits, cp.lit(v))
			}
			cp.hard(lits...)
			cp.atMostOne(vars)
		}
	}
}

// compileNamespaces pins each node's namespace to its repository namespace
// and contradicts any other assertion.
func (cp *CompiledProblem) compileNamespaces(ix *domainIndex) {
	for _, c := range ix.mentioned[CNamespace] {
		rules, ok := cp.inst.Packages[c.Pkg]
		if !ok || rules.Namespace != c.Value {
			cp.hard(cp.not(c.Var()))
			continue
		}
		cp.hard(cp.not(nodeVar(c.Pkg)), cp.lit(c.Var()))
		cp.hard(cp.not(c.Var()), cp.lit(nodeVar(c.Pkg)))
	}
}

func (cp *CompiledProblem) condVarName(cond *Condition) string {
	if v, ok := cp.condVar[cond.ID]; ok {
		return v
	}
	var v string
	switch cond.Kind {
	case CondRequirement:
		v = memberVar(cp.groupOf(cond), cond.Weight)
	case CondExternal:
		v = Constraint{Kind: CExternal, Pkg: cond.Pkg, Num: cond.Weight}.Var()
	case CondSplice:
		v = spliceVar(cond.Splice.TargetPkg, cond.Splice.Hash)
	default:
		v = NewAtom("condition_holds", Num(cond.ID)).String()
	}
	cp.condVar[cond.ID] = v
	return v
}

func (cp *CompiledProblem) groupOf(cond *Condition) int {
	for _, rules := range cp.inst.Packages {
		for _, g := range rules.Requirements {
			for _, m := range g.Members {
				if m.Cond == cond {
					return g.GID
				}
			}
		}
	}
	return 0
}

// isChoice reports whether a condition is selected by the solver rather
// than deduced from its trigger.
func isChoice(cond *Condition) bool {
	switch cond.Kind {
	case CondRequirement, CondExternal, CondSplice:
		return true
	}
	return false
}

// compileConditions wires every condition: a deduced condition is
// biconditional with its trigger; a choice condition may only hold where
// its trigger allows. Holding conditions impose their effects, edges and
// error relations.
func (cp *CompiledProblem) compileConditions(ix *domainIndex) {
	support := map[string][]string{} // imposed edge var → condition vars

	for _, cond := range cp.inst.Conditions {
		cv := cp.condVarName(cond)

		if !isChoice(cond) {
			// AND(trigger) → cond
			lits := []maxsat.Lit{cp.lit(cv)}
			for _, t := range cond.Trigger {
				if t.Kind == CFlag {
					continue
				}
				lits = append(lits, cp.not(t.Var()))
			}
			cp.hard(lits...)
		}
		// cond → each trigger fact
		for _, t := range cond.Trigger {
			if t.Kind == CFlag {
				continue
			}
			cp.hard(cp.not(cv), cp.lit(t.Var()))
		}
		// cond → each imposed fact
		for _, e := range cond.Effect {
			if e.Kind == CFlag {
				continue
			}
			cp.hard(cp.not(cv), cp.lit(e.Var()))
		}
		if cond.Dep != nil && cond.Kind != CondProvider {
			dep := Constraint{
				Kind: CDepends, Pkg: cond.Dep.Parent, Child: cond.Dep.Child,
				DepTypes: cond.Dep.DepTypes, Direct: cond.Dep.Direct,
			}
			cp.hard(cp.not(cv), cp.lit(dep.Var()))
			support[dep.Var()] = append(support[dep.Var()], cv)
		}
		if cond.Err != nil {
			ev := cp.errorVar(cond.Err.Priority, cond.Err.Message, cond.Err.Args...)
			cp.hard(cp.not(cv), cp.lit(ev))
		}
	}

	// edge variables activate both endpoints; direct edges are also plain
	// dependencies
	cp.edgeAttrs = append(cp.edgeAttrs, ix.mentioned[CDepends]...)
	for _, c := range ix.mentioned[CDepends] {
		child := c.Child
		if cp.inst.Packages[child] != nil && cp.inst.Packages[child].Virtual {
			cp.hard(cp.not(c.Var()), cp.lit(virtualVar(child)))
		} else {
			cp.hard(cp.not(c.Var()), cp.lit(nodeVar(child)))
		}
		cp.hard(cp.not(c.Var()), cp.lit(nodeVar(c.Pkg)))
	}

	// an edge that is neither requested nor imposed by a holding condition
	// cannot appear out of thin air
	literalFacts := map[string]bool{}
	for _, lit := range cp.inst.Literals {
		for _, c := range lit.Clauses {
			literalFacts[c.Var()] = true
		}
	}
	for _, c := range ix.mentioned[CDepends] {
		v := c.Var()
		if literalFacts[v] {
			continue
		}
		lits := []maxsat.Lit{cp.not(v)}
		for _, s := range support[v] {
			lits = append(lits, cp.lit(s))
		}
		cp.hard(lits...)
	}
}

func (cp *CompiledProblem) errorVar(priority int, msg string, args ...string) string {
	c := Constraint{Kind: CError, Num: priority, Value: msg, Args: args}
	v := c.Var()
	if _, ok := cp.errorVars[v]; !ok {
		cp.errorVars[v] = &ErrorPayload{Priority: priority, Message: msg, Args: args}
		// errors are costly but not impossible: they surface as
		// diagnostics inside a nominally satisfiable model
		cp.soft(weightError*(priority+1), cp.not(v))
	}
	return v
}

// compileProviders picks exactly one provider per needed virtual.
func (cp *CompiledProblem) compileProviders() {
	for _, virt := range sortedKeys(cp.inst.Providers) {
		providers := cp.inst.Providers[virt]
		vv := virtualVar(virt)
		cp.regFact(vv, AttrFact{Name: "virtual_node", Args: []string{virt}})
		lits := []maxsat.Lit{cp.not(vv)}
		var vars []string
		for slot, p := range providers {
			c := Constraint{Kind: CProvider, Pkg: p, Child: virt}
			cp.provAttrs = append(cp.provAttrs, c)
			pv := c.Var()
			vars = append(vars, pv)
			lits = append(lits, cp.lit(pv))
			cp.hard(cp.not(pv), cp.lit(nodeVar(p)))
			cp.hard(cp.not(pv), cp.lit(vv))
			if slot > 0 {
				cp.soft(slot*weightProvider, cp.not(pv))
			}
		}
		cp.hard(lits...)
		cp.atMostOne(vars)
	}
}

// compileExternalsAndRequirements adds slot exclusivity, buildability and
// requirement-group cardinalities; the per-condition wiring happened in
// compileConditions.
func (cp *CompiledProblem) compileExternalsAndRequirements() {
	for _, name := range sortedPackages(cp.inst) {
		rules := cp.inst.Packages[name]
		if rules.Virtual {
			continue
		}
		var slots []string
		for _, ext := range rules.Externals {
			sv := cp.condVarName(ext.Cond)
			cp.regFact(sv, AttrFact{Name: "external_spec_selected", Args: []string{name, fmt.Sprint(ext.Slot)}})
			slots = append(slots, sv)
			cp.hard(cp.not(sv), cp.lit(nodeVar(name)))
			if ext.Slot > 0 {
				cp.soft(ext.Slot*weightRequirement, cp.not(sv))
			}
		}
		cp.atMostOne(slots)
		if !rules.Buildable {
			lits := []maxsat.Lit{cp.not(nodeVar(name))}
			for _, sv := range slots {
				lits = append(lits, cp.lit(sv))
			}
			cp.hard(lits...)
		}

		for _, g := range rules.Requirements {
			var members []string
			lits := []maxsat.Lit{cp.not(nodeVar(name))}
			for _, m := range g.Members {
				mv := cp.condVarName(m.Cond)
				members = append(members, mv)
				lits = append(lits, cp.lit(mv))
				if m.Index > 0 {
					cp.soft(m.Index*weightRequirement, cp.not(mv))
				}
			}
			// node → at least one member holds
			cp.hard(lits...)
			if g.Policy == repoPolicyOneOf {
				cp.atMostOne(members)
			}
		}
	}
}

// compileReuse offers each installed spec as a hash choice pinning the
// node's attributes; a node that is neither reused, external nor spliced is
// a fresh build, which is penalized.
func (cp *CompiledProblem) compileReuse() {
	for _, r := range cp.inst.Reuse {
		hv := Constraint{Kind: CHash, Pkg: r.Spec.Name, Value: r.Spec.DagHash()}.Var()
		cp.regFact(hv, AttrFact{Name: "hash", Args: []string{r.Spec.Name, r.Spec.DagHash()}})
		cp.hashVars[r.Spec.Name] = append(cp.hashVars[r.Spec.Name], hashChoice{v: hv, entry: r})
		for _, c := range r.Clauses {
			if c.Kind == CFlag || c.Kind == CHash {
				continue
			}
			cp.hard(cp.not(hv), cp.lit(c.Var()))
		}
	}

	spliceByPkg := map[string][]string{}
	for _, cond := range cp.inst.Conditions {
		if cond.Kind == CondSplice && cond.Splice != nil {
			sv := cp.condVarName(cond)
			cp.regFact(sv, AttrFact{Name: "splice_at_hash",
				Args: []string{cond.Splice.TargetPkg, cond.Splice.Hash}})
			spliceByPkg[cond.Splice.TargetPkg] = append(spliceByPkg[cond.Splice.TargetPkg], sv)
		}
	}

	for _, name := range sortedPackages(cp.inst) {
		rules := cp.inst.Packages[name]
		if rules.Virtual {
			continue
		}
		bv := buildVar(name)
		lits := []maxsat.Lit{cp.not(nodeVar(name)), cp.lit(bv)}
		var alternatives []string
		for _, hc := range cp.hashVars[name] {
			alternatives = append(alternatives, hc.v)
		}
		alternatives = append(alternatives, spliceByPkg[name]...)
		for _, a := range alternatives {
			lits = append(lits, cp.lit(a))
		}
		for _, ext := range rules.Externals {
			lits = append(lits, cp.lit(cp.condVarName(ext.Cond)))
		}
		cp.atMostOne(alternatives)
		// node → reused ∨ spliced ∨ external ∨ build
		cp.hard(lits...)
		cp.soft(weightBuild, cp.not(bv))
	}
}

// compileLiterals asserts every request fact as a hard clause, minus the
// skip set used by core minimization.
func (cp *CompiledProblem) compileLiterals() {
	for _, lit := range cp.inst.Literals {
		for _, c := range lit.Clauses {
			if c.Kind == CFlag {
				continue
			}
			line := c.Var()
			if cp.skip[line] {
				continue
			}
			cp.hard(cp.lit(line))
		}
	}
}

const repoPolicyOneOf = "one_of"

func sortedPackages(inst *ProblemInstance) []string {
	names := make([]string, 0, len(inst.Packages))
	for n := range inst.Packages {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
