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

	log "github.com/Masterminds/log-go"
	"github.com/pkg/errors"

	"github.com/quarry-sh/quarry/internal/platform"
	"github.com/quarry-sh/quarry/internal/repo"
	"github.com/quarry-sh/quarry/internal/spec"
	"github.com/quarry-sh/quarry/internal/vsn"
	"github.com/quarry-sh/quarry/pkg/cli"
)

// VersionOrigin ranks where a declared version came from; lower ranks are
// preferred when ordering version facts.
type VersionOrigin int

const (
	OriginPackage VersionOrigin = iota
	OriginExternal
	OriginPreference
	OriginSpec
	OriginInstalled
)

func (o VersionOrigin) String() string {
	switch o {
	case OriginPackage:
		return "package"
	case OriginExternal:
		return "external"
	case OriginPreference:
		return "preference"
	case OriginSpec:
		return "spec"
	default:
		return "installed"
	}
}

// DeclaredVersion is one candidate version with its provenance and its
// position among versions from the same origin.
type DeclaredVersion struct {
	Version    vsn.Version
	Preference int
	Origin     VersionOrigin
	Deprecated bool
}

// RankedVersion is a declared version after global ordering; Weight is its
// position, 0 the most preferred.
type RankedVersion struct {
	Version    vsn.Version
	Weight     int
	Origin     VersionOrigin
	Deprecated bool
}

// VariantRule is one variant definition with its global definition id.
type VariantRule struct {
	DefID   int
	Name    string
	Default string
	Multi   bool
	Values  []string
	// DisabledValues maps a value to the condition under which it is
	// rejected (a guaranteed conflict).
	DisabledValues map[string]*Condition
	// When gates a conditional definition.
	When *Condition
}

// ExternalRule is one externally-available spec at a numbered slot.
type ExternalRule struct {
	Slot int
	Spec *spec.Spec
	Cond *Condition
}

// ReqMember is one alternative of a requirement group.
type ReqMember struct {
	Index int
	Cond  *Condition
}

// RequirementGroup is a policy group of requirement alternatives.
type RequirementGroup struct {
	GID     int
	Pkg     string
	Policy  repo.RequirementPolicy
	Message string
	Members []ReqMember
}

// PkgRules is everything the solver knows about one possible package.
type PkgRules struct {
	Name      string
	Namespace string
	Virtual   bool
	Buildable bool

	Versions     []RankedVersion
	Variants     []VariantRule
	Externals    []ExternalRule
	Requirements []RequirementGroup
}

// Literal is one request spec, encoded as hard facts plus an assumption
// marker used for core extraction.
type Literal struct {
	ID      int
	Source  string
	Spec    *spec.Spec
	Clauses []Constraint
}

// ReuseEntry is one installed concrete spec offered for reuse.
type ReuseEntry struct {
	Spec    *spec.Spec
	Clauses []Constraint
}

// ProblemInstance is the fully encoded problem: the rendered fact program
// plus the typed structures the compiler consumes.
type ProblemInstance struct {
	Builder    *ProblemBuilder
	Packages   map[string]*PkgRules
	Providers  map[string][]string
	Conditions []*Condition
	Literals   []*Literal
	Reuse      []*ReuseEntry
	Roots      []string

	// Tests includes test-type dependencies in the closure.
	Tests           bool
	AllowDeprecated bool

	// solve target, used to close arch domains
	DefaultPlatform string
	DefaultOS       string
	DefaultTarget   string
}

// Setup walks possible packages and encodes the problem. It owns no state
// across calls; one Setup serves one solve.
type Setup struct {
	Repo     repo.PackageRepo
	Platform platform.Platform
	Settings *cli.Settings

	Tests           bool
	AllowDeprecated bool
	// Randomize shuffles fact emission for benchmarking only.
	Randomize bool
	Seed      int64

	builder *ProblemBuilder
	ctx     *ConditionContext
	nextDef int
	nextGID int
	nextLit int
}

// GenerateProblem encodes requests and reuse specs into a ProblemInstance.
func (s *Setup) GenerateProblem(requests []*spec.Spec, reuse []*spec.Spec) (*ProblemInstance, error) {
	if s.Settings == nil {
		s.Settings = cli.DefaultSettings()
	}
	s.builder = NewProblemBuilder()
	s.builder.Randomize = s.Randomize
	s.builder.Seed = s.Seed
	s.ctx = NewConditionContext()

	inst := &ProblemInstance{
		Builder:         s.builder,
		Packages:        map[string]*PkgRules{},
		Providers:       map[string][]string{},
		Tests:           s.Tests,
		AllowDeprecated: s.AllowDeprecated,
	}
	if s.Platform == nil {
		s.Platform = platform.Default()
	}
	inst.DefaultPlatform = s.Platform.Name()
	inst.DefaultOS = s.Platform.DefaultOS()
	inst.DefaultTarget = s.Platform.DefaultTarget()

	reuse = s.filterReuse(reuse)

	possible, err := s.possiblePackages(requests, reuse)
	if err != nil {
		return nil, err
	}

	s.builder.H1("Package rules")
	for _, name := range possible {
		if s.Repo.IsVirtual(name) {
			inst.Packages[name] = &PkgRules{Name: name, Virtual: true, Buildable: false}
			providers := []string{}
			for _, p := range s.Repo.Providers(name) {
				if contains(possible, p) {
					providers = append(providers, p)
				}
			}
			inst.Providers[name] = providers
			s.builder.H2(fmt.Sprintf("Virtual %q", name))
			for _, p := range providers {
				s.builder.Fact(PkgFact(name, NewAtom("possible_provider", Str(p))))
			}
			continue
		}
		rules, err := s.setupPackage(name, requests)
		if err != nil {
			return nil, err
		}
		inst.Packages[name] = rules
		s.ctx.FlushPackage(name, s.builder)
	}

	if err := s.setupCompilers(possible); err != nil {
		return nil, err
	}

	s.builder.H1("Reused specs")
	for _, r := range reuse {
		clauses, err := specClauses(r, clauseOpts{body: true, transitive: true, reuse: true})
		if err != nil {
			log.Warnf("skipping unusable reused spec %s: %v", r.Name, err)
			continue
		}
		for _, c := range clauses {
			s.builder.Fact(NewAtom("installed", Fn(c.Atom())))
		}
		inst.Reuse = append(inst.Reuse, &ReuseEntry{Spec: r, Clauses: clauses})
	}
	if err := s.setupSplices(inst, reuse, possible); err != nil {
		return nil, err
	}

	s.builder.H1("Request specs")
	for _, req := range requests {
		s.nextLit++
		lit := &Literal{ID: s.nextLit, Source: req.String(), Spec: req}
		clauses, err := specClauses(req, clauseOpts{body: true, keepNode: true, transitive: true})
		if err != nil {
			return nil, err
		}
		lit.Clauses = clauses
		s.builder.Fact(NewAtom("literal", Num(lit.ID), Str(lit.Source)))
		s.builder.Fact(NewAtom("solve_literal", Num(lit.ID)))
		for _, c := range clauses {
			s.builder.Fact(NewAtom("literal_constraint", Num(lit.ID), Fn(c.Atom())))
		}
		inst.Literals = append(inst.Literals, lit)
		inst.Roots = append(inst.Roots, req.Name)
	}

	inst.Conditions = s.ctx.Conditions()
	return inst, nil
}

// filterReuse applies the configured include/exclude lists.
func (s *Setup) filterReuse(reuse []*spec.Spec) []*spec.Spec {
	cfg := s.Settings.Concretizer.Reuse
	if len(cfg.Include) == 0 && len(cfg.Exclude) == 0 {
		return reuse
	}
	matches := func(r *spec.Spec, pats []string) bool {
		for _, p := range pats {
			pat, err := spec.Parse(p)
			if err != nil {
				log.Warnf("ignoring malformed reuse pattern %q: %v", p, err)
				continue
			}
			if r.Satisfies(pat) {
				return true
			}
		}
		return false
	}
	var out []*spec.Spec
	for _, r := range reuse {
		if len(cfg.Include) > 0 && !matches(r, cfg.Include) {
			continue
		}
		if matches(r, cfg.Exclude) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// possiblePackages computes the closed set of packages that can appear in a
// solution, expanding dependency declarations and virtual providers from the
// roots. The result is sorted.
func (s *Setup) possiblePackages(requests, reuse []*spec.Spec) ([]string, error) {
	seen := map[string]bool{}
	var stack []string

	push := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			stack = append(stack, name)
		}
	}

	for _, req := range requests {
		for _, node := range allNodes(req) {
			if !s.Repo.Exists(node) && !s.Repo.IsVirtual(node) {
				return nil, userErrorf("package %q not found", node)
			}
			push(node)
		}
	}
	for _, r := range reuse {
		for _, node := range allNodes(r) {
			if s.Repo.Exists(node) || s.Repo.IsVirtual(node) {
				push(node)
			}
		}
	}
	for _, c := range s.Platform.Compilers() {
		for _, csp := range []*spec.Spec{c.Spec, c.Runtime, c.Libc} {
			if csp != nil && s.Repo.Exists(csp.Name) {
				push(csp.Name)
			}
		}
	}

	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if s.Repo.IsVirtual(name) {
			for _, p := range s.Repo.Providers(name) {
				push(p)
			}
			continue
		}
		meta, err := s.Repo.Get(name)
		if err != nil {
			return nil, errors.Wrapf(err, "expanding possible packages")
		}
		for _, d := range meta.Dependencies {
			if d.Types&^spec.Test == 0 && !s.Tests {
				continue
			}
			dep := d.Spec.Name
			if !s.Repo.Exists(dep) && !s.Repo.IsVirtual(dep) {
				return nil, userErrorf("package %q (dependency of %q) not found", dep, name)
			}
			push(dep)
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// setupPackage emits all facts and conditions for one package.
func (s *Setup) setupPackage(name string, requests []*spec.Spec) (*PkgRules, error) {
	meta, err := s.Repo.Get(name)
	if err != nil {
		return nil, err
	}
	pkgCfg := s.Settings.ForPackage(name)

	rules := &PkgRules{
		Name:      name,
		Namespace: meta.Namespace,
		Buildable: pkgCfg.Buildable == nil || *pkgCfg.Buildable,
	}
	s.builder.H2(fmt.Sprintf("Package %q", name))
	if rules.Namespace != "" {
		s.builder.Fact(PkgFact(name, NewAtom("namespace", Str(rules.Namespace))))
	}
	if !rules.Buildable {
		s.builder.Fact(PkgFact(name, NewAtom("not_buildable")))
	}

	s.setupVersions(rules, meta, pkgCfg, requests)
	if err := s.setupVariants(rules, meta); err != nil {
		return nil, err
	}
	if err := s.setupDependencies(meta); err != nil {
		return nil, err
	}
	if err := s.setupConflicts(meta); err != nil {
		return nil, err
	}
	if err := s.setupProviders(meta); err != nil {
		return nil, err
	}
	if err := s.setupExternals(rules, meta, pkgCfg); err != nil {
		return nil, err
	}
	if err := s.setupRequirements(rules, meta, pkgCfg); err != nil {
		return nil, err
	}
	return rules, nil
}

// setupVersions ranks declared versions by (provenance, preference,
// descending value) and emits weighted facts.
func (s *Setup) setupVersions(rules *PkgRules, meta *repo.PackageMeta, pkgCfg cli.PackageSettings, requests []*spec.Spec) {
	var declared []DeclaredVersion
	have := map[string]bool{}

	preferred := map[string]int{}
	for i, p := range pkgCfg.PreferVersions {
		preferred[p] = i
	}

	for i, v := range meta.Versions {
		origin := OriginPackage
		pref := i
		if idx, ok := preferred[v.Version.String()]; ok {
			origin = OriginPreference
			pref = idx
		}
		declared = append(declared, DeclaredVersion{
			Version: v.Version, Preference: pref, Origin: origin, Deprecated: v.Deprecated,
		})
		have[v.Version.String()] = true
	}
	for i, e := range pkgCfg.Externals {
		ext, err := spec.Parse(e.Spec)
		if err != nil || ext.Name != meta.Name || ext.Versions.Any() {
			continue
		}
		v := ext.Versions.Version()
		if !have[v.String()] {
			declared = append(declared, DeclaredVersion{Version: v, Preference: i, Origin: OriginExternal})
			have[v.String()] = true
		}
	}
	// exact pins on the command line become candidates even when the
	// package never declared them
	for _, req := range requests {
		for _, node := range allNodeSpecs(req) {
			if node.Name != meta.Name || !node.Versions.Concrete() {
				continue
			}
			v := node.Versions.Version()
			if !have[v.String()] {
				declared = append(declared, DeclaredVersion{Version: v, Preference: 0, Origin: OriginSpec})
				have[v.String()] = true
			}
		}
	}

	sort.SliceStable(declared, func(i, j int) bool {
		if declared[i].Origin != declared[j].Origin {
			return declared[i].Origin < declared[j].Origin
		}
		if declared[i].Preference != declared[j].Preference {
			return declared[i].Preference < declared[j].Preference
		}
		return declared[j].Version.LessThan(declared[i].Version)
	})

	for w, d := range declared {
		rules.Versions = append(rules.Versions, RankedVersion{
			Version: d.Version, Weight: w, Origin: d.Origin, Deprecated: d.Deprecated,
		})
		s.builder.Fact(PkgFact(meta.Name, NewAtom("version_declared",
			Str(d.Version.String()), Num(w), Str(d.Origin.String()))))
		if d.Deprecated {
			s.builder.Fact(PkgFact(meta.Name, NewAtom("deprecated_version", Str(d.Version.String()))))
		}
	}
}

func (s *Setup) setupVariants(rules *PkgRules, meta *repo.PackageMeta) error {
	for _, def := range meta.Variants {
		s.nextDef++
		rule := VariantRule{
			DefID:          s.nextDef,
			Name:           def.Name,
			Default:        def.Default,
			Multi:          def.Multi,
			DisabledValues: map[string]*Condition{},
		}
		for _, v := range def.Values {
			rule.Values = append(rule.Values, v.Value)
			if v.When != nil {
				// conditionally-disabled value: choosing it outside the
				// condition is a guaranteed conflict
				cond, err := s.ctx.Add(meta.Name, CondVariantGuard,
					fmt.Sprintf("variant %s=%s is only available when %s", def.Name, v.Value, v.When),
					v.When, nil, identityTransform)
				if err != nil {
					return err
				}
				rule.DisabledValues[v.Value] = cond
			}
		}
		if len(rule.Values) == 0 && !rule.Multi {
			rule.Values = []string{"true", "false"}
			if rule.Default == "" {
				rule.Default = "false"
			}
		}
		if def.When != nil {
			cond, err := s.ctx.Add(meta.Name, CondVariantGuard,
				fmt.Sprintf("variant %s is defined when %s", def.Name, def.When),
				def.When, nil, identityTransform)
			if err != nil {
				return err
			}
			rule.When = cond
		}
		rules.Variants = append(rules.Variants, rule)

		s.builder.Fact(PkgFact(meta.Name, NewAtom("variant_definition",
			Num(rule.DefID), Str(rule.Name), Str(rule.Default), boolTerm(rule.Multi))))
		for _, v := range rule.Values {
			s.builder.Fact(PkgFact(meta.Name, NewAtom("variant_possible_value",
				Num(rule.DefID), Str(rule.Name), Str(v))))
		}
	}
	return nil
}

func (s *Setup) setupDependencies(meta *repo.PackageMeta) error {
	for _, d := range meta.Dependencies {
		if d.Types&^spec.Test == 0 && !s.Tests {
			continue
		}
		trigger := d.When
		if trigger == nil {
			trigger = spec.New(meta.Name)
		}
		cond, err := s.ctx.Add(meta.Name, CondDependency,
			fmt.Sprintf("%s depends on %s", meta.Name, d.Spec),
			trigger, d.Spec, identityTransform)
		if err != nil {
			return err
		}
		var virtuals []string
		if s.Repo.IsVirtual(d.Spec.Name) {
			virtuals = []string{d.Spec.Name}
		}
		cond.Dep = &DepPayload{
			Parent: meta.Name, Child: d.Spec.Name,
			DepTypes: d.Types, Virtuals: virtuals,
		}
	}
	return nil
}

func (s *Setup) setupConflicts(meta *repo.PackageMeta) error {
	for _, c := range meta.Conflicts {
		// the trigger is the conjunction of the when-spec and the
		// conflicting constraint on this package
		trigger := c.Spec
		if c.When != nil {
			trigger = mergeConstraints(c.When, c.Spec)
		}
		msg := c.Msg
		if msg == "" {
			msg = fmt.Sprintf("%s conflicts with %s", meta.Name, c.Spec)
		}
		cond, err := s.ctx.Add(meta.Name, CondConflict, msg, trigger, nil, identityTransform)
		if err != nil {
			return err
		}
		cond.Err = &ErrorPayload{Priority: 1, Message: msg, Args: []string{meta.Name}}
	}
	return nil
}

func (s *Setup) setupProviders(meta *repo.PackageMeta) error {
	for _, p := range meta.Provided {
		trigger := p.When
		if trigger == nil {
			trigger = spec.New(meta.Name)
		}
		cond, err := s.ctx.Add(meta.Name, CondProvider,
			fmt.Sprintf("%s provides %s", meta.Name, p.Virtual),
			trigger, nil, identityTransform)
		if err != nil {
			return err
		}
		cond.Dep = &DepPayload{Parent: p.Virtual.Name, Child: meta.Name}
	}
	return nil
}

// setupExternals emits one selectable slot per configured external, ordered
// by descending version.
func (s *Setup) setupExternals(rules *PkgRules, meta *repo.PackageMeta, pkgCfg cli.PackageSettings) error {
	type ext struct {
		sp  *spec.Spec
		cfg cli.ExternalSpec
	}
	var specs []ext
	for _, e := range pkgCfg.Externals {
		sp, err := spec.Parse(e.Spec)
		if err != nil {
			log.Warnf("ignoring malformed external %q: %v", e.Spec, err)
			continue
		}
		if sp.Name != meta.Name {
			continue
		}
		sp.External = &spec.External{Path: e.Prefix, Modules: append([]string(nil), e.Modules...)}
		specs = append(specs, ext{sp: sp, cfg: e})
	}
	sort.SliceStable(specs, func(i, j int) bool {
		return specs[j].sp.Versions.Version().LessThan(specs[i].sp.Versions.Version())
	})

	for slot, e := range specs {
		cond, err := s.ctx.Add(meta.Name, CondExternal,
			fmt.Sprintf("%s is available externally at %s", meta.Name, e.cfg.Prefix),
			e.sp, e.sp, identityTransform)
		if err != nil {
			return err
		}
		cond.Weight = slot
		rules.Externals = append(rules.Externals, ExternalRule{Slot: slot, Spec: e.sp, Cond: cond})
		s.builder.Fact(PkgFact(meta.Name, NewAtom("possible_external",
			Num(slot), Str(e.sp.String()))))
	}
	return nil
}

func (s *Setup) setupRequirements(rules *PkgRules, meta *repo.PackageMeta, pkgCfg cli.PackageSettings) error {
	groups := append([]repo.RequirementRule(nil), meta.Requirements...)
	for _, r := range pkgCfg.Require {
		rule := repo.RequirementRule{PkgName: meta.Name, Message: r.Msg, Kind: repo.RequirementDefault}
		switch {
		case len(r.OneOf) > 0:
			rule.Policy, rule.Specs = repo.PolicyOneOf, r.OneOf
		case len(r.AnyOf) > 0:
			rule.Policy, rule.Specs = repo.PolicyAnyOf, r.AnyOf
		case r.Spec != "":
			rule.Policy, rule.Specs = repo.PolicyOneOf, []string{r.Spec}
		default:
			continue
		}
		if r.When != "" {
			when, err := spec.Parse(r.When)
			if err != nil {
				log.Warnf("ignoring requirement with malformed condition %q: %v", r.When, err)
				continue
			}
			rule.Condition = when
		}
		groups = append(groups, rule)
	}

	for _, g := range groups {
		s.nextGID++
		group := RequirementGroup{GID: s.nextGID, Pkg: meta.Name, Policy: g.Policy, Message: g.Message}
		s.builder.Fact(PkgFact(meta.Name, NewAtom("requirement_group",
			Num(group.GID), Str(string(g.Policy)))))

		for i, member := range g.Specs {
			msp, err := spec.Parse(member)
			if err != nil {
				if g.Kind == repo.RequirementDefault {
					log.Debugf("skipping default requirement %q: %v", member, err)
					continue
				}
				return errors.Wrapf(err, "requirement on %q", meta.Name)
			}
			if msp.Name != meta.Name && !s.Repo.Exists(msp.Name) && !s.Repo.IsVirtual(msp.Name) {
				if g.Kind == repo.RequirementDefault {
					continue
				}
				return userErrorf("requirement on %q references unknown package %q", meta.Name, msp.Name)
			}
			trigger := g.Condition
			if trigger == nil {
				trigger = spec.New(meta.Name)
			}
			cond, err := s.ctx.Add(meta.Name, CondRequirement,
				fmt.Sprintf("%s requires %s", meta.Name, member),
				trigger, msp, identityTransform)
			if err != nil {
				if g.Kind == repo.RequirementDefault {
					log.Debugf("skipping default requirement %q: %v", member, err)
					continue
				}
				return err
			}
			cond.Weight = i
			group.Members = append(group.Members, ReqMember{Index: i, Cond: cond})
			s.builder.Fact(PkgFact(meta.Name, NewAtom("requirement_member",
				Num(group.GID), Num(i), Str(member))))
		}
		if len(group.Members) > 0 {
			rules.Requirements = append(rules.Requirements, group)
		}
	}
	return nil
}

// setupCompilers injects runtime and libc dependencies for every candidate
// compiler, deduplicated across languages.
func (s *Setup) setupCompilers(possible []string) error {
	s.builder.H1("Compilers and runtimes")
	seen := map[string]bool{}
	for _, c := range s.Platform.Compilers() {
		if c.Spec == nil || !contains(possible, c.Spec.Name) {
			continue
		}
		for _, injected := range []*spec.Spec{c.Runtime, c.Libc} {
			if injected == nil || !contains(possible, injected.Name) {
				continue
			}
			key := c.Spec.String() + "→" + injected.Name
			if seen[key] {
				continue
			}
			seen[key] = true
			// scoped to "when this compiler is used": any node with a
			// direct build dependency on the compiler drags the runtime in
			for _, pkg := range possible {
				if pkg == c.Spec.Name || s.Repo.IsVirtual(pkg) || RuntimeNames[pkg] {
					continue
				}
				trigger := spec.New(pkg)
				if err := trigger.AddDependencyEdge(c.Spec.Copy(), spec.Build); err != nil {
					return err
				}
				markDirect(trigger)
				cond, err := s.ctx.Add(pkg, CondRuntime,
					fmt.Sprintf("%s used as compiler for %s injects %s", c.Spec, pkg, injected.Name),
					trigger, injected, identityTransform)
				if err != nil {
					return err
				}
				cond.Dep = &DepPayload{
					Parent: pkg, Child: injected.Name,
					DepTypes: spec.Link | spec.Run,
				}
				s.ctx.FlushPackage(pkg, s.builder)
			}
		}
	}
	return nil
}

// setupSplices registers automatic splice opportunities: a reused spec whose
// package declares it can replace builds of a target package.
func (s *Setup) setupSplices(inst *ProblemInstance, reuse []*spec.Spec, possible []string) error {
	if !s.Settings.Concretizer.Splice.Automatic {
		return nil
	}
	s.builder.H1("Splices")
	for _, r := range reuse {
		if !s.Repo.Exists(r.Name) {
			continue
		}
		meta, err := s.Repo.Get(r.Name)
		if err != nil {
			return err
		}
		for _, rule := range meta.Splices {
			if !contains(possible, rule.Target.Name) {
				continue
			}
			if rule.When != nil && !r.Satisfies(rule.When) {
				continue
			}
			cond, err := s.ctx.Add(rule.Target.Name, CondSplice,
				fmt.Sprintf("%s can be spliced for %s", r, rule.Target),
				rule.Target, nil, identityTransform)
			if err != nil {
				return err
			}
			cond.Splice = &SplicePayload{TargetPkg: rule.Target.Name, Hash: r.DagHash()}
			s.builder.Fact(NewAtom("can_splice", Str(rule.Target.Name), Str(r.DagHash())))
			s.ctx.FlushPackage(rule.Target.Name, s.builder)
		}
	}
	return nil
}

func boolTerm(b bool) Term {
	if b {
		return Str("true")
	}
	return Str("false")
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// allNodes returns the package names of every node in a spec DAG.
func allNodes(sp *spec.Spec) []string {
	var names []string
	for _, n := range allNodeSpecs(sp) {
		names = append(names, n.Name)
	}
	return names
}

func allNodeSpecs(sp *spec.Spec) []*spec.Spec {
	var out []*spec.Spec
	seen := map[*spec.Spec]bool{}
	stack := []*spec.Spec{sp}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		out = append(out, cur)
		for _, e := range cur.Edges() {
			stack = append(stack, e.Spec)
		}
	}
	return out
}

// mergeConstraints overlays b's node constraints on a copy of a.
func mergeConstraints(a, b *spec.Spec) *spec.Spec {
	out := a.Copy()
	if out.Name == "" {
		out.Name = b.Name
	}
	if !b.Versions.Any() {
		out.Versions = b.Versions
	}
	for _, v := range b.SortedVariants() {
		cp := *v
		cp.Values = append([]string(nil), v.Values...)
		out.Variants[v.Name] = &cp
	}
	if b.Arch.Platform != "" {
		out.Arch.Platform = b.Arch.Platform
	}
	if b.Arch.OS != "" {
		out.Arch.OS = b.Arch.OS
	}
	if b.Arch.Target != "" {
		out.Arch.Target = b.Arch.Target
	}
	return out
}

// markDirect flags every edge of a freshly-built trigger spec as direct.
func markDirect(sp *spec.Spec) {
	for _, e := range sp.Edges() {
		e.Direct = true
	}
}
