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

	"github.com/quarry-sh/quarry/internal/spec"
)

// ConditionKind tells which directive family produced a condition.
type ConditionKind int

const (
	CondDependency ConditionKind = iota
	CondConflict
	CondProvider
	CondExternal
	CondRequirement
	CondRuntime
	CondVariantGuard
	CondSplice
	CondLiteral
)

func (k ConditionKind) originSuffix() string {
	switch k {
	case CondDependency, CondRuntime:
		return "dep"
	case CondRequirement:
		return "req"
	default:
		return "cond"
	}
}

// DepPayload carries the edge a dependency condition creates when it holds.
type DepPayload struct {
	Parent   string
	Child    string
	DepTypes spec.DepType
	Direct   bool
	Virtuals []string
}

// ErrorPayload carries the error relation a conflict condition fires.
type ErrorPayload struct {
	Priority int
	Message  string
	Args     []string
}

// SplicePayload names the reusable spec a splice condition substitutes.
type SplicePayload struct {
	TargetPkg string
	Hash      string
}

// Condition is one deduplicated trigger → effect rule.
type Condition struct {
	ID     int
	Pkg    string
	Kind   ConditionKind
	Reason string
	// Parent links a subcondition to the condition guarding it.
	Parent int

	TriggerID int
	EffectID  int
	Trigger   []Constraint
	Effect    []Constraint

	Dep    *DepPayload
	Err    *ErrorPayload
	Splice *SplicePayload

	flushed bool

	// Weight is used by requirement members (ascending, first cheapest)
	// and external slots (descending version order).
	Weight int
}

type cacheKey struct {
	specText  string
	transform string
}

type cacheEntry struct {
	id      int
	clauses []Constraint
}

// transform post-processes the fact list a trigger or effect emits; named so
// identical (spec, transform) pairs share one cache slot.
type transform struct {
	name string
	fn   func([]Constraint) []Constraint
}

var identityTransform = transform{name: "identity", fn: func(cs []Constraint) []Constraint { return cs }}

// ConditionContext assigns condition/trigger/effect ids and deduplicates
// trigger and effect encodings per package. The caches are flushed once per
// package, after all directives for that package have been visited.
type ConditionContext struct {
	nextCondition int
	nextTrigger   int
	nextEffect    int

	conditions []*Condition

	triggerCache map[string]map[cacheKey]*cacheEntry
	effectCache  map[string]map[cacheKey]*cacheEntry
}

// NewConditionContext returns an empty context.
func NewConditionContext() *ConditionContext {
	return &ConditionContext{
		triggerCache: map[string]map[cacheKey]*cacheEntry{},
		effectCache:  map[string]map[cacheKey]*cacheEntry{},
	}
}

// Conditions returns all registered conditions in id order.
func (c *ConditionContext) Conditions() []*Condition { return c.conditions }

func (c *ConditionContext) cachedTrigger(pkg string, sp *spec.Spec, tr transform, opts clauseOpts) (*cacheEntry, error) {
	return c.cached(c.triggerCache, c.nextID(&c.nextTrigger), pkg, sp, tr, opts)
}

func (c *ConditionContext) cachedEffect(pkg string, sp *spec.Spec, tr transform, opts clauseOpts) (*cacheEntry, error) {
	return c.cached(c.effectCache, c.nextID(&c.nextEffect), pkg, sp, tr, opts)
}

func (c *ConditionContext) nextID(counter *int) func() int {
	return func() int {
		*counter++
		return *counter
	}
}

func (c *ConditionContext) cached(cache map[string]map[cacheKey]*cacheEntry, next func() int,
	pkg string, sp *spec.Spec, tr transform, opts clauseOpts) (*cacheEntry, error) {

	key := cacheKey{specText: sp.String(), transform: tr.name}
	perPkg, ok := cache[pkg]
	if !ok {
		perPkg = map[cacheKey]*cacheEntry{}
		cache[pkg] = perPkg
	}
	if entry, ok := perPkg[key]; ok {
		return entry, nil
	}
	clauses, err := specClauses(sp, opts)
	if err != nil {
		return nil, err
	}
	entry := &cacheEntry{id: next(), clauses: tr.fn(clauses)}
	perPkg[key] = entry
	return entry, nil
}

// Add registers one condition for pkg. trigger must be non-nil; a nil effect
// means the condition only fires its payload (edge, error, splice).
func (c *ConditionContext) Add(pkg string, kind ConditionKind, reason string,
	trigger, effect *spec.Spec, effectTr transform) (*Condition, error) {

	origin := kind.originSuffix()
	trEntry, err := c.cachedTrigger(pkg, trigger, identityTransform, clauseOpts{
		body: true, transitive: true, origin: origin, requireFromPkg: pkg,
	})
	if err != nil {
		return nil, err
	}

	cond := &Condition{
		Pkg:       pkg,
		Kind:      kind,
		Reason:    reason,
		TriggerID: trEntry.id,
		Trigger:   trEntry.clauses,
	}
	if effect != nil {
		effEntry, err := c.cachedEffect(pkg, effect, effectTr, clauseOpts{
			transitive: true, origin: origin, requireFromPkg: pkg,
		})
		if err != nil {
			return nil, err
		}
		cond.EffectID = effEntry.id
		cond.Effect = effEntry.clauses
	}
	c.nextCondition++
	cond.ID = c.nextCondition
	c.conditions = append(c.conditions, cond)
	return cond, nil
}

// FlushPackage renders the condition facts of one package into the builder
// and drops the package's caches. Rendering order is deterministic: by
// condition id.
func (c *ConditionContext) FlushPackage(pkg string, b *ProblemBuilder) {
	var conds []*Condition
	for _, cond := range c.conditions {
		if cond.Pkg == pkg && !cond.flushed {
			conds = append(conds, cond)
		}
	}
	sort.Slice(conds, func(i, j int) bool { return conds[i].ID < conds[j].ID })

	for _, cond := range conds {
		cond.flushed = true
		b.Fact(PkgFact(pkg, NewAtom("condition", Num(cond.ID))))
		b.Fact(PkgFact(pkg, NewAtom("condition_reason", Num(cond.ID), Str(cond.Reason))))
		b.Fact(PkgFact(pkg, NewAtom("condition_trigger", Num(cond.ID), Num(cond.TriggerID))))
		for _, t := range cond.Trigger {
			b.Fact(PkgFact(pkg, NewAtom(
				fmt.Sprintf("trigger_%s", cond.Kind.originSuffix()),
				Num(cond.TriggerID), Fn(t.Atom()))))
		}
		if cond.EffectID != 0 {
			b.Fact(PkgFact(pkg, NewAtom("condition_effect", Num(cond.ID), Num(cond.EffectID))))
			for _, e := range cond.Effect {
				b.Fact(PkgFact(pkg, NewAtom(
					fmt.Sprintf("imposed_%s", cond.Kind.originSuffix()),
					Num(cond.EffectID), Fn(e.Atom()))))
			}
		}
		if cond.Parent != 0 {
			b.Fact(PkgFact(pkg, NewAtom("subcondition", Num(cond.ID), Num(cond.Parent))))
		}
	}

	delete(c.triggerCache, pkg)
	delete(c.effectCache, pkg)
}
