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
	"sort"
	"strconv"
	"strings"

	log "github.com/Masterminds/log-go"

	"github.com/quarry-sh/quarry/internal/repo"
	"github.com/quarry-sh/quarry/internal/spec"
	"github.com/quarry-sh/quarry/internal/vsn"
	"github.com/quarry-sh/quarry/pkg/cli"
)

// AttrKind is the closed set of model attributes the builder interprets.
type AttrKind int

const (
	AttrHash AttrKind = iota
	AttrNode
	AttrNamespace
	AttrVersion
	AttrPlatform
	AttrOS
	AttrTarget
	AttrVariantValue
	AttrFlag
	AttrDependsOn
	AttrDirectDependency
	AttrExternal
	AttrVirtualOnEdge
	AttrSpliceAtHash
	AttrIgnored
)

// ignorableAttrs exist purely to drive the solve and carry no
// reconstruction semantics.
var ignorableAttrs = map[string]bool{
	"virtual_node":             true,
	"provider":                 true,
	"build":                    true,
	"node_version_satisfies":   true,
	"variant_propagate":        true,
	"condition_holds":          true,
	"requirement_member_holds": true,
}

func attrKindOf(name string) AttrKind {
	switch name {
	case "hash":
		return AttrHash
	case "node":
		return AttrNode
	case "namespace":
		return AttrNamespace
	case "version":
		return AttrVersion
	case "node_platform":
		return AttrPlatform
	case "node_os":
		return AttrOS
	case "node_target":
		return AttrTarget
	case "variant_value":
		return AttrVariantValue
	case "node_flag":
		return AttrFlag
	case "depends_on":
		return AttrDependsOn
	case "direct_dependency":
		return AttrDirectDependency
	case "external_spec_selected":
		return AttrExternal
	case "virtual_on_edge":
		return AttrVirtualOnEdge
	case "splice_at_hash":
		return AttrSpliceAtHash
	}
	if !ignorableAttrs[name] {
		log.Debugf("ignoring unrecognized model attribute %q", name)
	}
	return AttrIgnored
}

// attrOrder fixes the processing phase of each attribute kind: reused
// hashes first, node shells second, everything else in the middle, and the
// two kinds that need fully-populated nodes last.
func attrOrder(k AttrKind) int {
	switch k {
	case AttrHash:
		return -5
	case AttrNode:
		return -4
	case AttrExternal:
		return 1
	case AttrVirtualOnEdge:
		return 2
	default:
		return 0
	}
}

// SpecBuilder reconstructs a concrete dependency DAG from the winning
// model's flat attribute facts.
type SpecBuilder struct {
	Repo     repo.PackageRepo
	Settings *cli.Settings

	inst    *ProblemInstance
	specs   map[string]*spec.Spec
	splices map[string]string // target package → replacement hash
}

// NewSpecBuilder returns a builder for one answer interpretation pass.
func NewSpecBuilder(inst *ProblemInstance, r repo.PackageRepo, settings *cli.Settings) *SpecBuilder {
	if settings == nil {
		settings = cli.DefaultSettings()
	}
	return &SpecBuilder{
		Repo:     r,
		Settings: settings,
		inst:     inst,
		specs:    map[string]*spec.Spec{},
		splices:  map[string]string{},
	}
}

// Build interprets the decoded model and returns the concrete spec for
// every solved node, keyed by package name. All returned specs share
// structure: equal hashes are the identical object.
func (sb *SpecBuilder) Build(dm *DecodedModel) (map[string]*spec.Spec, error) {
	attrs := make([]AttrFact, len(dm.Attrs))
	copy(attrs, dm.Attrs)
	sort.SliceStable(attrs, func(i, j int) bool {
		return attrOrder(attrKindOf(attrs[i].Name)) < attrOrder(attrKindOf(attrs[j].Name))
	})

	for _, a := range attrs {
		if err := sb.apply(a, dm); err != nil {
			return nil, err
		}
	}

	if err := sb.injectPatches(); err != nil {
		return nil, err
	}
	if err := sb.reorderFlags(); err != nil {
		return nil, err
	}
	if err := sb.applySplices(dm); err != nil {
		return nil, err
	}
	return sb.unify()
}

func (sb *SpecBuilder) apply(a AttrFact, dm *DecodedModel) error {
	kind := attrKindOf(a.Name)
	switch kind {
	case AttrIgnored:
		return nil
	case AttrHash:
		entry, ok := dm.Reused[a.Args[1]]
		if !ok {
			return internalErrorf("model selected hash %s with no reused spec behind it", a.Args[1])
		}
		sb.specs[a.Args[0]] = entry.Spec
		return nil
	case AttrNode:
		if sb.specs[a.Args[0]] == nil {
			sb.specs[a.Args[0]] = spec.New(a.Args[0])
		}
		return nil
	case AttrSpliceAtHash:
		sb.splices[a.Args[0]] = a.Args[1]
		return nil
	}

	s := sb.specs[a.Args[0]]
	if s == nil {
		return internalErrorf("model attribute %s names unknown node %q", a, a.Args[0])
	}
	// reused nodes are immutable; everything they say is already in the
	// spec object, except flag provenance which we keep for bookkeeping
	if s.Concrete() && kind != AttrFlag {
		return nil
	}

	switch kind {
	case AttrNamespace:
		s.Namespace = a.Args[1]
	case AttrVersion:
		v := vsn.New(a.Args[1])
		s.Versions = vsn.Range{Lo: v, Hi: v, Exact: true}
	case AttrPlatform:
		s.Arch.Platform = a.Args[1]
	case AttrOS:
		s.Arch.OS = a.Args[1]
	case AttrTarget:
		s.Arch.Target = a.Args[1]
	case AttrVariantValue:
		return sb.applyVariant(s, a.Args[1], a.Args[2])
	case AttrFlag:
		if !s.Concrete() {
			s.AddFlag(a.Args[1], spec.CompilerFlag{
				Flag: a.Args[2], FlagGroup: a.Args[3], Source: a.Args[4],
			})
		}
	case AttrDependsOn, AttrDirectDependency:
		child := sb.specs[a.Args[1]]
		if child == nil {
			return internalErrorf("model edge %s names unknown node %q", a, a.Args[1])
		}
		types, err := spec.ParseDepType(a.Args[2])
		if err != nil {
			return internalErrorf("model edge %s carries bad dependency types: %v", a, err)
		}
		s.AttachEdgeForBuild(&spec.Edge{
			Spec: child, DepTypes: types, Direct: kind == AttrDirectDependency,
		})
	case AttrExternal:
		sb.applyExternal(s, a.Args[1])
	case AttrVirtualOnEdge:
		child := sb.specs[a.Args[1]]
		if child == nil {
			return internalErrorf("model fact %s names unknown node %q", a, a.Args[1])
		}
		if err := s.UpdateEdgeVirtuals(child, a.Args[2]); err != nil {
			return internalErrorf("wiring virtual %q: %v", a.Args[2], err)
		}
	}
	return nil
}

func (sb *SpecBuilder) applyVariant(s *spec.Spec, name, value string) error {
	multi := false
	if meta, err := sb.Repo.Get(s.Name); err == nil {
		for _, def := range meta.VariantDefs(name) {
			multi = def.Multi
		}
	}
	if multi {
		s.AppendVariantValue(name, value)
		return nil
	}
	return s.SetVariant(&spec.VariantValue{Name: name, Values: []string{value}})
}

func (sb *SpecBuilder) applyExternal(s *spec.Spec, slot string) {
	rules := sb.inst.Packages[s.Name]
	if rules == nil {
		return
	}
	for _, ext := range rules.Externals {
		if strconv.Itoa(ext.Slot) == slot && ext.Spec.External != nil {
			e := *ext.Spec.External
			e.Modules = append([]string(nil), ext.Spec.External.Modules...)
			s.External = &e
			return
		}
	}
}

// injectPatches collects, for every non-reused node, the package patches
// whose condition the node satisfies plus the patches declared on its
// incoming dependency edges, and stores them as the multi-valued "patches"
// variant in declaration order. That order feeds the dag hash, so it must
// be stable.
func (sb *SpecBuilder) injectPatches() error {
	type rankedPatch struct {
		sha      string
		index    int
		ordering int
	}
	collected := map[string][]rankedPatch{}

	for _, name := range sb.nodeNames() {
		s := sb.specs[name]
		if s.Concrete() {
			continue
		}
		meta, err := sb.Repo.Get(name)
		if err != nil {
			continue
		}
		for _, p := range meta.Patches {
			if p.When == nil || s.Satisfies(p.When) {
				collected[name] = append(collected[name], rankedPatch{p.Sha256, p.Index, p.Ordering})
			}
		}
	}

	// edge patches: declared on the dependent, applied to the dependency
	for _, name := range sb.nodeNames() {
		parent := sb.specs[name]
		if parent.Concrete() {
			continue
		}
		meta, err := sb.Repo.Get(name)
		if err != nil {
			continue
		}
		for _, e := range parent.Edges() {
			child := e.Spec
			if child.Concrete() {
				continue
			}
			for _, d := range meta.Dependencies {
				if d.Spec.Name != child.Name && !containsStr(e.Virtuals, d.Spec.Name) {
					continue
				}
				if d.When != nil && !parent.Satisfies(d.When) {
					continue
				}
				if !child.Satisfies(d.Spec) {
					continue
				}
				for _, p := range d.Patches {
					if p.When == nil || child.Satisfies(p.When) {
						collected[child.Name] = append(collected[child.Name],
							rankedPatch{p.Sha256, p.Index, p.Ordering})
					}
				}
			}
		}
	}

	for name, patches := range collected {
		sort.SliceStable(patches, func(i, j int) bool {
			if patches[i].index != patches[j].index {
				return patches[i].index < patches[j].index
			}
			return patches[i].ordering < patches[j].ordering
		})
		for _, p := range patches {
			sb.specs[name].AppendVariantValue("patches", p.sha)
		}
	}
	return nil
}

// flagClass partitions compiler flags by contributing source: compiler
// definitions first, then dependents in topological order, then
// requirements, then the command-line request last.
func flagClass(source string) int {
	base := source
	if i := strings.IndexByte(source, ':'); i >= 0 {
		base = source[:i]
	}
	switch base {
	case "compiler":
		return 0
	case "require", "requirement":
		return 2
	case "literal", "":
		return 3
	default:
		return 1
	}
}

func flagSourceName(source string) string {
	if i := strings.IndexByte(source, ':'); i >= 0 {
		return source[:i]
	}
	return source
}

// reorderFlags re-sorts the flags of every non-reused node per flag type.
// Within one contributing source the original order and grouping are kept
// exactly; the sort only interleaves sources, never flags inside a source.
func (sb *SpecBuilder) reorderFlags() error {
	var roots []*spec.Spec
	for _, name := range sb.inst.Roots {
		if s := sb.specs[name]; s != nil {
			roots = append(roots, s)
		}
	}
	idx := spec.BuildDependentsIndex(roots)

	for _, name := range sb.nodeNames() {
		s := sb.specs[name]
		if s.Concrete() {
			continue
		}
		pos := map[string]int{}
		for i, n := range idx.ParentsPostOrder(s) {
			pos[n] = i
		}
		for _, ft := range spec.FlagTypes {
			flags := s.Flags[ft]
			if len(flags) < 2 {
				continue
			}
			before := flagMultiset(flags)

			reordered := make([]spec.CompilerFlag, len(flags))
			copy(reordered, flags)
			sort.SliceStable(reordered, func(i, j int) bool {
				ci, cj := flagClass(reordered[i].Source), flagClass(reordered[j].Source)
				if ci != cj {
					return ci < cj
				}
				if ci == 1 {
					pi, pok := pos[flagSourceName(reordered[i].Source)]
					pj, qok := pos[flagSourceName(reordered[j].Source)]
					if pok && qok && pi != pj {
						return pi < pj
					}
					if reordered[i].FlagGroup != reordered[j].FlagGroup {
						return reordered[i].FlagGroup < reordered[j].FlagGroup
					}
				}
				return false
			})

			if flagMultiset(reordered) != before {
				return internalErrorf("flag reordering changed the %s flag set of %s", ft, name)
			}
			s.Flags[ft] = reordered
		}
	}
	return nil
}

func flagMultiset(flags []spec.CompilerFlag) string {
	keys := make([]string, len(flags))
	for i, f := range flags {
		keys[i] = f.Flag + "\x00" + f.FlagGroup + "\x00" + f.Source
	}
	sort.Strings(keys)
	return strings.Join(keys, "\x01")
}

// applySplices substitutes reused subtrees selected by the solve and any
// explicitly configured splices, before hashes are assigned.
func (sb *SpecBuilder) applySplices(dm *DecodedModel) error {
	for _, target := range sortedStrKeys(sb.splices) {
		entry, ok := dm.Reused[sb.splices[target]]
		if !ok {
			return internalErrorf("splice names hash %s with no reused spec behind it", sb.splices[target])
		}
		sb.replaceNode(target, entry.Spec, true)
	}

	for _, ex := range sb.Settings.Concretizer.Splice.Explicit {
		pattern, err := spec.Parse(ex.Target)
		if err != nil {
			log.Warnf("ignoring splice with malformed target %q: %v", ex.Target, err)
			continue
		}
		replPattern, err := spec.Parse(ex.Replacement)
		if err != nil {
			log.Warnf("ignoring splice with malformed replacement %q: %v", ex.Replacement, err)
			continue
		}
		var repl *spec.Spec
		for _, r := range sb.inst.Reuse {
			if r.Spec.Satisfies(replPattern) {
				repl = r.Spec
				break
			}
		}
		if repl == nil {
			log.Warnf("no installed spec matches splice replacement %q", ex.Replacement)
			continue
		}
		for _, name := range sb.nodeNames() {
			s := sb.specs[name]
			if s != repl && !s.Concrete() && s.Satisfies(pattern) {
				sb.replaceNode(name, repl, ex.Transitive)
			}
		}
	}
	return nil
}

// replaceNode rewires every edge pointing at the named node to point at the
// replacement instead. Non-transitive replacement only touches edges of the
// request roots.
func (sb *SpecBuilder) replaceNode(target string, repl *spec.Spec, transitive bool) {
	rootSet := map[string]bool{}
	for _, r := range sb.inst.Roots {
		rootSet[r] = true
	}
	for _, name := range sb.nodeNames() {
		s := sb.specs[name]
		if s.Concrete() || (!transitive && !rootSet[name]) {
			continue
		}
		for _, e := range s.Edges() {
			if e.Spec.Name == target && e.Spec != repl {
				e.Spec = repl
			}
		}
	}
	if old := sb.specs[target]; old != nil && old != repl {
		sb.specs[target] = repl
	}
}

// unify finalizes hashes bottom-up and re-inserts everything into a fresh
// hash-keyed container so structurally identical subtrees become one
// object.
func (sb *SpecBuilder) unify() (map[string]*spec.Spec, error) {
	byHash := spec.NewConcreteSpecsByHash()
	for _, name := range sb.inst.Roots {
		root := sb.specs[name]
		if root == nil {
			continue
		}
		if err := root.Finalize(); err != nil {
			return nil, internalErrorf("finalizing %s: %v", name, err)
		}
		if _, err := byHash.Add(root); err != nil {
			return nil, internalErrorf("unifying %s: %v", name, err)
		}
	}

	out := map[string]*spec.Spec{}
	for _, name := range sb.nodeNames() {
		s := sb.specs[name]
		if s.DagHash() == "" {
			// nodes not reachable from any root keep their private object
			if err := s.Finalize(); err != nil {
				return nil, internalErrorf("finalizing %s: %v", name, err)
			}
		}
		if unified := byHash.Get(s.DagHash()); unified != nil {
			out[name] = unified
		} else {
			out[name] = s
		}
	}
	return out, nil
}

func (sb *SpecBuilder) nodeNames() []string {
	names := make([]string, 0, len(sb.specs))
	for n := range sb.specs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func sortedStrKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func containsStr(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

