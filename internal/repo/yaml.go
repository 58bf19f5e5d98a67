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

package repo

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/quarry-sh/quarry/internal/spec"
	"github.com/quarry-sh/quarry/internal/vsn"
)

// File formats for a YAML package repository. One file per package under
// packages/<name>.yaml, plus an optional repo.yaml naming the namespace.

type repoFile struct {
	Namespace string `json:"namespace,omitempty"`
}

type versionFile struct {
	Version    string `json:"version"`
	Deprecated bool   `json:"deprecated,omitempty"`
}

type variantValueFile struct {
	Value string `json:"value"`
	When  string `json:"when,omitempty"`
}

type variantFile struct {
	Name        string             `json:"name"`
	When        string             `json:"when,omitempty"`
	Default     string             `json:"default,omitempty"`
	Multi       bool               `json:"multi,omitempty"`
	Values      []variantValueFile `json:"values,omitempty"`
	Description string             `json:"description,omitempty"`
}

type dependencyFile struct {
	Spec    string      `json:"spec"`
	When    string      `json:"when,omitempty"`
	Types   []string    `json:"types,omitempty"`
	Patches []patchFile `json:"patches,omitempty"`
}

type conflictFile struct {
	Spec string `json:"spec"`
	When string `json:"when,omitempty"`
	Msg  string `json:"msg,omitempty"`
}

type provideFile struct {
	Virtual string `json:"virtual"`
	When    string `json:"when,omitempty"`
}

type patchFile struct {
	Sha256 string `json:"sha256"`
	When   string `json:"when,omitempty"`
}

type requirementFile struct {
	OneOf []string `json:"one_of,omitempty"`
	AnyOf []string `json:"any_of,omitempty"`
	Spec  string   `json:"spec,omitempty"`
	When  string   `json:"when,omitempty"`
	Msg   string   `json:"msg,omitempty"`
}

type spliceFile struct {
	Target        string   `json:"target"`
	When          string   `json:"when,omitempty"`
	MatchVariants []string `json:"match_variants,omitempty"`
}

type packageFile struct {
	Name         string            `json:"name"`
	Versions     []versionFile     `json:"versions,omitempty"`
	Variants     []variantFile     `json:"variants,omitempty"`
	Dependencies []dependencyFile  `json:"dependencies,omitempty"`
	Conflicts    []conflictFile    `json:"conflicts,omitempty"`
	Provides     []provideFile     `json:"provides,omitempty"`
	Patches      []patchFile       `json:"patches,omitempty"`
	Requirements []requirementFile `json:"requirements,omitempty"`
	Splices      []spliceFile      `json:"can_splice,omitempty"`
}

// Load reads a YAML repository from root. Missing repo.yaml defaults the
// namespace to "builtin".
func Load(root string) (*InMemory, error) {
	namespace := "builtin"
	if data, err := os.ReadFile(filepath.Join(root, "repo.yaml")); err == nil {
		var rf repoFile
		if err := yaml.Unmarshal(data, &rf); err != nil {
			return nil, errors.Wrap(err, "parsing repo.yaml")
		}
		if rf.Namespace != "" {
			namespace = rf.Namespace
		}
	}

	pkgDir := filepath.Join(root, "packages")
	entries, err := os.ReadDir(pkgDir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading package dir %q", pkgDir)
	}

	r := NewInMemory(namespace)
	names := []string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(pkgDir, name))
		if err != nil {
			return nil, errors.Wrapf(err, "reading %q", name)
		}
		meta, err := parsePackage(data)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %q", name)
		}
		if meta.Name == "" {
			meta.Name = strings.TrimSuffix(name, ".yaml")
		}
		r.AddPackage(meta)
	}
	return r, nil
}

func parsePackage(data []byte) (*PackageMeta, error) {
	var pf packageFile
	if err := yaml.UnmarshalStrict(data, &pf); err != nil {
		return nil, err
	}

	meta := &PackageMeta{Name: pf.Name}
	for _, v := range pf.Versions {
		meta.Versions = append(meta.Versions, VersionDecl{
			Version:    vsn.New(v.Version),
			Deprecated: v.Deprecated,
		})
	}
	for _, v := range pf.Variants {
		def := VariantDef{
			Name:        v.Name,
			Default:     v.Default,
			Multi:       v.Multi,
			Description: v.Description,
		}
		when, err := parseWhen(v.When)
		if err != nil {
			return nil, errors.Wrapf(err, "variant %q", v.Name)
		}
		def.When = when
		for _, val := range v.Values {
			vw, err := parseWhen(val.When)
			if err != nil {
				return nil, errors.Wrapf(err, "variant %q value %q", v.Name, val.Value)
			}
			def.Values = append(def.Values, VariantValueDef{Value: val.Value, When: vw})
		}
		meta.Variants = append(meta.Variants, def)
	}
	for _, d := range pf.Dependencies {
		depSpec, err := spec.Parse(d.Spec)
		if err != nil {
			return nil, errors.Wrapf(err, "dependency %q", d.Spec)
		}
		when, err := parseWhen(d.When)
		if err != nil {
			return nil, errors.Wrapf(err, "dependency %q", d.Spec)
		}
		types := spec.DefaultTypes
		if len(d.Types) > 0 {
			types, err = spec.ParseDepType(strings.Join(d.Types, ","))
			if err != nil {
				return nil, errors.Wrapf(err, "dependency %q", d.Spec)
			}
		}
		decl := DependencyDecl{Spec: depSpec, When: when, Types: types}
		for i, p := range d.Patches {
			pw, err := parseWhen(p.When)
			if err != nil {
				return nil, errors.Wrapf(err, "dependency %q patch", d.Spec)
			}
			decl.Patches = append(decl.Patches, PatchDecl{Sha256: p.Sha256, When: pw, Index: i, Ordering: 1})
		}
		meta.Dependencies = append(meta.Dependencies, decl)
	}
	for _, c := range pf.Conflicts {
		cs, err := spec.Parse(c.Spec)
		if err != nil {
			return nil, errors.Wrapf(err, "conflict %q", c.Spec)
		}
		when, err := parseWhen(c.When)
		if err != nil {
			return nil, errors.Wrapf(err, "conflict %q", c.Spec)
		}
		meta.Conflicts = append(meta.Conflicts, ConflictDecl{When: when, Spec: cs, Msg: c.Msg})
	}
	for _, p := range pf.Provides {
		vs, err := spec.Parse(p.Virtual)
		if err != nil {
			return nil, errors.Wrapf(err, "provides %q", p.Virtual)
		}
		when, err := parseWhen(p.When)
		if err != nil {
			return nil, errors.Wrapf(err, "provides %q", p.Virtual)
		}
		meta.Provided = append(meta.Provided, ProvideDecl{When: when, Virtual: vs})
	}
	for i, p := range pf.Patches {
		when, err := parseWhen(p.When)
		if err != nil {
			return nil, errors.Wrap(err, "patch")
		}
		meta.Patches = append(meta.Patches, PatchDecl{Sha256: p.Sha256, When: when, Index: i})
	}
	for _, rq := range pf.Requirements {
		rule := RequirementRule{PkgName: meta.Name, Message: rq.Msg, Kind: RequirementPackage}
		switch {
		case len(rq.OneOf) > 0:
			rule.Policy, rule.Specs = PolicyOneOf, rq.OneOf
		case len(rq.AnyOf) > 0:
			rule.Policy, rule.Specs = PolicyAnyOf, rq.AnyOf
		case rq.Spec != "":
			rule.Policy, rule.Specs = PolicyOneOf, []string{rq.Spec}
		default:
			return nil, errors.New("requirement needs one_of, any_of or spec")
		}
		when, err := parseWhen(rq.When)
		if err != nil {
			return nil, errors.Wrap(err, "requirement")
		}
		rule.Condition = when
		meta.Requirements = append(meta.Requirements, rule)
	}
	for _, s := range pf.Splices {
		target, err := spec.Parse(s.Target)
		if err != nil {
			return nil, errors.Wrapf(err, "can_splice %q", s.Target)
		}
		when, err := parseWhen(s.When)
		if err != nil {
			return nil, errors.Wrapf(err, "can_splice %q", s.Target)
		}
		mv := s.MatchVariants
		if len(mv) == 0 {
			mv = []string{"*"}
		}
		meta.Splices = append(meta.Splices, SpliceRule{Target: target, When: when, MatchVariants: mv})
	}
	return meta, nil
}

// parseWhen turns an optional when string into a spec; empty means always.
func parseWhen(s string) (*spec.Spec, error) {
	if s == "" {
		return nil, nil
	}
	return spec.Parse(s)
}
