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
	"strings"

	shellwords "github.com/mattn/go-shellwords"
	"github.com/pkg/errors"

	"github.com/quarry-sh/quarry/internal/vsn"
)

// Parse parses a spec request string:
//
//	name@1.2 +shared ~static opts=a,b cflags="-O2 -g" os=debian12 ^dep@=2.0 %gcc@12
//
// "^dep" starts a regular dependency, "%dep" a direct (build) dependency;
// subsequent sigil tokens attach to the most recently opened node. Doubled
// sigils (++x, ~~x, ==v) mark propagated values.
func Parse(input string) (*Spec, error) {
	parser := shellwords.NewParser()
	tokens, err := parser.Parse(input)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot tokenize spec %q", input)
	}
	if len(tokens) == 0 {
		return nil, errors.New("empty spec string")
	}

	root := Anonymous()
	current := root
	first := true
	for _, token := range tokens {
		switch {
		case strings.HasPrefix(token, "^"):
			dep := Anonymous()
			if err := parseFragments(dep, token[1:], true); err != nil {
				return nil, errors.Wrapf(err, "in spec %q", input)
			}
			root.attachEdge(&Edge{Spec: dep, DepTypes: DefaultTypes})
			current = dep
		case strings.HasPrefix(token, "%"):
			dep := Anonymous()
			if err := parseFragments(dep, token[1:], true); err != nil {
				return nil, errors.Wrapf(err, "in spec %q", input)
			}
			root.attachEdge(&Edge{Spec: dep, DepTypes: Build, Direct: true})
			current = dep
		default:
			if err := parseFragments(current, token, first); err != nil {
				return nil, errors.Wrapf(err, "in spec %q", input)
			}
		}
		first = false
	}
	if root.Name == "" {
		return nil, errors.Errorf("spec %q has no package name", input)
	}
	for _, e := range root.Edges() {
		if e.Spec.Name == "" {
			return nil, errors.Errorf("spec %q has an unnamed dependency", input)
		}
	}
	return root, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(input string) *Spec {
	s, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return s
}

// parseFragments splits one token at sigil boundaries (@, +, ~) and applies
// each fragment to the spec. allowName permits a leading bare name fragment.
func parseFragments(s *Spec, token string, allowName bool) error {
	for _, frag := range splitSigils(token) {
		if err := applyFragment(s, frag, allowName); err != nil {
			return err
		}
		allowName = false
	}
	return nil
}

// splitSigils splits "a+foo~bar@1.2" into ["a", "+foo", "~bar", "@1.2"].
// Key=value fragments are kept whole, values may contain sigil characters.
func splitSigils(token string) []string {
	if idx := strings.Index(token, "="); idx > 0 && !strings.ContainsAny(token[:idx], "@+~") {
		return []string{token}
	}
	var frags []string
	start := 0
	for i, r := range token {
		if i == 0 {
			continue
		}
		if r == '@' || r == '+' || r == '~' {
			// doubled sigil belongs to the previous boundary
			if token[i-1] == byte(r) && i-start == 1 {
				continue
			}
			frags = append(frags, token[start:i])
			start = i
		}
	}
	frags = append(frags, token[start:])
	return frags
}

func applyFragment(s *Spec, frag string, allowName bool) error {
	switch {
	case frag == "":
		return nil
	case strings.HasPrefix(frag, "@"):
		body := frag[1:]
		if strings.HasPrefix(body, "@") { // "@@" has no meaning
			return errors.Errorf("invalid version constraint %q", frag)
		}
		r, err := vsn.ParseRange(body)
		if err != nil {
			return err
		}
		if !s.Versions.Any() {
			return errors.Errorf("duplicate version constraint %q", frag)
		}
		s.Versions = r
		return nil
	case strings.HasPrefix(frag, "++"), strings.HasPrefix(frag, "+"):
		name, propagate := strings.TrimPrefix(frag, "+"), false
		if strings.HasPrefix(name, "+") {
			name, propagate = name[1:], true
		}
		return s.SetVariant(&VariantValue{Name: name, Values: []string{"true"}, Propagate: propagate})
	case strings.HasPrefix(frag, "~~"), strings.HasPrefix(frag, "~"):
		name, propagate := strings.TrimPrefix(frag, "~"), false
		if strings.HasPrefix(name, "~") {
			name, propagate = name[1:], true
		}
		return s.SetVariant(&VariantValue{Name: name, Values: []string{"false"}, Propagate: propagate})
	case strings.Contains(frag, "="):
		return applyKeyValue(s, frag)
	case allowName:
		return applyName(s, frag)
	default:
		return errors.Errorf("unexpected token %q", frag)
	}
}

func applyName(s *Spec, frag string) error {
	if s.Name != "" {
		return errors.Errorf("unexpected package name %q", frag)
	}
	name := frag
	if idx := strings.LastIndex(frag, "."); idx >= 0 {
		s.Namespace = frag[:idx]
		name = frag[idx+1:]
	}
	if name == "" {
		return errors.Errorf("invalid package name %q", frag)
	}
	s.Name = name
	return nil
}

func applyKeyValue(s *Spec, frag string) error {
	idx := strings.Index(frag, "=")
	key, value := frag[:idx], frag[idx+1:]
	propagate := strings.HasPrefix(value, "=")
	if propagate {
		value = value[1:]
	}
	if key == "" || value == "" {
		return errors.Errorf("invalid key=value token %q", frag)
	}
	switch {
	case key == "platform":
		s.Arch.Platform = value
	case key == "os":
		s.Arch.OS = value
	case key == "target":
		s.Arch.Target = value
	case key == "namespace":
		s.Namespace = value
	case IsFlagType(key):
		tokens, err := shellwords.NewParser().Parse(value)
		if err != nil {
			return errors.Wrapf(err, "cannot tokenize %s value %q", key, value)
		}
		for _, flag := range tokens {
			s.AddFlag(key, CompilerFlag{
				Flag: flag, FlagGroup: value, Propagate: propagate,
			})
		}
	default:
		return s.SetVariant(&VariantValue{
			Name:      key,
			Values:    strings.Split(value, ","),
			Multi:     strings.Contains(value, ","),
			Propagate: propagate,
		})
	}
	return nil
}
