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

// Package cli holds the environment settings and the concretizer
// configuration surface shared by the command line and the library facade.
package cli

import (
	"os"
	"strconv"
	"time"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"sigs.k8s.io/yaml"
)

// EnvSettings describes the process environment of a quarry run.
type EnvSettings struct {
	Debug    bool
	NoColors bool
	NoEmojis bool
	// ConfigFile is an optional YAML settings file.
	ConfigFile string
}

// New builds EnvSettings from the process environment.
func New() *EnvSettings {
	env := &EnvSettings{}
	env.Debug, _ = strconv.ParseBool(os.Getenv("QUARRY_DEBUG"))
	env.NoColors, _ = strconv.ParseBool(os.Getenv("QUARRY_NOCOLORS"))
	env.NoEmojis, _ = strconv.ParseBool(os.Getenv("QUARRY_NOEMOJIS"))
	env.ConfigFile = os.Getenv("QUARRY_CONFIG")
	return env
}

// AddFlags binds the environment settings to a flag set.
func (s *EnvSettings) AddFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&s.Debug, "debug", s.Debug, "enable verbose output")
	fs.BoolVar(&s.NoColors, "no-colors", s.NoColors, "disable colors in output")
	fs.BoolVar(&s.NoEmojis, "no-emojis", s.NoEmojis, "disable emojis in output")
	fs.StringVar(&s.ConfigFile, "config", s.ConfigFile, "path to a quarry settings file")
}

// ExternalSpec is an externally-installed package the solver may select
// instead of building.
type ExternalSpec struct {
	Spec    string   `json:"spec"`
	Prefix  string   `json:"prefix,omitempty"`
	Modules []string `json:"modules,omitempty"`
}

// PackageSettings configures one package (or "all" for defaults).
type PackageSettings struct {
	// Buildable false forces the solver to pick an external.
	Buildable *bool          `json:"buildable,omitempty"`
	Externals []ExternalSpec `json:"externals,omitempty"`
	// Preferred versions and variants, strongest first.
	PreferVersions []string `json:"prefer_versions,omitempty"`
	PreferVariants []string `json:"prefer_variants,omitempty"`
	// Require entries become requirement rules; a bare spec means one_of
	// with a single member.
	Require []RequireSettings `json:"require,omitempty"`
}

// RequireSettings is one requirement group from configuration.
type RequireSettings struct {
	OneOf []string `json:"one_of,omitempty"`
	AnyOf []string `json:"any_of,omitempty"`
	Spec  string   `json:"spec,omitempty"`
	When  string   `json:"when,omitempty"`
	Msg   string   `json:"msg,omitempty"`
}

// SpliceSettings configures splicing.
type SpliceSettings struct {
	Automatic bool                     `json:"automatic,omitempty"`
	Explicit  []ExplicitSpliceSettings `json:"explicit,omitempty"`
}

// ExplicitSpliceSettings replaces Target builds with Replacement.
type ExplicitSpliceSettings struct {
	Target      string `json:"target"`
	Replacement string `json:"replacement"`
	Transitive  bool   `json:"transitive,omitempty"`
}

// CacheSettings configures the persistent concretization cache.
type CacheSettings struct {
	Enable bool   `json:"enable,omitempty"`
	Root   string `json:"root,omitempty"`
	// EntryLimit caps the number of cached problems; 0 means default,
	// negative disables pruning by count.
	EntryLimit int `json:"entry_limit,omitempty"`
	// SizeLimit is a human-readable byte ceiling ("300MB"); empty means
	// default, "-1" disables pruning by size.
	SizeLimit string `json:"size_limit,omitempty"`
}

// ReuseSettings filters which installed specs may be reused.
type ReuseSettings struct {
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
}

// ConcretizerSettings tunes the solve itself.
type ConcretizerSettings struct {
	// Timeout in seconds for one solve; 0 means no limit.
	Timeout int `json:"timeout,omitempty"`
	// ErrorOnTimeout fails the solve instead of keeping the best model
	// found before the deadline.
	ErrorOnTimeout bool `json:"error_on_timeout,omitempty"`
	// OSCompatible maps an operating system to the systems it can reuse
	// binaries from.
	OSCompatible map[string][]string `json:"os_compatible,omitempty"`
	Reuse        ReuseSettings       `json:"reuse,omitempty"`
	Splice       SpliceSettings      `json:"splice,omitempty"`
}

// Settings is the full YAML-loadable configuration.
type Settings struct {
	Concretizer ConcretizerSettings        `json:"concretizer,omitempty"`
	Packages    map[string]PackageSettings `json:"packages,omitempty"`
	Cache       CacheSettings              `json:"cache,omitempty"`
}

// DefaultSettings returns settings with the cache enabled at its default
// location.
func DefaultSettings() *Settings {
	return &Settings{
		Cache: CacheSettings{Enable: true},
	}
}

// LoadSettings reads a YAML settings file.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading settings %q", path)
	}
	s := DefaultSettings()
	if err := yaml.UnmarshalStrict(data, s); err != nil {
		return nil, errors.Wrapf(err, "parsing settings %q", path)
	}
	return s, nil
}

// SolveTimeout returns the configured solve deadline, zero when unlimited.
func (s *Settings) SolveTimeout() time.Duration {
	if s.Concretizer.Timeout <= 0 {
		return 0
	}
	return time.Duration(s.Concretizer.Timeout) * time.Second
}

// CacheSizeLimit resolves the configured byte ceiling. Empty falls back to
// def; negative values disable the ceiling.
func (s *Settings) CacheSizeLimit(def int64) (int64, error) {
	if s.Cache.SizeLimit == "" {
		return def, nil
	}
	if s.Cache.SizeLimit == "-1" {
		return -1, nil
	}
	n, err := units.FromHumanSize(s.Cache.SizeLimit)
	if err != nil {
		return 0, errors.Wrapf(err, "cache size limit %q", s.Cache.SizeLimit)
	}
	return n, nil
}

// ForPackage merges the "all" defaults with per-package settings; the
// package entry wins field by field.
func (s *Settings) ForPackage(name string) PackageSettings {
	merged := s.Packages["all"]
	pkg, ok := s.Packages[name]
	if !ok {
		return merged
	}
	if pkg.Buildable != nil {
		merged.Buildable = pkg.Buildable
	}
	if len(pkg.Externals) > 0 {
		merged.Externals = pkg.Externals
	}
	if len(pkg.PreferVersions) > 0 {
		merged.PreferVersions = pkg.PreferVersions
	}
	if len(pkg.PreferVariants) > 0 {
		merged.PreferVariants = pkg.PreferVariants
	}
	if len(pkg.Require) > 0 {
		merged.Require = pkg.Require
	}
	return merged
}
