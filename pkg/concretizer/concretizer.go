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

/*Package concretizer is the public entry point: it resolves abstract
package requests into concrete, mutually consistent dependency graphs.
*/
package concretizer

import (
	"context"

	"github.com/Masterminds/log-go"
	"github.com/pkg/errors"

	"github.com/quarry-sh/quarry/internal/conccache"
	"github.com/quarry-sh/quarry/internal/platform"
	"github.com/quarry-sh/quarry/internal/repo"
	"github.com/quarry-sh/quarry/internal/solver"
	"github.com/quarry-sh/quarry/internal/spec"
	"github.com/quarry-sh/quarry/pkg/cli"
	"github.com/quarry-sh/quarry/pkg/quarrypath"
)

// Result re-exports the solve outcome.
type Result = solver.Result

// Configuration bundles the collaborators every concretization needs.
type Configuration struct {
	Repo     repo.PackageRepo
	Platform platform.Platform
	Settings *cli.Settings
	// Cache is the persistent concretization cache; nil disables it.
	Cache  *conccache.Cache
	Logger log.Logger
}

// NewConfiguration wires default collaborators: the host platform and the
// cache named by the settings.
func NewConfiguration(settings *cli.Settings, r repo.PackageRepo, logger log.Logger) *Configuration {
	if settings == nil {
		settings = cli.DefaultSettings()
	}
	if logger == nil {
		logger = log.Current
	}
	return &Configuration{
		Repo:     r,
		Platform: platform.Default(),
		Settings: settings,
		Cache:    solver.OpenConfiguredCache(settings, quarrypath.CachePath("conccache")),
		Logger:   logger,
	}
}

// Concretize performs the resolve action.
type Concretize struct {
	cfg *Configuration

	// Tests includes test-type dependencies in the solve.
	Tests bool
	// AllowDeprecated permits deprecated versions, at a cost.
	AllowDeprecated bool
	// WhenPossible solves best-effort instead of all-or-nothing.
	WhenPossible bool
	// SetupOnly stops after program generation.
	SetupOnly bool
	// Reuse offers installed concrete specs for reuse.
	Reuse []*spec.Spec
}

// NewConcretize returns a Concretize action with the given configuration.
func NewConcretize(cfg *Configuration) *Concretize {
	return &Concretize{cfg: cfg}
}

// Run resolves the given abstract request strings. On an unsatisfiable
// problem the Result still carries cores and the rendered diagnostic, and
// the returned error explains the failure.
func (c *Concretize) Run(ctx context.Context, requests []string) (*Result, error) {
	var specs []*spec.Spec
	for _, text := range requests {
		sp, err := spec.Parse(text)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing request %q", text)
		}
		specs = append(specs, sp)
	}
	if len(specs) == 0 {
		return nil, errors.New("nothing to concretize")
	}

	driver := &solver.Driver{
		Repo:            c.cfg.Repo,
		Platform:        c.cfg.Platform,
		Settings:        c.cfg.Settings,
		Cache:           c.cfg.Cache,
		Tests:           c.Tests,
		AllowDeprecated: c.AllowDeprecated,
		WhenPossible:    c.WhenPossible,
		SetupOnly:       c.SetupOnly,
	}

	result, err := driver.Solve(ctx, specs, c.Reuse)
	if err != nil {
		return nil, err
	}
	if c.SetupOnly {
		return result, nil
	}
	if err := result.RaiseIfUnsat(); err != nil {
		return result, err
	}
	return result, nil
}
