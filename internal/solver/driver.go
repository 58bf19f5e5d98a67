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
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	log "github.com/Masterminds/log-go"
	gophersolver "github.com/crillab/gophersat/solver"
	"github.com/opencontainers/go-digest"

	"github.com/quarry-sh/quarry/internal/conccache"
	"github.com/quarry-sh/quarry/internal/platform"
	"github.com/quarry-sh/quarry/internal/repo"
	"github.com/quarry-sh/quarry/internal/solver/rules"
	"github.com/quarry-sh/quarry/internal/spec"
	"github.com/quarry-sh/quarry/pkg/cli"
)

// Driver owns one solver session: program generation, cache mediation, the
// time-boxed search, and answer interpretation.
type Driver struct {
	Repo     repo.PackageRepo
	Platform platform.Platform
	Settings *cli.Settings
	// Cache is optional; nil solves without persistence.
	Cache *conccache.Cache

	Tests           bool
	AllowDeprecated bool
	// WhenPossible solves best-effort: inputs that cannot be concretized
	// are reported unsolved instead of failing the whole request.
	WhenPossible bool
	// SetupOnly stops after program generation; the Result carries the
	// program text and nothing else.
	SetupOnly bool
	// Randomize reorders fact emission for benchmarking runs.
	Randomize bool
	Seed      int64
}

// statistics is what gets persisted next to a cached result.
type statistics struct {
	SolveSeconds float64 `json:"solve_seconds"`
	NModels      int     `json:"nmodels"`
	TimedOut     bool    `json:"timed_out,omitempty"`
}

// Solve concretizes the requests. The returned Result is complete even for
// unsatisfiable problems; callers decide whether to raise via RaiseIfUnsat.
func (d *Driver) Solve(ctx context.Context, requests []*spec.Spec, reuse []*spec.Spec) (*Result, error) {
	if d.Settings == nil {
		d.Settings = cli.DefaultSettings()
	}

	setup := &Setup{
		Repo:            d.Repo,
		Platform:        d.Platform,
		Settings:        d.Settings,
		Tests:           d.Tests,
		AllowDeprecated: d.AllowDeprecated,
		Randomize:       d.Randomize,
		Seed:            d.Seed,
	}
	inst, err := setup.GenerateProblem(requests, reuse)
	if err != nil {
		return nil, err
	}

	if d.SetupOnly {
		return &Result{Inputs: requests, ProgramText: inst.Builder.Text()}, nil
	}

	hash := d.programDigest(inst)
	if cached := d.cacheLookup(hash); cached != nil {
		log.Debugf("concretization cache hit for %s", hash)
		cached.Inputs = requests
		return cached, nil
	}

	cp := compileProblem(inst, nil)
	start := time.Now()
	raw, timedOut, err := d.runSolver(ctx, cp)
	if err != nil {
		return nil, err
	}
	stats := statistics{SolveSeconds: time.Since(start).Seconds(), TimedOut: timedOut}

	result := &Result{Inputs: requests, Optimal: !timedOut}

	if raw.Status.String() != "SAT" {
		handler := NewErrorHandler(inst, requests)
		core := handler.MinimizeCore(handler.RawCore())
		result.Cores = [][]string{core}
		result.UnsatMessage = renderCoreMessage(requests, core)
		d.cacheStore(hash, result, stats)
		return result, nil
	}

	dm := cp.Decode(raw.Model)
	result.NModels = 1
	stats.NModels = 1
	for i, name := range criteriaNames {
		result.Criteria = append(result.Criteria, Criterion{Name: name, Value: dm.Criteria[i]})
	}

	// error facts coexist with a nominally satisfiable model; they still
	// abort concretization
	if len(dm.Errors) > 0 {
		handler := NewErrorHandler(inst, requests)
		result.UnsatMessage = handler.Message(dm.Errors)
		d.cacheStore(hash, result, stats)
		return result, nil
	}

	builder := NewSpecBuilder(inst, d.Repo, d.Settings)
	specs, err := builder.Build(dm)
	if err != nil {
		return nil, err
	}
	result.Satisfiable = true
	result.Answers = []*Answer{{Cost: dm.Criteria, Rank: 0, Specs: specs}}

	if !d.WhenPossible {
		if unsolved := result.Unsolved(); len(unsolved) > 0 {
			var names []string
			for _, u := range unsolved {
				names = append(names, u.Input.String())
			}
			return nil, internalErrorf(
				"the solve succeeded but its output does not satisfy these inputs: %s",
				strings.Join(names, ", "))
		}
	}

	d.cacheStore(hash, result, stats)
	return result, nil
}

// runSolver executes the search under the configured wall-clock budget.
func (d *Driver) runSolver(ctx context.Context, cp *CompiledProblem) (gophersolver.Result, bool, error) {
	solver := cp.Problem().Solver()
	timeout := d.Settings.SolveTimeout()

	if timeout == 0 && ctx.Done() == nil {
		return solver.Optimal(nil, nil), false, nil
	}

	stop := make(chan struct{})
	done := make(chan gophersolver.Result, 1)
	go func() { done <- solver.Optimal(nil, stop) }()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case raw := <-done:
		return raw, false, nil
	case <-ctx.Done():
		close(stop)
		<-done
		return gophersolver.Result{}, true, ctx.Err()
	case <-deadline:
		close(stop)
		raw := <-done
		if d.Settings.Concretizer.ErrorOnTimeout {
			return gophersolver.Result{}, true, &TimeoutError{Seconds: int(timeout.Seconds())}
		}
		log.Warnf("solve timed out after %s, keeping the best model found so far", timeout)
		return raw, true, nil
	}
}

// programDigest hashes the sorted program text together with the selected
// rule files, so a rule change invalidates older cache entries.
func (d *Driver) programDigest(inst *ProblemInstance) string {
	ruleBytes, err := rules.Bytes(d.ruleOptions())
	if err != nil {
		// the rule files are embedded; failing to read one is a build defect
		log.Warnf("cannot digest rule files: %v", err)
	}
	h := digest.SHA256.FromString(inst.Builder.Program() + string(ruleBytes))
	return h.Encoded()
}

func (d *Driver) ruleOptions() rules.Options {
	return rules.Options{
		WhenPossible:      d.WhenPossible,
		LibcCompatibility: len(d.Settings.Concretizer.OSCompatible) == 0,
		Splices:           d.Settings.Concretizer.Splice.Automatic,
	}
}

// cacheLookup is best-effort: any cache trouble degrades to solving.
func (d *Driver) cacheLookup(hash string) *Result {
	if d.Cache == nil {
		return nil
	}
	doc, err := d.Cache.Lookup(hash)
	if err != nil {
		log.Warnf("concretization cache lookup failed: %v", err)
		return nil
	}
	if doc == nil {
		return nil
	}
	var dict ResultDict
	if err := json.Unmarshal(doc.Results, &dict); err != nil {
		log.Warnf("ignoring corrupt cached result for %s: %v", hash, err)
		return nil
	}
	result, err := ResultFromDict(&dict)
	if err != nil {
		log.Warnf("ignoring unusable cached result for %s: %v", hash, err)
		return nil
	}
	return result
}

// cacheStore persists a result, best effort and write-once.
func (d *Driver) cacheStore(hash string, result *Result, stats statistics) {
	if d.Cache == nil {
		return
	}
	dict, err := result.ToDict()
	if err != nil {
		log.Warnf("not caching result: %v", err)
		return
	}
	resJSON, err := json.Marshal(dict)
	if err != nil {
		log.Warnf("not caching result: %v", err)
		return
	}
	statJSON, err := json.Marshal(stats)
	if err != nil {
		statJSON = nil
	}
	doc := &conccache.Document{Results: resJSON, Statistics: statJSON}
	if err := d.Cache.Store(hash, doc); err != nil {
		log.Warnf("concretization cache store failed: %v", err)
	}
}

func renderCoreMessage(inputs []*spec.Spec, core []string) string {
	var b strings.Builder
	var texts []string
	for _, in := range inputs {
		texts = append(texts, in.String())
	}
	fmt.Fprintf(&b, "concretization failed for %s:\n", strings.Join(texts, ", "))
	b.WriteString("  the following requirements are mutually incompatible:\n")
	for _, fact := range core {
		fmt.Fprintf(&b, "    %s\n", fact)
	}
	return strings.TrimRight(b.String(), "\n")
}

// OpenConfiguredCache opens the cache named by the settings, or returns nil
// when caching is disabled or unusable.
func OpenConfiguredCache(settings *cli.Settings, defaultRoot string) *conccache.Cache {
	if settings == nil || !settings.Cache.Enable {
		return nil
	}
	root := settings.Cache.Root
	if root == "" {
		root = defaultRoot
	}
	entryLimit := settings.Cache.EntryLimit
	if entryLimit == 0 {
		entryLimit = 1024
	}
	sizeLimit, err := settings.CacheSizeLimit(512 * 1024 * 1024)
	if err != nil {
		log.Warnf("disabling concretization cache: %v", err)
		return nil
	}
	cache, err := conccache.Open(root, entryLimit, sizeLimit)
	if err != nil {
		log.Warnf("disabling concretization cache: %v", err)
		return nil
	}
	return cache
}
