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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarry-sh/quarry/internal/conccache"
	"github.com/quarry-sh/quarry/internal/platform"
	"github.com/quarry-sh/quarry/internal/repo"
	"github.com/quarry-sh/quarry/internal/spec"
	"github.com/quarry-sh/quarry/internal/vsn"
	"github.com/quarry-sh/quarry/pkg/cli"
)

func testPlatform() *platform.Host {
	return &platform.Host{PlatformName: "test", OS: "debian12", Target: "x86_64"}
}

func testRepo() *repo.InMemory {
	r := repo.NewInMemory("builtin")
	r.AddPackage(&repo.PackageMeta{
		Name: "zlib",
		Versions: []repo.VersionDecl{
			{Version: vsn.New("1.3")},
			{Version: vsn.New("1.2.13")},
			{Version: vsn.New("1.2.8")},
		},
	})
	r.AddPackage(&repo.PackageMeta{
		Name: "b",
		Versions: []repo.VersionDecl{
			{Version: vsn.New("1.0")},
			{Version: vsn.New("0.9"), Deprecated: true},
		},
	})
	r.AddPackage(&repo.PackageMeta{
		Name: "y",
		Versions: []repo.VersionDecl{
			{Version: vsn.New("2.0")},
			{Version: vsn.New("1.9")},
		},
	})
	r.AddPackage(&repo.PackageMeta{
		Name:     "x",
		Versions: []repo.VersionDecl{{Version: vsn.New("1.0")}},
		Dependencies: []repo.DependencyDecl{
			{Spec: spec.MustParse("y"), Types: spec.DefaultTypes},
		},
	})
	r.AddPackage(&repo.PackageMeta{
		Name:     "z",
		Versions: []repo.VersionDecl{{Version: vsn.New("1.0")}},
		Dependencies: []repo.DependencyDecl{
			{Spec: spec.MustParse("y"), Types: spec.DefaultTypes},
		},
	})
	r.AddPackage(&repo.PackageMeta{
		Name:     "c",
		Versions: []repo.VersionDecl{{Version: vsn.New("1.0")}},
		Variants: []repo.VariantDef{
			{Name: "foo", Default: "false", Values: []repo.VariantValueDef{
				{Value: "true"}, {Value: "false"},
			}},
		},
		Conflicts: []repo.ConflictDecl{
			{Spec: spec.MustParse("c +foo"), Msg: "c does not support foo"},
		},
	})
	r.AddPackage(&repo.PackageMeta{
		Name:     "mpich",
		Versions: []repo.VersionDecl{{Version: vsn.New("4.1")}},
		Provided: []repo.ProvideDecl{{Virtual: spec.MustParse("mpi")}},
	})
	r.AddPackage(&repo.PackageMeta{
		Name:     "openmpi",
		Versions: []repo.VersionDecl{{Version: vsn.New("4.1.5")}},
		Provided: []repo.ProvideDecl{{Virtual: spec.MustParse("mpi")}},
	})
	r.AddPackage(&repo.PackageMeta{
		Name:     "m",
		Versions: []repo.VersionDecl{{Version: vsn.New("1.0")}},
		Dependencies: []repo.DependencyDecl{
			{Spec: spec.MustParse("mpi"), Types: spec.DefaultTypes},
		},
	})
	r.AddPackage(&repo.PackageMeta{
		Name:     "e",
		Versions: []repo.VersionDecl{{Version: vsn.New("1.0")}},
	})
	return r
}

func testDriver(r repo.PackageRepo) *Driver {
	return &Driver{Repo: r, Platform: testPlatform(), Settings: cli.DefaultSettings()}
}

func solveOne(t *testing.T, d *Driver, request string) *Result {
	t.Helper()
	result, err := d.Solve(context.Background(), []*spec.Spec{spec.MustParse(request)}, nil)
	require.NoError(t, err)
	return result
}

func criterion(t *testing.T, result *Result, name string) int64 {
	t.Helper()
	for _, c := range result.Criteria {
		if c.Name == name {
			return c.Value
		}
	}
	t.Fatalf("no criterion %q", name)
	return 0
}

func TestSolvePicksPreferredVersion(t *testing.T) {
	result := solveOne(t, testDriver(testRepo()), "zlib")

	require.True(t, result.Satisfiable)
	specs := result.Specs()
	require.Len(t, specs, 1)
	assert.Equal(t, "zlib", specs[0].Name)
	assert.Equal(t, "1.3", specs[0].Version().String())
	assert.True(t, specs[0].Concrete())
	assert.NotEmpty(t, specs[0].DagHash())
}

func TestSolveHonorsVersionPin(t *testing.T) {
	result := solveOne(t, testDriver(testRepo()), "zlib@=1.2.8")

	require.True(t, result.Satisfiable)
	assert.Equal(t, "1.2.8", result.Specs()[0].Version().String())
}

func TestDeprecatedVersionRejectedByDefault(t *testing.T) {
	result := solveOne(t, testDriver(testRepo()), "b@=0.9")

	assert.False(t, result.Satisfiable)
	require.NotEmpty(t, result.Cores)
	assert.NotEmpty(t, result.Cores[0])
	assert.NotEmpty(t, result.UnsatMessage)
	assert.Error(t, result.RaiseIfUnsat())
}

func TestDeprecatedVersionAllowedAtACost(t *testing.T) {
	d := testDriver(testRepo())
	d.AllowDeprecated = true
	result := solveOne(t, d, "b@=0.9")

	require.True(t, result.Satisfiable)
	assert.Equal(t, "0.9", result.Specs()[0].Version().String())
	assert.Equal(t, int64(1), criterion(t, result, "deprecated versions used"))
}

func TestDiamondDependencyIsShared(t *testing.T) {
	d := testDriver(testRepo())
	requests := []*spec.Spec{spec.MustParse("x ^y@=2.0"), spec.MustParse("z")}
	result, err := d.Solve(context.Background(), requests, nil)
	require.NoError(t, err)
	require.True(t, result.Satisfiable)

	byInput := result.SpecsByInput()
	require.Len(t, byInput, 2)
	x, z := byInput[requests[0]], byInput[requests[1]]
	require.NotNil(t, x)
	require.NotNil(t, z)

	require.Len(t, x.Edges(), 1)
	require.Len(t, z.Edges(), 1)
	yFromX, yFromZ := x.Edges()[0].Spec, z.Edges()[0].Spec
	assert.Equal(t, "2.0", yFromX.Version().String())
	assert.Equal(t, yFromX.DagHash(), yFromZ.DagHash())
	assert.Same(t, yFromX, yFromZ)
}

func TestConflictProducesDiagnostic(t *testing.T) {
	result := solveOne(t, testDriver(testRepo()), "c +foo")

	assert.False(t, result.Satisfiable)
	assert.Contains(t, result.UnsatMessage, "c does not support foo")
	assert.Error(t, result.RaiseIfUnsat())
}

func TestContradictoryRequestsYieldMinimalCore(t *testing.T) {
	d := testDriver(testRepo())
	requests := []*spec.Spec{spec.MustParse("c +foo"), spec.MustParse("c ~foo")}
	result, err := d.Solve(context.Background(), requests, nil)
	require.NoError(t, err)

	assert.False(t, result.Satisfiable)
	require.NotEmpty(t, result.Cores)
	core := result.Cores[0]
	assert.NotEmpty(t, core)
	// every surviving core fact is load-bearing: it mentions the package
	// whose constraints contradict
	for _, fact := range core {
		assert.Contains(t, fact, `"c"`)
	}
}

func TestVirtualGetsProvider(t *testing.T) {
	result := solveOne(t, testDriver(testRepo()), "m")

	require.True(t, result.Satisfiable)
	m := result.Specs()[0]
	require.Len(t, m.Edges(), 1)
	edge := m.Edges()[0]
	assert.Contains(t, []string{"mpich", "openmpi"}, edge.Spec.Name)
	assert.Contains(t, edge.Virtuals, "mpi")
	assert.True(t, edge.Spec.Concrete())
}

func TestExternalSelectedWhenNotBuildable(t *testing.T) {
	d := testDriver(testRepo())
	buildable := false
	d.Settings = cli.DefaultSettings()
	d.Settings.Packages = map[string]cli.PackageSettings{
		"e": {
			Buildable: &buildable,
			Externals: []cli.ExternalSpec{{Spec: "e@1.0", Prefix: "/usr"}},
		},
	}
	result := solveOne(t, d, "e")

	require.True(t, result.Satisfiable)
	e := result.Specs()[0]
	require.NotNil(t, e.External)
	assert.Equal(t, "/usr", e.External.Path)
	assert.Equal(t, "1.0", e.Version().String())
}

func TestReuseAvoidsRebuild(t *testing.T) {
	d := testDriver(testRepo())
	first := solveOne(t, d, "zlib")
	require.True(t, first.Satisfiable)
	installed := first.Specs()[0]

	second, err := testDriver(testRepo()).Solve(context.Background(),
		[]*spec.Spec{spec.MustParse("zlib")}, []*spec.Spec{installed})
	require.NoError(t, err)
	require.True(t, second.Satisfiable)

	assert.Equal(t, int64(0), criterion(t, second, "number of packages to build"))
	assert.Equal(t, installed.DagHash(), second.Specs()[0].DagHash())
}

func TestSetupOnlyReturnsProgram(t *testing.T) {
	d := testDriver(testRepo())
	d.SetupOnly = true
	result := solveOne(t, d, "zlib")

	assert.False(t, result.Satisfiable)
	assert.Contains(t, result.ProgramText, "version_declared")
	assert.Contains(t, result.ProgramText, "literal(")
	assert.Empty(t, result.Answers)
}

func TestIdenticalProblemHitsCache(t *testing.T) {
	cache, err := conccache.Open(t.TempDir(), 16, 1<<20)
	require.NoError(t, err)

	d := testDriver(testRepo())
	d.Cache = cache
	first := solveOne(t, d, "zlib")
	require.True(t, first.Satisfiable)

	d2 := testDriver(testRepo())
	d2.Cache = cache
	second := solveOne(t, d2, "zlib")
	require.True(t, second.Satisfiable)

	assert.Equal(t, first.Criteria, second.Criteria)
	assert.Equal(t, first.Specs()[0].DagHash(), second.Specs()[0].DagHash())
}

func TestUnknownPackageFails(t *testing.T) {
	d := testDriver(testRepo())
	_, err := d.Solve(context.Background(), []*spec.Spec{spec.MustParse("nosuchpkg")}, nil)
	assert.Error(t, err)
}
