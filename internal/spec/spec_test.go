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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarry-sh/quarry/internal/vsn"
)

// concretize pins a version and finalizes, for tests that need hashes.
func concretize(t *testing.T, s *Spec, version string) {
	t.Helper()
	for _, node := range PostOrder(s) {
		if !node.Versions.Concrete() {
			node.Versions = vsn.MustRange("=" + version)
		}
	}
	require.NoError(t, s.Finalize())
}

func TestParse(t *testing.T) {
	for _, tcase := range []struct {
		name  string
		input string
		check func(t *testing.T, s *Spec)
	}{
		{
			name:  "bare name",
			input: "zlib",
			check: func(t *testing.T, s *Spec) {
				assert.Equal(t, "zlib", s.Name)
				assert.True(t, s.Versions.Any())
			},
		},
		{
			name:  "name with version and variants",
			input: "hdf5@1.12+mpi~shared",
			check: func(t *testing.T, s *Spec) {
				assert.Equal(t, "hdf5", s.Name)
				assert.Equal(t, "1.12", s.Versions.String())
				assert.Equal(t, "true", s.Variants["mpi"].Value())
				assert.Equal(t, "false", s.Variants["shared"].Value())
			},
		},
		{
			name:  "namespace",
			input: "builtin.zlib@1.2.13",
			check: func(t *testing.T, s *Spec) {
				assert.Equal(t, "builtin", s.Namespace)
				assert.Equal(t, "zlib", s.Name)
			},
		},
		{
			name:  "exact version pin on dependency",
			input: "x ^y@=2.0",
			check: func(t *testing.T, s *Spec) {
				require.Len(t, s.Edges(), 1)
				dep := s.Edges()[0].Spec
				assert.Equal(t, "y", dep.Name)
				assert.True(t, dep.Versions.Concrete())
				assert.Equal(t, "2.0", dep.Version().String())
				assert.False(t, s.Edges()[0].Direct)
			},
		},
		{
			name:  "direct dependency",
			input: "mvapich2 %gcc@12",
			check: func(t *testing.T, s *Spec) {
				require.Len(t, s.Edges(), 1)
				assert.True(t, s.Edges()[0].Direct)
				assert.Equal(t, "gcc", s.Edges()[0].Spec.Name)
				assert.Equal(t, Build, s.Edges()[0].DepTypes)
			},
		},
		{
			name:  "quoted flag groups",
			input: `y cflags="-z -a"`,
			check: func(t *testing.T, s *Spec) {
				require.Len(t, s.Flags["cflags"], 2)
				assert.Equal(t, "-z", s.Flags["cflags"][0].Flag)
				assert.Equal(t, "-a", s.Flags["cflags"][1].Flag)
				assert.Equal(t, "-z -a", s.Flags["cflags"][0].FlagGroup)
			},
		},
		{
			name:  "multi valued variant and arch",
			input: "fftw precision=float,double os=debian12",
			check: func(t *testing.T, s *Spec) {
				assert.Equal(t, []string{"float", "double"}, s.Variants["precision"].Values)
				assert.True(t, s.Variants["precision"].Multi)
				assert.Equal(t, "debian12", s.Arch.OS)
			},
		},
		{
			name:  "propagated variant",
			input: "a++foo",
			check: func(t *testing.T, s *Spec) {
				assert.True(t, s.Variants["foo"].Propagate)
				assert.Equal(t, "true", s.Variants["foo"].Value())
			},
		},
	} {
		t.Run(tcase.name, func(t *testing.T) {
			s, err := Parse(tcase.input)
			require.NoError(t, err)
			tcase.check(t, s)
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, input := range []string{"", "+foo", "@1.0", "a @1.0 @2.0", "a ^"} {
		_, err := Parse(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestCycleRejected(t *testing.T) {
	a, b := New("a"), New("b")
	require.NoError(t, a.AddDependencyEdge(b, DefaultTypes))
	err := b.AddDependencyEdge(a, DefaultTypes)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestFinalizeSameContentSameHash(t *testing.T) {
	mk := func() *Spec {
		s := MustParse("x@=1.0 ^z@=0.5")
		return s
	}
	a, b := mk(), mk()
	require.NoError(t, a.Finalize())
	require.NoError(t, b.Finalize())
	assert.Equal(t, a.DagHash(), b.DagHash())
	assert.NotEmpty(t, a.DagHash())

	c := MustParse("x@=1.1 ^z@=0.5")
	require.NoError(t, c.Finalize())
	assert.NotEqual(t, a.DagHash(), c.DagHash())
}

func TestByHashIdempotentAdd(t *testing.T) {
	s := MustParse("a@=1.0 ^b@=2.0")
	require.NoError(t, s.Finalize())

	c := NewConcreteSpecsByHash()
	added, err := c.Add(s)
	require.NoError(t, err)
	assert.True(t, added)

	again, err := c.Add(s)
	require.NoError(t, err)
	assert.False(t, again, "second add of the same hash must report already present")
	assert.Equal(t, 2, c.Len())
}

func TestByHashStructuralSharing(t *testing.T) {
	// two roots built independently, sharing dependency content y@2.0
	x := MustParse("x@=1.0 ^y@=2.0")
	z := MustParse("z@=3.0 ^y@=2.0")
	require.NoError(t, x.Finalize())
	require.NoError(t, z.Finalize())

	yHash := x.DependencyByName("y").DagHash()
	require.Equal(t, yHash, z.DependencyByName("y").DagHash())

	c := NewConcreteSpecsByHash()
	_, err := c.Add(x)
	require.NoError(t, err)
	_, err = c.Add(z)
	require.NoError(t, err)

	sharedY := c.Get(yHash)
	require.NotNil(t, sharedY)
	assert.Same(t, sharedY, c.Get(x.DagHash()).DependencyByName("y"))
	assert.Same(t, sharedY, c.Get(z.DagHash()).DependencyByName("y"))
}

func TestByHashRejectsAbstract(t *testing.T) {
	_, err := NewConcreteSpecsByHash().Add(MustParse("a@1.0"))
	assert.Error(t, err)
}

func TestSatisfies(t *testing.T) {
	s := MustParse("hdf5@=1.12.2 +mpi ^zlib@=1.2.13")
	concretize(t, s, "")

	assert.True(t, s.Satisfies(MustParse("hdf5")))
	assert.True(t, s.Satisfies(MustParse("hdf5@1.12")))
	assert.True(t, s.Satisfies(MustParse("hdf5+mpi")))
	assert.True(t, s.Satisfies(MustParse("hdf5 ^zlib@1.2")))
	assert.False(t, s.Satisfies(MustParse("hdf5@1.10")))
	assert.False(t, s.Satisfies(MustParse("hdf5~mpi")))
	assert.False(t, s.Satisfies(MustParse("hdf5 ^openssl")))
}

func TestParentsPostOrder(t *testing.T) {
	// w -> x -> y, z -> y : flag ordering needs dependents-first order from y
	y := MustParse("y@=1.0")
	x := MustParse("x@=1.0")
	w := MustParse("w@=1.0")
	z := MustParse("z@=1.0")
	require.NoError(t, x.AddDependencyEdge(y, DefaultTypes))
	require.NoError(t, w.AddDependencyEdge(x, DefaultTypes))
	require.NoError(t, z.AddDependencyEdge(y, DefaultTypes))

	idx := BuildDependentsIndex([]*Spec{w, z})
	order := idx.ParentsPostOrder(y)
	require.Equal(t, "y", order[len(order)-1], "start node is last")
	pos := map[string]int{}
	for i, n := range order {
		pos[n] = i
	}
	assert.Less(t, pos["w"], pos["x"], "dependents precede their dependencies")
	assert.Less(t, pos["x"], pos["y"])
	assert.Less(t, pos["z"], pos["y"])
}

func TestDictRoundTrip(t *testing.T) {
	s := MustParse("a@=1.0 ^b@=2.0 ^c@=3.0")
	concretize(t, s, "")

	d, err := s.ToDict()
	require.NoError(t, err)
	back, err := FromDict(d)
	require.NoError(t, err)

	assert.Equal(t, s.DagHash(), back.DagHash())
	assert.Equal(t, s.String(), back.String())
	assert.True(t, back.Concrete())
	require.NotNil(t, back.DependencyByName("b"))
	assert.Equal(t, "2.0", back.DependencyByName("b").Version().String())
}
