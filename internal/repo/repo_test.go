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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarry-sh/quarry/internal/spec"
	"github.com/quarry-sh/quarry/internal/vsn"
)

func TestInMemoryProviders(t *testing.T) {
	r := NewInMemory("builtin")
	r.AddPackage(&PackageMeta{
		Name: "openblas",
		Provided: []ProvideDecl{
			{Virtual: spec.MustParse("blas")},
			{Virtual: spec.MustParse("lapack")},
		},
	})
	r.AddPackage(&PackageMeta{
		Name:     "netlib-lapack",
		Provided: []ProvideDecl{{Virtual: spec.MustParse("lapack")}},
	})

	assert.True(t, r.Exists("openblas"))
	assert.False(t, r.Exists("blas"))
	assert.True(t, r.IsVirtual("blas"))
	assert.False(t, r.IsVirtual("openblas"))
	assert.Equal(t, []string{"netlib-lapack", "openblas"}, r.Providers("lapack"))
	assert.Equal(t, []string{"openblas"}, r.Providers("blas"))
	assert.Empty(t, r.Providers("mpi"))

	_, err := r.Get("nonexistent")
	assert.Error(t, err)
}

func TestVariantDefs(t *testing.T) {
	m := &PackageMeta{
		Name: "hdf5",
		Variants: []VariantDef{
			{Name: "mpi", Default: "true"},
			{Name: "mpi", When: spec.MustParse("hdf5@1.12:"), Default: "false"},
			{Name: "shared", Default: "true"},
		},
	}
	assert.Len(t, m.VariantDefs("mpi"), 2)
	assert.True(t, m.HasVariant("shared"))
	assert.False(t, m.HasVariant("fortran"))
}

func writeRepoFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "packages"), 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	}
	return root
}

func TestLoadYAML(t *testing.T) {
	root := writeRepoFiles(t, map[string]string{
		"repo.yaml": "namespace: testing\n",
		"packages/zlib.yaml": `
name: zlib
versions:
  - version: "1.3"
  - version: "1.2.13"
  - version: "1.2.8"
    deprecated: true
variants:
  - name: shared
    default: "true"
    values:
      - value: "true"
      - value: "false"
`,
		"packages/szip.yaml": `
name: szip
versions:
  - version: "2.1"
provides:
  - virtual: compression
`,
		"packages/hdf5.yaml": `
name: hdf5
versions:
  - version: "1.14.3"
dependencies:
  - spec: "zlib@1.2:"
    types: [build, link]
  - spec: szip
    when: hdf5+szip
patches:
  - sha256: abc123
    when: hdf5@1.14.3
requirements:
  - one_of: ["hdf5+shared", "hdf5~shared"]
    msg: pick shared or static
can_splice:
  - target: hdf5@1.14
    match_variants: [shared]
`,
	})

	r, err := Load(root)
	require.NoError(t, err)

	zlib, err := r.Get("zlib")
	require.NoError(t, err)
	assert.Equal(t, "testing", zlib.Namespace)
	require.Len(t, zlib.Versions, 3)
	assert.Equal(t, 0, vsn.New("1.3").Compare(zlib.Versions[0].Version))
	assert.True(t, zlib.Versions[2].Deprecated)
	assert.True(t, zlib.HasVariant("shared"))

	hdf5, err := r.Get("hdf5")
	require.NoError(t, err)
	require.Len(t, hdf5.Dependencies, 2)
	assert.Equal(t, spec.Build|spec.Link, hdf5.Dependencies[0].Types)
	assert.Nil(t, hdf5.Dependencies[0].When)
	require.NotNil(t, hdf5.Dependencies[1].When)
	require.Len(t, hdf5.Patches, 1)
	assert.Equal(t, "abc123", hdf5.Patches[0].Sha256)
	require.Len(t, hdf5.Requirements, 1)
	assert.Equal(t, PolicyOneOf, hdf5.Requirements[0].Policy)
	require.Len(t, hdf5.Splices, 1)
	assert.Equal(t, []string{"shared"}, hdf5.Splices[0].MatchVariants)

	assert.True(t, r.IsVirtual("compression"))
	assert.Equal(t, []string{"szip"}, r.Providers("compression"))
}

func TestLoadRejectsBadSpec(t *testing.T) {
	root := writeRepoFiles(t, map[string]string{
		"packages/bad.yaml": `
name: bad
dependencies:
  - spec: "^unnamed"
`,
	})
	_, err := Load(root)
	assert.Error(t, err)
}
