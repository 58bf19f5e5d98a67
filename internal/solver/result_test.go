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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultRoundTrip(t *testing.T) {
	result := solveOne(t, testDriver(testRepo()), "x ^y@=2.0")
	require.True(t, result.Satisfiable)

	dict, err := result.ToDict()
	require.NoError(t, err)

	// survives JSON, the way the cache stores it
	data, err := json.Marshal(dict)
	require.NoError(t, err)
	var decoded ResultDict
	require.NoError(t, json.Unmarshal(data, &decoded))

	restored, err := ResultFromDict(&decoded)
	require.NoError(t, err)

	assert.Equal(t, result.Satisfiable, restored.Satisfiable)
	assert.Equal(t, result.Criteria, restored.Criteria)

	require.Len(t, restored.Answers, 1)
	orig := result.Best().Specs
	rest := restored.Best().Specs
	require.Len(t, rest, len(orig))
	for name, sp := range orig {
		require.Contains(t, rest, name)
		assert.Equal(t, sp.DagHash(), rest[name].DagHash())
		assert.Equal(t, sp.Version().String(), rest[name].Version().String())
	}
}

func TestUnsatResultRoundTrip(t *testing.T) {
	result := solveOne(t, testDriver(testRepo()), "zlib@9.9:")
	require.False(t, result.Satisfiable)
	require.NotEmpty(t, result.Cores)

	dict, err := result.ToDict()
	require.NoError(t, err)
	restored, err := ResultFromDict(dict)
	require.NoError(t, err)

	assert.False(t, restored.Satisfiable)
	assert.Equal(t, result.Cores, restored.Cores)
	assert.Equal(t, result.UnsatMessage, restored.UnsatMessage)
	assert.Error(t, restored.RaiseIfUnsat())
}

func TestBestPrefersLowestRank(t *testing.T) {
	a0 := &Answer{Rank: 1}
	a1 := &Answer{Rank: 0}
	r := &Result{Satisfiable: true, Answers: []*Answer{a0, a1}}
	assert.Same(t, a1, r.Best())
}

func TestRaiseIfUnsatCarriesCores(t *testing.T) {
	r := &Result{Cores: [][]string{{`pkg_fact("a",version_satisfies("9.9"))`}}}
	err := r.RaiseIfUnsat()
	require.Error(t, err)
	var unsat *UnsatError
	require.ErrorAs(t, err, &unsat)
	assert.Equal(t, r.Cores, unsat.Cores)
}
