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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAtomRendering(t *testing.T) {
	a := PkgFact("zlib", NewAtom("version_declared", Str("1.3"), Num(0), Str("package")))
	assert.Equal(t, `pkg_fact("zlib",version_declared("1.3",0,"package"))`, a.String())

	plain := a.Fact()
	assert.Equal(t, "pkg_fact", plain.Name)
	assert.Equal(t, "zlib", plain.Args[0])

	bare := NewAtom("solve_literal", Num(3))
	assert.Equal(t, "solve_literal(3)", bare.String())
	assert.Equal(t, "solve_literal", NewAtom("solve_literal").String())
}

func TestProgramIsSortedAndCommentFree(t *testing.T) {
	b := NewProblemBuilder()
	b.H1("Package rules")
	b.Fact(NewAtom("zz", Str("last")))
	b.Comment("a comment")
	b.Fact(NewAtom("aa", Str("first")))

	program := b.Program()
	assert.Equal(t, "aa(\"first\").\nzz(\"last\").\n", program)

	text := b.Text()
	assert.Contains(t, text, "% Package rules")
	assert.Contains(t, text, "% a comment")
}

func TestProgramInsensitiveToEmissionOrder(t *testing.T) {
	b1 := NewProblemBuilder()
	b1.Fact(NewAtom("aa"))
	b1.Fact(NewAtom("bb"))

	b2 := NewProblemBuilder()
	b2.Fact(NewAtom("bb"))
	b2.Fact(NewAtom("aa"))

	assert.Equal(t, b1.Program(), b2.Program())
}

func TestRandomizeShufflesAtomsOnly(t *testing.T) {
	b := NewProblemBuilder()
	for i := 0; i < 32; i++ {
		b.Fact(NewAtom("fact", Num(i)))
	}
	want := b.Program()

	b.Randomize = true
	b.Seed = 7
	assert.Len(t, b.Atoms(), 32)
	assert.Equal(t, want, b.Program(), "sorted program must not depend on shuffle")
}
