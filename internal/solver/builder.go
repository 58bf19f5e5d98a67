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
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
)

// TermKind discriminates Atom argument types.
type TermKind int

const (
	TermStr TermKind = iota
	TermNum
	TermAtom
)

// Term is one argument of a ground atom: a string, an integer, or a nested
// function term.
type Term struct {
	Kind TermKind
	Str  string
	Num  int
	Sub  *Atom
}

// Str builds a string term.
func Str(s string) Term { return Term{Kind: TermStr, Str: s} }

// Num builds an integer term.
func Num(n int) Term { return Term{Kind: TermNum, Num: n} }

// Fn builds a nested function term.
func Fn(a Atom) Term { return Term{Kind: TermAtom, Sub: &a} }

func (t Term) String() string {
	switch t.Kind {
	case TermNum:
		return strconv.Itoa(t.Num)
	case TermAtom:
		return t.Sub.String()
	default:
		return strconv.Quote(t.Str)
	}
}

func (t Term) plain() string {
	switch t.Kind {
	case TermNum:
		return strconv.Itoa(t.Num)
	case TermAtom:
		return t.Sub.String()
	default:
		return t.Str
	}
}

// Atom is a ground fact: a name applied to argument terms.
type Atom struct {
	Name string
	Args []Term
}

// NewAtom builds an atom.
func NewAtom(name string, args ...Term) Atom { return Atom{Name: name, Args: args} }

// PkgFact wraps an atom in the per-package fact family, keyed by package
// name.
func PkgFact(pkg string, inner Atom) Atom {
	return NewAtom("pkg_fact", Str(pkg), Fn(inner))
}

func (a Atom) String() string {
	if len(a.Args) == 0 {
		return a.Name
	}
	parts := make([]string, len(a.Args))
	for i, t := range a.Args {
		parts[i] = t.String()
	}
	return a.Name + "(" + strings.Join(parts, ",") + ")"
}

// Fact flattens the atom to a decoded attribute tuple, with string
// arguments unquoted.
func (a Atom) Fact() AttrFact {
	args := make([]string, len(a.Args))
	for i, t := range a.Args {
		args[i] = t.plain()
	}
	return AttrFact{Name: a.Name, Args: args}
}

// ProblemBuilder accumulates ground facts and section comments in emission
// order. Facts are append-only; the rendered program sorts fact lines so the
// cache digest is insensitive to emission order.
type ProblemBuilder struct {
	atoms []Atom
	out   []string

	// Randomize shuffles emission order for benchmarking runs; it never
	// changes the sorted program text.
	Randomize bool
	Seed      int64
}

// NewProblemBuilder returns an empty builder.
func NewProblemBuilder() *ProblemBuilder { return &ProblemBuilder{} }

// H1 appends a top-level section header comment.
func (b *ProblemBuilder) H1(title string) {
	bar := strings.Repeat("%", 76)
	b.out = append(b.out, bar, fmt.Sprintf("%% %s", title), bar)
}

// H2 appends a subsection header comment.
func (b *ProblemBuilder) H2(title string) {
	b.out = append(b.out, fmt.Sprintf("%% %s", title))
}

// Comment appends a free-form comment line.
func (b *ProblemBuilder) Comment(text string) {
	b.out = append(b.out, fmt.Sprintf("%% %s", text))
}

// Fact appends one ground fact.
func (b *ProblemBuilder) Fact(a Atom) {
	b.atoms = append(b.atoms, a)
	b.out = append(b.out, a.String()+".")
}

// Atoms returns the emitted facts. With Randomize set the slice is a
// shuffled copy, otherwise emission order.
func (b *ProblemBuilder) Atoms() []Atom {
	if !b.Randomize {
		return b.atoms
	}
	shuffled := make([]Atom, len(b.atoms))
	copy(shuffled, b.atoms)
	r := rand.New(rand.NewSource(b.Seed))
	r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled
}

// Program returns the sorted fact lines, one per line. This is the text the
// cache digest is computed over; comments are excluded.
func (b *ProblemBuilder) Program() string {
	lines := make([]string, 0, len(b.atoms))
	for _, a := range b.atoms {
		lines = append(lines, a.String()+".")
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n") + "\n"
}

// Text returns the full emitted text with comments, in emission order, for
// debug display and --setup-only output.
func (b *ProblemBuilder) Text() string {
	return strings.Join(b.out, "\n") + "\n"
}
