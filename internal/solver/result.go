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
	"sort"

	"github.com/pkg/errors"

	"github.com/quarry-sh/quarry/internal/spec"
)

// Criterion is one named optimization level with its achieved value.
type Criterion struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// Answer is one model: its cost vector, its rank among returned models
// (0 is best), and the concrete spec built for every solved node.
type Answer struct {
	Cost  []int64
	Rank  int
	Specs map[string]*spec.Spec
}

// UnsolvedInput pairs an input the solver could not concretize with its
// best partial candidate, if any model produced one.
type UnsolvedInput struct {
	Input     *spec.Spec
	Candidate *spec.Spec
}

// Result is the outcome of one concretization.
type Result struct {
	Inputs      []*spec.Spec
	Satisfiable bool
	Optimal     bool
	NModels     int
	Criteria    []Criterion
	Answers     []*Answer
	Cores       [][]string

	// UnsatMessage is the rendered diagnostic, filled by the error handler
	// on unsatisfiable problems.
	UnsatMessage string

	// ProgramText holds the generated program when the driver was asked to
	// stop after setup; it is never serialized.
	ProgramText string
}

// Best returns the top-ranked answer, or nil.
func (r *Result) Best() *Answer {
	if len(r.Answers) == 0 {
		return nil
	}
	best := r.Answers[0]
	for _, a := range r.Answers[1:] {
		if a.Rank < best.Rank {
			best = a
		}
	}
	return best
}

// SpecsByInput matches each input to the concrete spec satisfying it in the
// best answer. Inputs with no satisfying spec are absent.
func (r *Result) SpecsByInput() map[*spec.Spec]*spec.Spec {
	out := map[*spec.Spec]*spec.Spec{}
	best := r.Best()
	if best == nil {
		return out
	}
	for _, in := range r.Inputs {
		if s, ok := best.Specs[in.Name]; ok && s.Satisfies(in) {
			out[in] = s
		}
	}
	return out
}

// Specs returns the concrete specs for the inputs, input order, solved
// inputs only.
func (r *Result) Specs() []*spec.Spec {
	byInput := r.SpecsByInput()
	var out []*spec.Spec
	for _, in := range r.Inputs {
		if s, ok := byInput[in]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Unsolved returns the inputs the best answer did not concretize, each with
// its closest candidate when one exists.
func (r *Result) Unsolved() []UnsolvedInput {
	byInput := r.SpecsByInput()
	best := r.Best()
	var out []UnsolvedInput
	for _, in := range r.Inputs {
		if _, ok := byInput[in]; ok {
			continue
		}
		u := UnsolvedInput{Input: in}
		if best != nil {
			u.Candidate = best.Specs[in.Name]
		}
		out = append(out, u)
	}
	return out
}

// RaiseIfUnsat converts an unsatisfiable result into its error.
func (r *Result) RaiseIfUnsat() error {
	if r.Satisfiable {
		return nil
	}
	msg := r.UnsatMessage
	if msg == "" {
		msg = "the problem has no satisfying assignment"
	}
	return &UnsatError{Msg: msg, Cores: r.Cores}
}

// ResultDict is the serializable form of a Result, used by the
// concretization cache.
type ResultDict struct {
	Inputs      []string     `json:"inputs"`
	Satisfiable bool         `json:"satisfiable"`
	Optimal     bool         `json:"optimal"`
	NModels     int          `json:"nmodels"`
	Criteria    []Criterion  `json:"criteria,omitempty"`
	Answers     []AnswerDict `json:"answers,omitempty"`
	Cores       [][]string   `json:"cores,omitempty"`
	UnsatMsg    string       `json:"unsat_message,omitempty"`
}

// AnswerDict is the serializable form of one answer; specs are stored as
// their DAG dictionaries keyed by node name.
type AnswerDict struct {
	Cost  []int64               `json:"cost"`
	Rank  int                   `json:"rank"`
	Specs map[string]*spec.Dict `json:"specs"`
}

// ToDict serializes the result.
func (r *Result) ToDict() (*ResultDict, error) {
	d := &ResultDict{
		Satisfiable: r.Satisfiable,
		Optimal:     r.Optimal,
		NModels:     r.NModels,
		Criteria:    r.Criteria,
		Cores:       r.Cores,
		UnsatMsg:    r.UnsatMessage,
	}
	for _, in := range r.Inputs {
		d.Inputs = append(d.Inputs, in.String())
	}
	for _, a := range r.Answers {
		ad := AnswerDict{Cost: a.Cost, Rank: a.Rank, Specs: map[string]*spec.Dict{}}
		for _, name := range sortedAnswerNodes(a) {
			sd, err := a.Specs[name].ToDict()
			if err != nil {
				return nil, errors.Wrapf(err, "serializing answer spec %q", name)
			}
			ad.Specs[name] = sd
		}
		d.Answers = append(d.Answers, ad)
	}
	return d, nil
}

// ResultFromDict rebuilds a result from its serialized form.
func ResultFromDict(d *ResultDict) (*Result, error) {
	r := &Result{
		Satisfiable:  d.Satisfiable,
		Optimal:      d.Optimal,
		NModels:      d.NModels,
		Criteria:     d.Criteria,
		Cores:        d.Cores,
		UnsatMessage: d.UnsatMsg,
	}
	for _, text := range d.Inputs {
		in, err := spec.Parse(text)
		if err != nil {
			return nil, errors.Wrapf(err, "deserializing input %q", text)
		}
		r.Inputs = append(r.Inputs, in)
	}
	for _, ad := range d.Answers {
		a := &Answer{Cost: ad.Cost, Rank: ad.Rank, Specs: map[string]*spec.Spec{}}
		for name, sd := range ad.Specs {
			s, err := spec.FromDict(sd)
			if err != nil {
				return nil, errors.Wrapf(err, "deserializing answer spec %q", name)
			}
			a.Specs[name] = s
		}
		r.Answers = append(r.Answers, a)
	}
	return r, nil
}

func sortedAnswerNodes(a *Answer) []string {
	names := make([]string, 0, len(a.Specs))
	for n := range a.Specs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
