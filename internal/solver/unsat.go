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
	"sort"
	"strings"

	"github.com/quarry-sh/quarry/internal/spec"
)

// maxShownInputs caps the input list rendered in diagnostics.
const maxShownInputs = 8

// ErrorHandler turns error facts and unsatisfiable problems into readable
// diagnostics.
type ErrorHandler struct {
	inst   *ProblemInstance
	byID   map[int]*Condition
	byMsg  map[string][]*Condition
	inputs []*spec.Spec
}

// NewErrorHandler builds a handler over one problem instance.
func NewErrorHandler(inst *ProblemInstance, inputs []*spec.Spec) *ErrorHandler {
	h := &ErrorHandler{
		inst:   inst,
		byID:   map[int]*Condition{},
		byMsg:  map[string][]*Condition{},
		inputs: inputs,
	}
	for _, c := range inst.Conditions {
		h.byID[c.ID] = c
		if c.Err != nil {
			h.byMsg[c.Err.Message] = append(h.byMsg[c.Err.Message], c)
		}
	}
	return h
}

// Message renders every fired error, sorted by descending priority, each
// followed by its cause tree, prefixed by the requested inputs.
func (h *ErrorHandler) Message(errs []*ErrorPayload) string {
	var b strings.Builder
	b.WriteString("concretization failed for ")
	b.WriteString(h.inputList())
	b.WriteString(":\n")

	sorted := append([]*ErrorPayload(nil), errs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	for _, e := range sorted {
		fmt.Fprintf(&b, "  %s\n", renderError(e))
		for _, cond := range h.byMsg[e.Message] {
			h.writeCauseTree(&b, cond, 2)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderError(e *ErrorPayload) string {
	if len(e.Args) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, strings.Join(e.Args, ", "))
}

// writeCauseTree expands the subcondition chain of a condition into
// indented "required because" lines. An explicit work stack with a seen
// set keyed by (effect, cause) protects against self-referential chains.
func (h *ErrorHandler) writeCauseTree(b *strings.Builder, root *Condition, indent int) {
	type frame struct {
		cond  *Condition
		depth int
	}
	type link struct{ effect, cause int }
	seen := map[link]bool{}

	stack := []frame{{cond: root, depth: indent}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		fmt.Fprintf(b, "%srequired because %s\n", strings.Repeat("  ", f.depth), f.cond.Reason)

		if f.cond.Parent == 0 {
			continue
		}
		l := link{effect: f.cond.ID, cause: f.cond.Parent}
		if seen[l] {
			continue
		}
		seen[l] = true
		if parent, ok := h.byID[f.cond.Parent]; ok {
			stack = append(stack, frame{cond: parent, depth: f.depth + 1})
		}
	}
}

func (h *ErrorHandler) inputList() string {
	var texts []string
	for _, in := range h.inputs {
		texts = append(texts, in.String())
	}
	if len(texts) > maxShownInputs {
		shown := texts[:maxShownInputs]
		return fmt.Sprintf("%s, ... (%d more)", strings.Join(shown, ", "), len(texts)-maxShownInputs)
	}
	return strings.Join(texts, ", ")
}

// RawCore returns every asserted request fact line: the starting point for
// core minimization.
func (h *ErrorHandler) RawCore() []string {
	seen := map[string]bool{}
	var core []string
	for _, lit := range h.inst.Literals {
		for _, c := range lit.Clauses {
			if c.Kind == CFlag {
				continue
			}
			line := c.Var()
			if !seen[line] {
				seen[line] = true
				core = append(core, line)
			}
		}
	}
	return core
}

// MinimizeCore greedily removes one fact at a time, keeping a fact only if
// the remainder becomes satisfiable without it. The result is
// subset-minimal, not globally minimum, at the cost of one re-solve per
// fact.
func (h *ErrorHandler) MinimizeCore(core []string) []string {
	dropped := map[string]bool{}
	var kept []string
	for _, fact := range core {
		dropped[fact] = true
		if h.satisfiableWithout(dropped) {
			// removing this fact fixes the problem: it is load-bearing
			delete(dropped, fact)
			kept = append(kept, fact)
		}
	}
	return kept
}

// satisfiableWithout re-solves the instance with the given facts left
// unasserted; a model with fired error facts still counts as conflicting.
func (h *ErrorHandler) satisfiableWithout(skip map[string]bool) bool {
	cp := compileProblem(h.inst, skip)
	result := cp.Problem().Solver().Optimal(nil, nil)
	if result.Status.String() != "SAT" {
		return false
	}
	dm := cp.Decode(result.Model)
	return len(dm.Errors) == 0
}
