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

/*
Package solver concretizes abstract package requests into fully concrete
dependency graphs by encoding the problem as weighted pseudo-boolean
optimization.

A request is an abstract spec: a package name plus whatever constraints the
caller cares about (version ranges, variant values, architecture, required
dependencies). Concretization decides everything the request left open, so
that every node in the resulting graph has exactly one version, a value for
every variant, an architecture triple, and a provider for every virtual it
depends on.

The pipeline runs in stages:

 1. Setup walks the repository from the input packages and emits the problem
    as facts and rules: declared versions with their preference ranking,
    variant definitions, conditional dependencies, conflicts, providers,
    externals, requirement groups, and the reusable installed specs.

 2. Compile translates those facts into hard and weighted soft clauses for
    the gophersat MAXSAT/Pseudo-Boolean solver, with the optimization
    criteria kept lexicographically separate by weight scale.

 3. The driver runs the solver, consults the persistent concretization cache
    keyed by a digest of the generated program, and enforces the configured
    timeout.

 4. Decode reads the optimal model back into attribute facts, and the spec
    builder replays those attributes into concrete spec graphs.

 5. On unsatisfiable problems the error handler extracts a minimized core of
    input facts and renders a diagnostic with the chain of conditions that
    caused each failure.
*/
package solver
