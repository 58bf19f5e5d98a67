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

import "fmt"

// UserError reports an over-constrained or malformed request. It is
// recoverable by fixing the input.
type UserError struct {
	Msg string
}

func (e *UserError) Error() string { return e.Msg }

func userErrorf(format string, args ...interface{}) *UserError {
	return &UserError{Msg: fmt.Sprintf(format, args...)}
}

// InternalError reports a violated invariant. It always aborts
// concretization and asks the caller to file a bug.
type InternalError struct {
	Msg string
}

func (e *InternalError) Error() string {
	return e.Msg + "; this is likely a bug, please report it"
}

func internalErrorf(format string, args ...interface{}) *InternalError {
	return &InternalError{Msg: fmt.Sprintf(format, args...)}
}

// UnsatError reports an unsatisfiable request together with its minimized
// cores, one list of fact lines per core.
type UnsatError struct {
	Msg   string
	Cores [][]string
}

func (e *UnsatError) Error() string { return e.Msg }

// TimeoutError reports that the solve hit its deadline under the hard-fail
// policy.
type TimeoutError struct {
	Seconds int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("solve timed out after %d seconds", e.Seconds)
}
