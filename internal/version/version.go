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

// Package version holds the build metadata stamped into the quarry binary.
package version

import "runtime"

var (
	// version is the current release, overridden at build time with
	// -ldflags "-X ...version.version=vX.Y.Z".
	version = "v0.1"
	// gitCommit is the SHA the binary was built from.
	gitCommit = ""
	// gitTreeState is "clean" or "dirty" at build time.
	gitTreeState = ""
)

// BuildInfo describes the compile-time information of this build.
type BuildInfo struct {
	Version      string `json:"version,omitempty"`
	GitCommit    string `json:"git_commit,omitempty"`
	GitTreeState string `json:"git_tree_state,omitempty"`
	GoVersion    string `json:"go_version,omitempty"`
}

// GetVersion returns the semver string of the version.
func GetVersion() string {
	return version
}

// Get returns build info.
func Get() BuildInfo {
	return BuildInfo{
		Version:      GetVersion(),
		GitCommit:    gitCommit,
		GitTreeState: gitTreeState,
		GoVersion:    runtime.Version(),
	}
}
