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

// Package platform is the target collaborator: it answers queries about the
// host platform, available compilers and the runtimes they inject.
package platform

import (
	"runtime"

	"github.com/quarry-sh/quarry/internal/spec"
)

// Compiler is one toolchain the solver may pick for a node.
type Compiler struct {
	// Spec identifies the compiler package and version, e.g. "gcc@12.3.0".
	Spec *spec.Spec
	// Languages the toolchain covers ("c", "cxx", "fortran").
	Languages []string
	// Targets the toolchain can generate code for; empty means any.
	Targets []string
	// Runtime is an optional runtime package injected into the graph of
	// every node built with this compiler (e.g. "gcc-runtime").
	Runtime *spec.Spec
	// Libc the toolchain links against, when known.
	Libc *spec.Spec
	// DefaultFlags per flag group, folded in below package flags.
	DefaultFlags map[string][]string
}

// Supports reports whether the compiler covers a language.
func (c *Compiler) Supports(lang string) bool {
	for _, l := range c.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// Platform describes the solve target.
type Platform interface {
	// Name of the platform ("linux", "darwin", "test").
	Name() string
	// DefaultOS and DefaultTarget fill unconstrained arch slots.
	DefaultOS() string
	DefaultTarget() string
	// Targets lists supported targets, best first.
	Targets() []string
	// Compilers lists available toolchains, preferred first.
	Compilers() []*Compiler
}

// Host is a Platform assembled from explicit values; Default() fills it from
// the running system, tests build their own.
type Host struct {
	PlatformName string
	OS           string
	Target       string
	TargetList   []string
	Toolchains   []*Compiler
}

func (h *Host) Name() string          { return h.PlatformName }
func (h *Host) DefaultOS() string     { return h.OS }
func (h *Host) DefaultTarget() string { return h.Target }

func (h *Host) Targets() []string {
	if len(h.TargetList) == 0 {
		return []string{h.Target}
	}
	return h.TargetList
}

func (h *Host) Compilers() []*Compiler { return h.Toolchains }

// Default builds a Host for the running system with no compilers; callers
// register toolchains before solving.
func Default() *Host {
	return &Host{
		PlatformName: runtime.GOOS,
		OS:           runtime.GOOS,
		Target:       runtime.GOARCH,
	}
}
