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

package quarrypath

import (
	"os"
	"path/filepath"

	"github.com/quarry-sh/quarry/pkg/quarrypath/xdg"
)

// lazypath resolves application directories lazily against the XDG base
// directory variables, falling back to OS conventions.
type lazypath string

func (l lazypath) path(envVar string, defaultFn func() string, elem ...string) string {
	base := os.Getenv(envVar)
	if base == "" {
		base = defaultFn()
	}
	return filepath.Join(append([]string{base, string(l)}, elem...)...)
}

func (l lazypath) cachePath(elem ...string) string {
	return l.path(xdg.CacheHomeEnvVar, cacheHome, elem...)
}

func (l lazypath) configPath(elem ...string) string {
	return l.path(xdg.ConfigHomeEnvVar, configHome, elem...)
}

func (l lazypath) dataPath(elem ...string) string {
	return l.path(xdg.DataHomeEnvVar, dataHome, elem...)
}
