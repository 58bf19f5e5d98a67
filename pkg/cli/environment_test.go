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

package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvSettings(t *testing.T) {
	tests := []struct {
		name string

		// input
		args    string
		envvars map[string]string

		// expected values
		debug    bool
		noColors bool
	}{
		{
			name: "defaults",
		},
		{
			name:     "with flags set",
			args:     "--debug --no-colors",
			debug:    true,
			noColors: true,
		},
		{
			name:     "with envvars set",
			envvars:  map[string]string{"QUARRY_DEBUG": "true", "QUARRY_NOCOLORS": "true"},
			debug:    true,
			noColors: true,
		},
		{
			name:     "flags win over envvars",
			args:     "--debug --no-colors",
			envvars:  map[string]string{"QUARRY_DEBUG": "false", "QUARRY_NOCOLORS": "false"},
			debug:    true,
			noColors: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer resetEnv()()

			for k, v := range tt.envvars {
				os.Setenv(k, v)
			}

			flags := pflag.NewFlagSet("testing", pflag.ContinueOnError)

			settings := New()
			settings.AddFlags(flags)
			require.NoError(t, flags.Parse(strings.Fields(tt.args)))

			assert.Equal(t, tt.debug, settings.Debug)
			assert.Equal(t, tt.noColors, settings.NoColors)
		})
	}
}

func resetEnv() func() {
	origEnv := os.Environ()

	// ensure any local envvars do not hose us
	for _, e := range []string{"QUARRY_DEBUG", "QUARRY_NOCOLORS", "QUARRY_NOEMOJIS", "QUARRY_CONFIG"} {
		os.Unsetenv(e)
	}

	return func() {
		for _, pair := range origEnv {
			kv := strings.SplitN(pair, "=", 2)
			os.Setenv(kv[0], kv[1])
		}
	}
}

func TestLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quarry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
concretizer:
  timeout: 30
  error_on_timeout: true
packages:
  all:
    prefer_variants: ["+shared"]
  zlib:
    buildable: false
    externals:
      - spec: zlib@1.2.13
        prefix: /usr
cache:
  enable: true
  entry_limit: 100
  size_limit: 300MB
`), 0o644))

	s, err := LoadSettings(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, s.SolveTimeout())
	assert.True(t, s.Concretizer.ErrorOnTimeout)

	zlib := s.ForPackage("zlib")
	require.NotNil(t, zlib.Buildable)
	assert.False(t, *zlib.Buildable)
	require.Len(t, zlib.Externals, 1)
	assert.Equal(t, "/usr", zlib.Externals[0].Prefix)
	// "all" defaults survive the merge
	assert.Equal(t, []string{"+shared"}, zlib.PreferVariants)

	limit, err := s.CacheSizeLimit(0)
	require.NoError(t, err)
	assert.Equal(t, int64(300*1000*1000), limit)
}

func TestCacheSizeLimitDefaults(t *testing.T) {
	s := DefaultSettings()
	limit, err := s.CacheSizeLimit(1024)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), limit)

	s.Cache.SizeLimit = "-1"
	limit, err = s.CacheSizeLimit(1024)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), limit)

	s.Cache.SizeLimit = "bogus"
	_, err = s.CacheSizeLimit(1024)
	assert.Error(t, err)
}
