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

package vsn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	for _, tcase := range []struct {
		name string
		a, b string
		want int
	}{
		{name: "equal", a: "1.0", b: "1.0", want: 0},
		{name: "patch ordering", a: "1.0.1", b: "1.0.2", want: -1},
		{name: "major ordering", a: "2.0", b: "1.9.9", want: 1},
		{name: "two digit components", a: "1.10", b: "1.9", want: 1},
		{name: "named before numeric", a: "develop", b: "1.0", want: -1},
		{name: "calendar versions", a: "2021.4", b: "2020.10", want: 1},
	} {
		t.Run(tcase.name, func(t *testing.T) {
			assert.Equal(t, tcase.want, New(tcase.a).Compare(New(tcase.b)))
			assert.Equal(t, -tcase.want, New(tcase.b).Compare(New(tcase.a)))
		})
	}
}

func TestSatisfiesPrefix(t *testing.T) {
	assert.True(t, New("1.0.2").SatisfiesPrefix(New("1.0")))
	assert.True(t, New("1.0").SatisfiesPrefix(New("1.0")))
	assert.False(t, New("1.10").SatisfiesPrefix(New("1.1")))
	assert.False(t, New("2.0").SatisfiesPrefix(New("1.0")))
}

func TestRangeSatisfies(t *testing.T) {
	for _, tcase := range []struct {
		rng     string
		version string
		want    bool
	}{
		{rng: "", version: "3.2", want: true},
		{rng: "=2.0", version: "2.0", want: true},
		{rng: "=2.0", version: "2.0.1", want: false},
		{rng: "2.0", version: "2.0.1", want: true},
		{rng: "1.2:1.9", version: "1.5", want: true},
		{rng: "1.2:1.9", version: "1.9.2", want: true}, // upper bound includes its series
		{rng: "1.2:1.9", version: "2.0", want: false},
		{rng: ":1.4", version: "0.9", want: true},
		{rng: "1.4:", version: "0.9", want: false},
	} {
		r, err := ParseRange(tcase.rng)
		assert.NoError(t, err)
		assert.Equal(t, tcase.want, r.Satisfies(New(tcase.version)),
			"range %q version %q", tcase.rng, tcase.version)
	}
}

func TestRangeParseErrors(t *testing.T) {
	_, err := ParseRange("=")
	assert.Error(t, err)
	_, err = ParseRange("2.0:1.0")
	assert.Error(t, err)
}

func TestRangeIntersects(t *testing.T) {
	assert.True(t, MustRange("1.0:2.0").Intersects(MustRange("1.5:3.0")))
	assert.False(t, MustRange("1.0:2.0").Intersects(MustRange("3.0:")))
	assert.True(t, MustRange("=1.5").Intersects(MustRange("1.0:2.0")))
	assert.False(t, MustRange("=0.5").Intersects(MustRange("1.0:2.0")))
}
