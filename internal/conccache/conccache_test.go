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

package conccache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHash(i int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("problem-%d", i)))
	return hex.EncodeToString(sum[:])
}

func testDoc(i int) *Document {
	return &Document{Results: json.RawMessage(fmt.Sprintf(`{"n":%d}`, i))}
}

func TestLookupMissing(t *testing.T) {
	c, err := Open(t.TempDir(), 0, 0)
	require.NoError(t, err)

	doc, err := c.Lookup(testHash(0))
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestStoreAndLookup(t *testing.T) {
	c, err := Open(t.TempDir(), 0, 0)
	require.NoError(t, err)

	hash := testHash(1)
	require.NoError(t, c.Store(hash, testDoc(1)))

	doc, err := c.Lookup(hash)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.JSONEq(t, `{"n":1}`, string(doc.Results))

	// entries fan out under the first two hash characters
	_, err = os.Stat(filepath.Join(c.Root(), hash[:2], hash))
	assert.NoError(t, err)
}

func TestStoreIsWriteOnce(t *testing.T) {
	c, err := Open(t.TempDir(), 0, 0)
	require.NoError(t, err)

	hash := testHash(2)
	require.NoError(t, c.Store(hash, testDoc(2)))
	require.NoError(t, c.Store(hash, testDoc(99)))

	doc, err := c.Lookup(hash)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.JSONEq(t, `{"n":2}`, string(doc.Results))
}

func TestRejectsShortHash(t *testing.T) {
	c, err := Open(t.TempDir(), 0, 0)
	require.NoError(t, err)

	_, err = c.Lookup("ab")
	assert.Error(t, err)
	assert.Error(t, c.Store("ab", testDoc(0)))
}

func TestCorruptEntryIsTreatedAsMiss(t *testing.T) {
	c, err := Open(t.TempDir(), 0, 0)
	require.NoError(t, err)

	hash := testHash(3)
	require.NoError(t, c.Store(hash, testDoc(3)))

	path := filepath.Join(c.Root(), hash[:2], hash)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	doc, err := c.Lookup(hash)
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestEntryLimitPrunesOldestFirst(t *testing.T) {
	const limit = 10
	c, err := Open(t.TempDir(), limit, 0)
	require.NoError(t, err)

	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, c.Store(testHash(i), testDoc(i)))
	}

	var kept []int
	for i := 0; i < n; i++ {
		doc, err := c.Lookup(testHash(i))
		require.NoError(t, err)
		if doc != nil {
			kept = append(kept, i)
		}
	}
	require.NotEmpty(t, kept)
	assert.LessOrEqual(t, len(kept), limit)
	// pruning is FIFO: whatever survives is a suffix of the insertion order
	for j := 1; j < len(kept); j++ {
		assert.Equal(t, kept[j-1]+1, kept[j])
	}
	assert.Equal(t, n-1, kept[len(kept)-1])
}

func TestSizeLimitPrunes(t *testing.T) {
	// each doc is a few dozen bytes serialized; a 200 byte ceiling keeps
	// only the newest few
	c, err := Open(t.TempDir(), 0, 200)
	require.NoError(t, err)

	const n = 12
	for i := 0; i < n; i++ {
		require.NoError(t, c.Store(testHash(i), testDoc(i)))
	}

	// the newest entry always survives
	doc, err := c.Lookup(testHash(n - 1))
	require.NoError(t, err)
	assert.NotNil(t, doc)

	// the oldest is gone
	doc, err = c.Lookup(testHash(0))
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestMalformedManifestLinesAreSkipped(t *testing.T) {
	c, err := Open(t.TempDir(), 0, 0)
	require.NoError(t, err)

	require.NoError(t, c.Store(testHash(4), testDoc(4)))

	manifest := filepath.Join(c.Root(), "index.manifest")
	data, err := os.ReadFile(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(manifest, append(data, []byte("garbage line here\n")...), 0o644))

	// storing another entry reads, tolerates, and rewrites the manifest
	require.NoError(t, c.Store(testHash(5), testDoc(5)))
	doc, err := c.Lookup(testHash(4))
	require.NoError(t, err)
	assert.NotNil(t, doc)
	doc, err = c.Lookup(testHash(5))
	require.NoError(t, err)
	assert.NotNil(t, doc)
}
