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

// Package conccache is the persistent concretization cache: solve results
// keyed by the digest of the generated program, stored in a two-level
// fan-out tree with a manifest tracking insertion order for FIFO pruning.
package conccache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/Masterminds/log-go"
	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

const manifestName = "index.manifest"

// Document is one stored cache entry.
type Document struct {
	Results    json.RawMessage `json:"results"`
	Statistics json.RawMessage `json:"statistics,omitempty"`
}

// Cache is a size/age-bounded store. Limits of zero or less disable the
// corresponding ceiling.
type Cache struct {
	root       string
	entryLimit int
	sizeLimit  int64
}

// Open prepares the cache directory. A cache that cannot be opened is an
// error; callers degrade to solving without persistence.
func Open(root string, entryLimit int, sizeLimit int64) (*Cache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "opening concretization cache")
	}
	return &Cache{root: root, entryLimit: entryLimit, sizeLimit: sizeLimit}, nil
}

// Root returns the cache directory.
func (c *Cache) Root() string { return c.root }

func (c *Cache) entryPath(hash string) (string, error) {
	if len(hash) < 3 {
		return "", errors.Errorf("cache hash %q too short", hash)
	}
	return securejoin.SecureJoin(c.root, filepath.Join(hash[:2], hash))
}

// Lookup returns the stored document for a hash, or nil when absent. A
// corrupt entry is reported as absent.
func (c *Cache) Lookup(hash string) (*Document, error) {
	path, err := c.entryPath(hash)
	if err != nil {
		return nil, err
	}
	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return nil, errors.Wrap(err, "locking cache entry")
	}
	defer func() { _ = lock.Unlock() }()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading cache entry")
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Warnf("ignoring corrupt cache entry %s: %v", hash, err)
		return nil, nil
	}
	return &doc, nil
}

// Store writes a document under its hash. Entries are write-once: if a
// concurrent writer got there first, Store is a no-op. Limits are enforced
// afterwards, best effort.
func (c *Cache) Store(hash string, doc *Document) error {
	path, err := c.entryPath(hash)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "creating cache entry directory")
	}
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return errors.Wrap(err, "locking cache entry")
	}
	defer func() { _ = lock.Unlock() }()

	if _, err := os.Stat(path); err == nil {
		// first writer wins
		return nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "serializing cache entry")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "writing cache entry")
	}
	if err := c.appendManifest(hash, int64(len(data))); err != nil {
		return err
	}
	if err := c.Cleanup(); err != nil {
		log.Warnf("cache cleanup failed: %v", err)
	}
	return nil
}

type manifestEntry struct {
	hash string
	size int64
}

// parseManifestEntry parses one "hash size" line.
func parseManifestEntry(line string) (string, int64, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return "", 0, errors.Errorf("malformed manifest line %q", line)
	}
	size, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return "", 0, errors.Wrapf(err, "malformed manifest size in %q", line)
	}
	return fields[0], size, nil
}

func (c *Cache) manifestPath() string { return filepath.Join(c.root, manifestName) }

// readManifest returns the entries in insertion order. Malformed lines are
// logged and skipped; an unreadable manifest yields an empty list.
func (c *Cache) readManifest() []manifestEntry {
	data, err := os.ReadFile(c.manifestPath())
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("cannot read cache manifest: %v", err)
		}
		return nil
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 0 {
		return nil
	}
	var entries []manifestEntry
	// first line is the "count bytes" header
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		hash, size, err := parseManifestEntry(line)
		if err != nil {
			log.Warnf("skipping %v", err)
			continue
		}
		entries = append(entries, manifestEntry{hash: hash, size: size})
	}
	return entries
}

func (c *Cache) writeManifest(entries []manifestEntry) error {
	var b strings.Builder
	var total int64
	for _, e := range entries {
		total += e.size
	}
	fmt.Fprintf(&b, "%d %d\n", len(entries), total)
	for _, e := range entries {
		fmt.Fprintf(&b, "%s %d\n", e.hash, e.size)
	}
	tmp := c.manifestPath() + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return errors.Wrap(err, "writing cache manifest")
	}
	return errors.Wrap(os.Rename(tmp, c.manifestPath()), "replacing cache manifest")
}

func (c *Cache) appendManifest(hash string, size int64) error {
	lock := flock.New(c.manifestPath() + ".lock")
	if err := lock.Lock(); err != nil {
		return errors.Wrap(err, "locking cache manifest")
	}
	defer func() { _ = lock.Unlock() }()

	entries := c.readManifest()
	for _, e := range entries {
		if e.hash == hash {
			return nil
		}
	}
	entries = append(entries, manifestEntry{hash: hash, size: size})
	return c.writeManifest(entries)
}

// Cleanup prunes oldest-first: past the entry ceiling it drops down to 90%
// of the limit, past the byte ceiling it reclaims 10% of the allowed bytes.
// Either ceiling can be disabled with a non-positive limit.
func (c *Cache) Cleanup() error {
	lock := flock.New(c.manifestPath() + ".lock")
	if err := lock.Lock(); err != nil {
		return errors.Wrap(err, "locking cache manifest")
	}
	defer func() { _ = lock.Unlock() }()

	entries := c.readManifest()
	keep := entries

	if c.entryLimit > 0 && len(keep) > c.entryLimit {
		target := c.entryLimit - c.entryLimit/10
		if target < 1 {
			target = 1
		}
		keep = keep[len(keep)-target:]
	}
	if c.sizeLimit > 0 {
		var total int64
		for _, e := range keep {
			total += e.size
		}
		if total > c.sizeLimit {
			target := c.sizeLimit - c.sizeLimit/10
			for len(keep) > 0 && total > target {
				total -= keep[0].size
				keep = keep[1:]
			}
		}
	}
	if len(keep) == len(entries) {
		return nil
	}

	kept := map[string]bool{}
	for _, e := range keep {
		kept[e.hash] = true
	}
	for _, e := range entries {
		if kept[e.hash] {
			continue
		}
		path, err := c.entryPath(e.hash)
		if err != nil {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warnf("cannot prune cache entry %s: %v", e.hash, err)
		}
		_ = os.Remove(path + ".lock")
		// drop the fan-out directory once its last entry is gone
		_ = os.Remove(filepath.Dir(path))
	}
	return c.writeManifest(keep)
}
