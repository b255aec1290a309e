// Package reportcache maps a fingerprint of (project, query body) to a
// previously produced obfuscated report (spec.md §4.6), short-circuiting
// the compile/execute/obfuscate pipeline on a hit.
package reportcache

import (
	"bufio"
	"encoding/base64"
	"os"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/samply/focus-go/internal/logging"
)

// Fingerprint is the stable cache key: a hash of (project tag,
// base64-decoded query body).
type Fingerprint string

// Fingerprint64 hashes the project tag and the base64-decoded body bytes
// with xxhash and returns the sum as a lowercase hex string. A body that is
// not valid base64 is hashed as given. The decoded bytes are hashed as they
// are: no further normalization (whitespace, key order) is applied, so two
// bodies that differ only in JSON formatting get different fingerprints.
func Fingerprint64(project string, base64Body string) Fingerprint {
	raw, err := base64.StdEncoding.DecodeString(base64Body)
	if err != nil {
		raw = []byte(base64Body)
	}

	h := xxhash.New()
	_, _ = h.WriteString(project)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(raw)

	return Fingerprint(strconv.FormatUint(h.Sum64(), 16))
}

// Cache is a process-lifetime map of Fingerprint -> the already-obfuscated
// result document, shared across workers and protected by a single mutex
// held only for the point lookup/insert (spec.md §5).
type Cache struct {
	mu      sync.Mutex
	entries map[Fingerprint]string
	// eligible restricts caching to a pre-seeded allowlist when non-nil
	// (spec.md §4.6 "optional startup pre-seed").
	eligible map[Fingerprint]struct{}
}

// New constructs an empty report cache with no pre-seed restriction: every
// fingerprint is cacheable.
func New() *Cache {
	return &Cache{entries: make(map[Fingerprint]string)}
}

// Get returns the cached report body for a fingerprint, if present.
func (c *Cache) Get(fp Fingerprint) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[fp]
	return v, ok
}

// Put stores a successfully obfuscated report body under its fingerprint.
// When a pre-seed allowlist is loaded, fingerprints outside it are not
// cached (they are still answered correctly, just recomputed every time).
func (c *Cache) Put(fp Fingerprint, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eligible != nil {
		if _, ok := c.eligible[fp]; !ok {
			return
		}
	}
	c.entries[fp] = body
}

// LoadPreSeed reads a newline-delimited text file of fingerprints
// (spec.md §6 "queries-to-cache-file-path") and restricts Put to that
// allowlist. Each non-empty line is taken verbatim as a Fingerprint and so
// matches only the hex string Fingerprint64 returns; lines are not
// base64-decoded. An empty path is a no-op: every fingerprint stays cacheable.
func (c *Cache) LoadPreSeed(path string, log logging.Logger) error {
	if path == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	eligible := make(map[Fingerprint]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		eligible[Fingerprint(line)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.eligible = eligible
	c.mu.Unlock()

	log.Info("reportcache: loaded pre-seed file", "path", path, "entries", len(eligible))
	return nil
}
