package reportcache

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/samply/focus-go/internal/logging"
)

func TestFingerprintIsStableAndSensitiveToInputs(t *testing.T) {
	body := base64.StdEncoding.EncodeToString([]byte(`{"operand":"and","children":[]}`))

	a := Fingerprint64("bbmri", body)
	b := Fingerprint64("bbmri", body)
	if a != b {
		t.Fatalf("expected stable fingerprint, got %q vs %q", a, b)
	}

	c := Fingerprint64("dktk", body)
	if a == c {
		t.Fatal("expected different project tags to produce different fingerprints")
	}

	otherBody := base64.StdEncoding.EncodeToString([]byte(`{"operand":"or","children":[]}`))
	d := Fingerprint64("bbmri", otherBody)
	if a == d {
		t.Fatal("expected different bodies to produce different fingerprints")
	}
}

func TestGetPutRoundTrip(t *testing.T) {
	c := New()
	fp := Fingerprint("abc123")

	if _, ok := c.Get(fp); ok {
		t.Fatal("expected empty cache miss")
	}

	c.Put(fp, "obfuscated-report")
	got, ok := c.Get(fp)
	if !ok || got != "obfuscated-report" {
		t.Fatalf("expected cache hit with stored value, got %q, %v", got, ok)
	}
}

func TestPreSeedRestrictsCaching(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "preseed.txt")
	if err := os.WriteFile(path, []byte("allowed-fp\n"), 0o644); err != nil {
		t.Fatalf("write preseed: %v", err)
	}

	c := New()
	if err := c.LoadPreSeed(path, logging.Noop()); err != nil {
		t.Fatalf("load pre-seed: %v", err)
	}

	c.Put(Fingerprint("allowed-fp"), "cached")
	if _, ok := c.Get(Fingerprint("allowed-fp")); !ok {
		t.Fatal("expected allowed fingerprint to be cached")
	}

	c.Put(Fingerprint("not-allowed"), "should not be cached")
	if _, ok := c.Get(Fingerprint("not-allowed")); ok {
		t.Fatal("expected fingerprint outside the pre-seed allowlist to be rejected")
	}
}

func TestEmptyPreSeedPathIsNoOp(t *testing.T) {
	c := New()
	if err := c.LoadPreSeed("", logging.Noop()); err != nil {
		t.Fatalf("expected no error for empty path, got %v", err)
	}
	c.Put(Fingerprint("anything"), "cached")
	if _, ok := c.Get(Fingerprint("anything")); !ok {
		t.Fatal("expected caching to remain unrestricted")
	}
}
