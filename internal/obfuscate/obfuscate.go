// Package obfuscate perturbs aggregate counts with Laplace noise and
// rounding (spec.md §4.5), caching one noise draw per (stratifier, value)
// pair for the process lifetime so repeated queries report stable counts.
package obfuscate

import (
	"math"
	"math/rand"
	"sync"
)

// Mode selects the low-count policy applied before counts reach the
// Laplace/rounding step (spec.md §4.5 step 1).
type Mode int

const (
	ModeZero Mode = iota
	ModeTen
	ModeLaplace
)

// Sensitivities carries the per-stratifier sensitivity defaults (spec.md
// §4.5 step 4).
type Sensitivities struct {
	Patient   float64
	Specimen  float64
	Diagnosis float64
}

// DefaultSensitivities returns spec.md §4.5's defaults: patient=1,
// specimen=20, diagnosis=3.
func DefaultSensitivities() Sensitivities {
	return Sensitivities{Patient: 1, Specimen: 20, Diagnosis: 3}
}

// sensitivityFor resolves a stratifier name to its configured sensitivity,
// falling back to the patient default for names outside the known three
// (the source's "default_obfuscation" project fallback, see task_processing).
func (s Sensitivities) sensitivityFor(stratifierName string) float64 {
	switch stratifierName {
	case "specimen":
		return s.Specimen
	case "diagnosis":
		return s.Diagnosis
	default:
		return s.Patient
	}
}

// Report is a measure-report flattened to the shape the obfuscator
// consumes (spec.md §4.5's input shape).
type Report struct {
	Totals      map[string]int64
	Stratifiers map[string]map[string]int64
}

// ObfuscatedReport mirrors Report's shape, with every count replaced by its
// obfuscated value.
type ObfuscatedReport struct {
	Totals      map[string]int64
	Stratifiers map[string]map[string]int64
}

// Config bundles the obfuscation policy read from the root Config.
type Config struct {
	Enabled       bool
	ObfuscateZero bool
	Mode          Mode
	Sensitivities Sensitivities
	Epsilon       float64
	RoundingStep  int
}

// cacheKey is the obfuscation cache's composite key (spec.md §3
// "Obfuscation cache").
type cacheKey struct {
	stratifier string
	value      string
}

// Cache caches one noise-perturbed count per (stratifier, value) pair for
// the life of the process (spec.md §4.5 step 3), protected by a single
// mutex held only across the point lookup/insert (spec.md §5 "Shared
// resources").
type Cache struct {
	mu    sync.Mutex
	draws map[cacheKey]int64
	rng   *rand.Rand
}

// NewCache constructs an empty obfuscation cache with its own noise
// source, independent of the package-level math/rand generator so tests
// can run concurrently without interference.
func NewCache(seed int64) *Cache {
	return &Cache{
		draws: make(map[cacheKey]int64),
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// Obfuscate applies the low-count policy, Laplace noise and rounding to
// every (stratifierName, value) -> count entry in report, per spec.md
// §4.5, and reuses any previously cached draw for that pair.
func (c *Cache) Obfuscate(report Report, cfg Config) ObfuscatedReport {
	if !cfg.Enabled {
		return ObfuscatedReport{Totals: report.Totals, Stratifiers: report.Stratifiers}
	}

	out := ObfuscatedReport{
		Totals:      make(map[string]int64, len(report.Totals)),
		Stratifiers: make(map[string]map[string]int64, len(report.Stratifiers)),
	}
	for name, count := range report.Totals {
		out.Totals[name] = c.obfuscateOne(name, "__total__", count, cfg)
	}
	for stratifierName, strata := range report.Stratifiers {
		values := make(map[string]int64, len(strata))
		for value, count := range strata {
			values[value] = c.obfuscateOne(stratifierName, value, count, cfg)
		}
		out.Stratifiers[stratifierName] = values
	}
	return out
}

func (c *Cache) obfuscateOne(stratifierName, value string, count int64, cfg Config) int64 {
	if count == 0 && !cfg.ObfuscateZero {
		return 0
	}

	key := cacheKey{stratifier: stratifierName, value: value}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.draws[key]; ok {
		return cached
	}

	noised := c.applyPolicy(stratifierName, count, cfg)
	c.draws[key] = noised
	return noised
}

// applyPolicy applies the low-count override (modes 0/1 only, and only
// below 10) and then, for every count that falls through — all of mode 2's
// counts, and modes 0/1's counts at or above 10 — runs Laplace noise plus
// step rounding, so ModeLaplace's output is always a multiple of
// RoundingStep (spec.md §8's "Obfuscated counts are multiples of
// rounding-step when mode=2").
func (c *Cache) applyPolicy(stratifierName string, count int64, cfg Config) int64 {
	if count < 10 {
		switch cfg.Mode {
		case ModeZero:
			return 0
		case ModeTen:
			return 10
		}
	}

	sensitivity := cfg.Sensitivities.sensitivityFor(stratifierName)
	scale := sensitivity / cfg.Epsilon
	noise := drawLaplace(c.rng, scale)
	perturbed := float64(count) + noise
	rounded := roundToStep(perturbed, cfg.RoundingStep)
	if rounded < 0 {
		rounded = 0
	}
	return rounded
}

// drawLaplace samples from a zero-centered Laplace distribution with the
// given scale via inverse-CDF sampling of a uniform draw on [-0.5, 0.5),
// the standard technique laplace_rs-style crates use internally.
func drawLaplace(rng *rand.Rand, scale float64) float64 {
	u := rng.Float64() - 0.5
	sign := 1.0
	if u < 0 {
		sign = -1.0
	}
	return -scale * sign * math.Log(1-2*math.Abs(u))
}

func roundToStep(value float64, step int) int64 {
	if step <= 0 {
		return int64(math.Round(value))
	}
	s := float64(step)
	return int64(math.Round(value/s) * s)
}
