//go:build property
// +build property

// Property-based tests for inputs_hash and run_id derivation.
package runid_test

import (
	"regexp"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/jasoncookdesign/sigilzero-engine/pkg/canonicalize"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/runid"
)

var runIDBasePattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

func hashesFrom(names, contents []string) map[string]string {
	m := make(map[string]string)
	for i := 0; i < len(names) && i < len(contents); i++ {
		if names[i] == "" {
			continue
		}
		m[names[i]] = canonicalize.HashBytes([]byte(contents[i]))
	}
	return m
}

// TestInputsHashDeterminism verifies the derivation is a pure function
// of the snapshot hash mapping.
// Property: ComputeInputsHash(m) == ComputeInputsHash(m) for any m
func TestInputsHashDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("inputs_hash is deterministic", prop.ForAll(
		func(names []string, contents []string) bool {
			m := hashesFrom(names, contents)
			if len(m) == 0 {
				return true
			}
			h1, err1 := runid.ComputeInputsHash(m)
			h2, err2 := runid.ComputeInputsHash(m)
			if err1 != nil || err2 != nil {
				return false
			}
			return h1 == h2
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("run_id base is 32 lowercase hex chars", prop.ForAll(
		func(names []string, contents []string) bool {
			m := hashesFrom(names, contents)
			if len(m) == 0 {
				return true
			}
			h, err := runid.ComputeInputsHash(m)
			if err != nil {
				return false
			}
			return runIDBasePattern.MatchString(runid.DeriveRunIDBase(h))
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestInputsHashDrift verifies any change to any snapshot hash changes
// inputs_hash.
// Property: m' differing from m in one entry => hash(m') != hash(m)
func TestInputsHashDrift(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("flipping one snapshot changes inputs_hash", prop.ForAll(
		func(names []string, contents []string, flip string) bool {
			m := hashesFrom(names, contents)
			if len(m) == 0 {
				return true
			}
			h1, err := runid.ComputeInputsHash(m)
			if err != nil {
				return false
			}

			// Mutate one entry's content.
			for name, prev := range m {
				next := canonicalize.HashBytes([]byte(flip + "\x00"))
				if next == prev {
					return true
				}
				m[name] = next
				break
			}
			h2, err := runid.ComputeInputsHash(m)
			if err != nil {
				return false
			}
			return h1 != h2 && runid.DeriveRunIDBase(h1) != runid.DeriveRunIDBase(h2)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
		gen.AlphaString(),
	))

	properties.Property("suffixed run_ids stay within the derived family", prop.ForAll(
		func(names []string, contents []string, suffix int) bool {
			m := hashesFrom(names, contents)
			if len(m) == 0 {
				return true
			}
			h, err := runid.ComputeInputsHash(m)
			if err != nil {
				return false
			}
			base := runid.DeriveRunIDBase(h)
			id := runid.DeriveRunID(h, suffix)
			if suffix <= 1 {
				return id == base
			}
			return runIDBasePattern.MatchString(base) && id != base && id[:32] == base
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}
