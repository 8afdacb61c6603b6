package core

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// RandSource provides random number generation for profile generation and item selection.
// This interface enables dependency injection for deterministic testing.
type RandSource interface {
	// Intn returns a random integer in [0, n). Panics if n <= 0.
	Intn(n int) int
}

// cryptoRandSource wraps crypto/rand for production use
type cryptoRandSource struct{}

// Intn returns a cryptographically secure random integer in [0, n).
// Panics if n <= 0 (programmer error).
func (cryptoRandSource) Intn(n int) int {
	if n <= 0 {
		panic(fmt.Sprintf("cryptoRandSource.Intn: n must be positive, got %d", n))
	}
	// rand.Int does not error when using rand.Reader
	// https://pkg.go.dev/crypto/rand#Int
	nBig, _ := rand.Int(rand.Reader, big.NewInt(int64(n)))
	return int(nBig.Int64())
}

// DefaultRandSource is a cryptographically secure random source.
var DefaultRandSource RandSource = cryptoRandSource{}

// InterestPreset is a fixed combination of subject and medium interests.
type InterestPreset struct {
	Subjects []string
	Media    []string
}

// DefaultInterestPresets are the subject/medium combinations a random profile is drawn from.
var DefaultInterestPresets = []InterestPreset{
	{Subjects: []string{"Portrait", "Abstract"}, Media: []string{"Oil"}},
	{Subjects: []string{"Landscape"}, Media: []string{"Oil"}},
	{Subjects: []string{"Religious"}, Media: []string{"Pastel"}},
	{Subjects: []string{"Portrait", "StillLife"}, Media: []string{"Fresco"}},
	{Subjects: []string{"StillLife"}, Media: []string{"Pastel"}},
	{Subjects: []string{"Abstract", "Landscape"}, Media: []string{"Acrylic", "Fresco"}},
	{Subjects: []string{"Portrait", "Religious"}, Media: []string{"Oil", "Pastel"}},
	{Subjects: []string{"StillLife"}, Media: []string{"Watercolor", "Fresco"}},
}

// maxCreatorInterests bounds how many creators a random profile draws. Duplicate draws collapse,
// so a profile ends up with one or two creators.
const maxCreatorInterests = 2

// RandomProfile draws a profile: one preset from presets and up to two creators from creators.
// The strategy is not random; it is a property of the bidder and carried over as given.
func RandomProfile(rs RandSource, strategy Strategy, presets []InterestPreset, creators []string) (Profile, error) {
	if len(presets) == 0 {
		return Profile{}, ErrEmptyProfile
	}
	if rs == nil {
		rs = DefaultRandSource
	}

	preset := presets[rs.Intn(len(presets))]
	profile := Profile{
		Subjects: append([]string(nil), preset.Subjects...),
		Media:    append([]string(nil), preset.Media...),
		Creators: make([]string, 0, maxCreatorInterests),
		Strategy: strategy,
	}

	if len(creators) > 0 {
		for range maxCreatorInterests {
			c := creators[rs.Intn(len(creators))]
			if !interested(profile.Creators, c) {
				profile.Creators = append(profile.Creators, c)
			}
		}
	}

	return profile, nil
}
