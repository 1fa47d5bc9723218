package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegion_NormalizeLon(t *testing.T) {
	positive := Region{Name: "atl", Kind: KindWave, LatMin: 35, LatMax: 47, LonMin: 280, LonMax: 300}
	signed := Region{Name: "atl", Kind: KindWind, LatMin: 35, LatMax: 47, LonMin: -80, LonMax: -60}

	assert.True(t, positive.PositiveLongitudes())
	assert.False(t, signed.PositiveLongitudes())

	assert.InDelta(t, 289.829, positive.NormalizeLon(-70.171), 1e-9)
	assert.InDelta(t, 289.829, positive.NormalizeLon(289.829), 1e-9)
	assert.InDelta(t, -70.171, signed.NormalizeLon(289.829), 1e-9)
	assert.InDelta(t, -70.171, signed.NormalizeLon(-70.171), 1e-9)
}

func TestRegion_ContainsEitherConvention(t *testing.T) {
	r := Region{Name: "atl", Kind: KindWave, LatMin: 35, LatMax: 47, LonMin: 280, LonMax: 300}

	assert.True(t, r.Contains(42.8, -70.171))
	assert.True(t, r.Contains(42.8, 289.829))
	assert.False(t, r.Contains(30, -70))
	assert.False(t, r.Contains(42.8, -100))
}

func TestRegion_SignedBounds(t *testing.T) {
	r := Region{Name: "atl", Kind: KindWave, LatMin: 35, LatMax: 47, LonMin: 280, LonMax: 300}
	west, east := r.SignedBounds()
	assert.Equal(t, -80.0, west)
	assert.Equal(t, -60.0, east)
}

func TestRegion_Validate(t *testing.T) {
	ok := Region{Name: "atl", Kind: KindWind, LatMin: 35, LatMax: 47, LonMin: -80, LonMax: -60}
	require.NoError(t, ok.Validate())

	bad := ok
	bad.Name = "at_l"
	assert.Error(t, bad.Validate())

	bad = ok
	bad.LatMin = 50
	assert.Error(t, bad.Validate())

	bad = ok
	bad.Kind = "tide"
	assert.Error(t, bad.Validate())

	bad = ok
	bad.LonMin, bad.LonMax = -80, 300
	assert.Error(t, bad.Validate())
}

func TestNormalizeDirection(t *testing.T) {
	assert.Equal(t, 0.0, NormalizeDirection(360))
	assert.Equal(t, 350.0, NormalizeDirection(-10))
	assert.Equal(t, 45.0, NormalizeDirection(405))
}
