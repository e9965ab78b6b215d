package physics

import (
	"errors"
	"math"
	"testing"

	"pendant-drop/internal/shape"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var water = Constants{DeltaRho: 1000, Gravity: 9.81, CalibrationFactor: 1e-5}

func TestSurfaceTension(t *testing.T) {
	p := shape.Params{ApexRadius: 100, BondNumber: 0.5}

	st, err := SurfaceTension(p, water)
	require.NoError(t, err)
	// R0 = 1 mm
	assert.InDelta(t, 1000*9.81*1e-6/0.5, st, 1e-12)
	assert.InDelta(t, 1e-3, ApexRadius(p, water), 1e-15)
}

func TestSurfaceTensionDefaultsGravity(t *testing.T) {
	p := shape.Params{ApexRadius: 100, BondNumber: 0.5}
	c := water
	c.Gravity = 0

	st, err := SurfaceTension(p, c)
	require.NoError(t, err)
	assert.InDelta(t, 1000*StandardGravity*1e-6/0.5, st, 1e-12)
}

func TestSurfaceTensionNearZeroBond(t *testing.T) {
	p := shape.Params{ApexRadius: 100, BondNumber: 1e-6}

	st, err := SurfaceTension(p, water)
	assert.True(t, errors.Is(err, ErrDegenerateBond))
	assert.True(t, math.IsNaN(st))

	q := Derive(p, water)
	assert.False(t, q.SurfaceTensionValid)
	assert.True(t, math.IsNaN(q.SurfaceTension))
	assert.InDelta(t, 1e-3, q.ApexRadiusPhysical, 1e-15)
	assert.False(t, math.IsNaN(q.Volume))
}

func TestVolumeOfSphere(t *testing.T) {
	opts := shape.DefaultOptions()
	opts.SMax = math.Pi
	opts.Samples = 2001
	prof, err := shape.GenerateWith(0, opts)
	require.NoError(t, err)

	assert.InDelta(t, 4.0/3.0*math.Pi, VolumeOf(prof, 1), 1e-4)
	assert.InDelta(t, 8*VolumeOf(prof, 1), VolumeOf(prof, 2), 1e-9)
}

func TestDeriveMatchesParts(t *testing.T) {
	p := shape.Params{ApexRadius: 150, BondNumber: 0.3}
	q := Derive(p, water)

	require.True(t, q.SurfaceTensionValid)
	st, _ := SurfaceTension(p, water)
	vol, err := Volume(p, water)
	require.NoError(t, err)

	assert.Equal(t, st, q.SurfaceTension)
	assert.Equal(t, vol, q.Volume)
	assert.Greater(t, q.Volume, 0.0)
}

func TestDeriveWithUsesFittedProfile(t *testing.T) {
	p := shape.Params{ApexRadius: 150, BondNumber: 0.3}
	opts := shape.DefaultOptions()
	opts.SMax = 3
	opts.Samples = 120

	prof, err := shape.GenerateWith(p.BondNumber, opts)
	require.NoError(t, err)
	q := DeriveWith(p, water, opts)
	assert.InDelta(t, VolumeOf(prof, ApexRadius(p, water)), q.Volume, 1e-18)
	assert.NotEqual(t, Derive(p, water).Volume, q.Volume)

	vol, err := VolumeWith(p, water, opts)
	require.NoError(t, err)
	assert.Equal(t, q.Volume, vol)
}

func TestQuantitiesJSON(t *testing.T) {
	q := Derive(shape.Params{ApexRadius: 100, BondNumber: 1e-6}, water)
	data, err := q.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"surface_tension":null`)
	assert.Contains(t, string(data), `"surface_tension_valid":false`)
	assert.Contains(t, string(data), `"apex_radius_m":0.00`)
}
