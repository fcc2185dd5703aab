package utils

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSDKIntToFloat64(t *testing.T) {
	out, err := SDKIntToFloat64(sdkmath.NewInt(1_500_000), 6)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, out, 1e-12)

	out, err = SDKIntToFloat64(sdkmath.NewInt(42), 0)
	require.NoError(t, err)
	assert.InDelta(t, 42.0, out, 1e-12)

	out, err = SDKIntToFloat64(sdkmath.ZeroInt(), 18)
	require.NoError(t, err)
	assert.Zero(t, out)
}

func TestSDKIntToFloat64_Errors(t *testing.T) {
	_, err := SDKIntToFloat64(sdkmath.NewInt(1), -1)
	require.ErrorIs(t, err, ErrInvalidPrecision)

	_, err = SDKIntToFloat64(sdkmath.NewInt(1), 19)
	require.ErrorIs(t, err, ErrInvalidPrecision)

	_, err = SDKIntToFloat64(sdkmath.Int{}, 6)
	require.ErrorIs(t, err, ErrAmountNil)

	_, err = SDKIntToFloat64(sdkmath.NewInt(-5), 6)
	require.ErrorIs(t, err, ErrAmountNegative)
}

func TestFloat64ToSDKInt(t *testing.T) {
	out, err := Float64ToSDKInt(1.5, 6)
	require.NoError(t, err)
	assert.Equal(t, "1500000", out.String())

	out, err = Float64ToSDKInt(0, 18)
	require.NoError(t, err)
	assert.True(t, out.IsZero())

	// Values that cannot be represented exactly in binary still convert
	// cleanly through the decimal-string path.
	out, err = Float64ToSDKInt(0.1, 18)
	require.NoError(t, err)
	assert.Equal(t, "100000000000000000", out.String())
}

func TestFloat64ToSDKInt_Errors(t *testing.T) {
	_, err := Float64ToSDKInt(1, 19)
	require.ErrorIs(t, err, ErrInvalidPrecision)

	_, err = Float64ToSDKInt(-1, 6)
	require.ErrorIs(t, err, ErrAmountNegative)
}

func TestWadToFloat64(t *testing.T) {
	value, ok := sdkmath.NewIntFromString("2400000000000000000")
	require.True(t, ok)

	out, err := WadToFloat64(value)
	require.NoError(t, err)
	assert.InDelta(t, 2.4, out, 1e-12)
}

func TestRoundTrip(t *testing.T) {
	for _, amount := range []float64{0.000001, 1, 1.5, 123456.789} {
		raw, err := Float64ToSDKInt(amount, 6)
		require.NoError(t, err)
		back, err := SDKIntToFloat64(raw, 6)
		require.NoError(t, err)
		assert.InDelta(t, amount, back, 1e-6)
	}
}
