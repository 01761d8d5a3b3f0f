package protocol

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/alanyoungcy/predictionperps/internal/domain"
)

func TestParseUnits(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{in: "12.5", want: "12500000"},
		{in: " 1 ", want: "1000000"},
		{in: "0", want: "0"},
		{in: "0.000001", want: "1"},
		{in: "0.0000001", err: true},
		{in: "-1", err: true},
		{in: "1e6", err: true},
		{in: "", err: true},
		{in: "1.", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseUnits(tt.in, 6)
			if tt.err {
				assert.True(t, errors.Is(err, domain.ErrInvalidAmount), "err = %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParsePositiveUnitsRejectsZero(t *testing.T) {
	_, err := ParsePositiveUnits("0.0", 6)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestParseIntegers(t *testing.T) {
	n, err := ParsePositiveInt("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n.Int64())

	_, err = ParsePositiveInt("0")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = ParsePositiveInt("abc")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	z, err := ParseNonNegativeInt("0")
	require.NoError(t, err)
	assert.Zero(t, z.Sign())
}

func TestFormatUnitsRoundTrip(t *testing.T) {
	assert.Equal(t, "0", FormatUnits(nil, 6))
	rapid.Check(t, func(t *rapid.T) {
		v := big.NewInt(rapid.Int64Min(0).Draw(t, "v"))
		got, err := ParseUnits(FormatUnits(v, 6), 6)
		if err != nil {
			t.Fatalf("parse %s: %v", FormatUnits(v, 6), err)
		}
		if got.Cmp(v) != 0 {
			t.Fatalf("round trip %s -> %s", v, got)
		}
	})
}
