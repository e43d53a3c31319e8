package fetcher

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestToMinorUnitsRoundsHalfUp(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1.999", 200},
		{"2.995", 300},
		{"0.00", 0},
		{"0.004", 0},
		{"0.005", 1},
		{"12.34", 1234},
		{"7", 700},
		{" 3.10 ", 310},
		{"1234.565", 123457},
	}
	for _, tt := range tests {
		got, err := ToMinorUnits(strPtr(tt.in))
		require.NoError(t, err, tt.in)
		require.NotNil(t, got, tt.in)
		assert.Equal(t, tt.want, *got, tt.in)
	}
}

func TestToMinorUnitsAbsentStaysNil(t *testing.T) {
	got, err := ToMinorUnits(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = ToMinorUnits(strPtr(""))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestToMinorUnitsRejectsGarbage(t *testing.T) {
	_, err := ToMinorUnits(strPtr("abc"))
	assert.Error(t, err)

	_, err = ToMinorUnits(strPtr("-1.00"))
	assert.Error(t, err)
}

func TestToMinorUnitsRejectsOverflow(t *testing.T) {
	for _, in := range []string{"92233720368547758.08", "99999999999999999999", "1e30"} {
		got, err := ToMinorUnits(strPtr(in))
		assert.Error(t, err, in)
		assert.Nil(t, got, in)
	}

	got, err := ToMinorUnits(strPtr("92233720368547758.07"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(math.MaxInt64), *got)
}

func TestFormatMinorUnits(t *testing.T) {
	v := int64(1999)
	assert.Equal(t, "19.99", FormatMinorUnits(&v))
	zero := int64(5)
	assert.Equal(t, "0.05", FormatMinorUnits(&zero))
	assert.Equal(t, "-", FormatMinorUnits(nil))
}
