package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ref = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

func TestValidateAt(t *testing.T) {
	birth, err := ValidateAt("800101-1231", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC), birth)

	birth, err = ValidateAt("120305-9876", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2012, time.March, 5, 0, 0, 0, 0, time.UTC), birth)
}

func TestValidateAtFormat(t *testing.T) {
	for _, raw := range []string{"", "8001011231", "80-0101-1231", "800101-123", "800101-12345", "80010a-1231", "800101 1231"} {
		_, err := ValidateAt(raw, ref)
		assert.ErrorIs(t, err, ErrFormat, raw)
	}
}

func TestValidateAtChecksum(t *testing.T) {
	_, err := ValidateAt("800101-1230", ref)
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestValidateAtDate(t *testing.T) {
	// Checksum holds but the month component is out of range.
	_, err := ValidateAt("801301-0007", ref)
	assert.ErrorIs(t, err, ErrDate)
}

func TestValidateAtCenturyBoundary(t *testing.T) {
	// yy equal to the current two-digit year resolves to the 1900s.
	birth, err := ValidateAt("120305-9876", time.Date(2012, time.January, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1912, birth.Year())
}

func TestAgeAt(t *testing.T) {
	birth := time.Date(2012, time.March, 5, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 13, AgeAt(birth, ref))
	assert.Equal(t, 12, AgeAt(birth, time.Date(2025, time.March, 4, 0, 0, 0, 0, time.UTC)))
	assert.True(t, IsMinorAt(birth, ref))
	assert.False(t, IsMinorAt(time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC), ref))
}
