package site

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateParser(t *testing.T) {
	t.Parallel()

	p, err := NewDateParser([]string{"02/01/2006"}, "ro", "UTC")
	require.NoError(t, err)

	tests := []struct {
		raw  string
		want time.Time
	}{
		{raw: "16 septembrie, 2009", want: time.Date(2009, time.September, 16, 0, 0, 0, 0, time.UTC)},
		{raw: "  3 Mai 2024, 14:30 ", want: time.Date(2024, time.May, 3, 14, 30, 0, 0, time.UTC)},
		{raw: "2024-02-29T10:00:00+02:00", want: time.Date(2024, time.February, 29, 8, 0, 0, 0, time.UTC)},
		{raw: "05.01.2024", want: time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC)},
		{raw: "07/03/2023", want: time.Date(2023, time.March, 7, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := p.Parse(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.True(t, tt.want.Equal(got), "%s: got %v want %v", tt.raw, got, tt.want)
	}

	_, err = p.Parse("ieri")
	require.Error(t, err)
	_, err = p.Parse("   ")
	require.Error(t, err)
}

func TestDateParserTimezone(t *testing.T) {
	t.Parallel()

	p, err := NewDateParser(nil, "ro", "Europe/Bucharest")
	require.NoError(t, err)
	got, err := p.Parse("1 iulie 2024 12:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.July, 1, 9, 0, 0, 0, time.UTC), got)

	_, err = NewDateParser(nil, "", "Not/AZone")
	require.Error(t, err)
}
