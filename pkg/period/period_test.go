package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLabelCalendarMonth(t *testing.T) {
	p := New(
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	)
	require.Equal(t, "2025-03", p.Label())
}

func TestLabelArbitraryWindow(t *testing.T) {
	p := New(
		time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC),
	)
	require.Equal(t, "20250310_20250320", p.Label())
}

func TestContainsHalfOpen(t *testing.T) {
	p := New(
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	)

	require.True(t, p.Contains(p.Start))
	require.True(t, p.Contains(p.End.Add(-time.Second)))
	require.False(t, p.Contains(p.End))
	require.False(t, p.Contains(p.Start.Add(-time.Second)))
}

func TestValidateRejectsOpenPeriod(t *testing.T) {
	now := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

	open := New(
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	)
	require.Error(t, open.Validate(now))

	closed := New(
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, closed.Validate(now))
}

func TestValidateRejectsInvertedBounds(t *testing.T) {
	p := New(
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	)
	require.Error(t, p.Validate(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))
}

func TestPreviousMonth(t *testing.T) {
	p := PreviousMonth(time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC))
	require.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), p.Start)
	require.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), p.End)
	require.Equal(t, "2025-02", p.Label())

	january := PreviousMonth(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))
	require.Equal(t, "2024-12", january.Label())
}
