package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/dispatchd/errors"
)

func TestNextRun(t *testing.T) {
	from := time.Date(2024, 3, 13, 10, 30, 15, 0, time.UTC) // Wednesday

	tests := []struct {
		code string
		want time.Time
	}{
		{IntervalMinutely, time.Date(2024, 3, 13, 10, 31, 0, 0, time.UTC)},
		{IntervalHourly, time.Date(2024, 3, 13, 11, 0, 0, 0, time.UTC)},
		{IntervalDaily, time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)},
		{IntervalWeekly, time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC)},
		{IntervalMonthly, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
		{IntervalYearly, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			got, err := NextRun(tt.code, from)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextRun_DisabledAndUnknown(t *testing.T) {
	_, err := NextRun(IntervalDisabled, time.Now())
	assert.True(t, errors.Is(err, ErrIntervalDisabled))

	_, err = NextRun("q", time.Now())
	assert.Error(t, err)
}

func TestIntervalCron_AllCodesParse(t *testing.T) {
	for code, expr := range IntervalCron {
		if expr == "" {
			continue
		}
		_, err := cronParser.Parse(expr)
		assert.NoError(t, err, code)
	}
}
