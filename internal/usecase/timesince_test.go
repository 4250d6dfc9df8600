package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimeSince(t *testing.T) {
	now := time.Date(2025, 3, 14, 16, 0, 0, 0, time.UTC)
	cases := []struct {
		ago  time.Duration
		want string
	}{
		{-time.Second, "in the future"},
		{0, "0 minutes"},
		{59 * time.Second, "0 minutes"},
		{time.Minute, "1 minute"},
		{30 * time.Minute, "30 minutes"},
		{59*time.Minute + 59*time.Second, "59 minutes"},
		{time.Hour, "1 hour"},
		{90 * time.Minute, "1 hour"},
		{23*time.Hour + 59*time.Minute, "23 hours"},
		{24 * time.Hour, "1 day"},
		{71 * time.Hour, "2 days"},
	}
	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			require.Equal(t, tc.want, TimeSince(now.Add(-tc.ago), now))
		})
	}
}
