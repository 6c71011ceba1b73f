package cmd

import (
	"testing"

	"github.com/Tiliavir/stampclock/internal/model"
)

func TestFormatElapsed(t *testing.T) {
	cases := map[string]struct {
		seconds int64
		want    string
	}{
		"just started":    {0, "0s"},
		"under a minute":  {42, "42s"},
		"one minute":      {60, "1m 0s"},
		"minutes":         {25*60 + 3, "25m 3s"},
		"one hour":        {3600, "1h 0m 0s"},
		"working day":     {8*3600 + 15*60 + 9, "8h 15m 9s"},
		"past midnight":   {23*3600 + 59*60 + 59, "23h 59m 59s"},
		"overnight shift": {26 * 3600, "26h 0m 0s"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			if got := formatElapsed(c.seconds); got != c.want {
				t.Errorf("formatElapsed(%d) = %q, want %q", c.seconds, got, c.want)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	open := model.Entry{WorkDate: "2026-03-02", StartTime: "08:00"}
	if got := describe(open); got != "2026-03-02 08:00–ongoing" {
		t.Errorf("open entry: %q", got)
	}
	closed := model.Entry{WorkDate: "2026-03-02", StartTime: "22:30", EndTime: model.StringPtr("01:00")}
	if got := describe(closed); got != "2026-03-02 22:30–01:00 (2h 30m)" {
		t.Errorf("overnight entry: %q", got)
	}
}
