package safety

import (
	"fmt"
	"math"
)

// processingSeconds is the nominal cost of one action on top of pacing.
const processingSeconds = 2.0

// AverageActionSeconds is the expected wall time per action.
func (s Settings) AverageActionSeconds() float64 {
	return float64(s.RequestIntervalSeconds) + float64(s.RequestRandomRangeSeconds)/2 + processingSeconds
}

var estimateUnits = []struct {
	name    string
	seconds float64
}{
	{"day", 86400},
	{"hour", 3600},
	{"minute", 60},
}

// EstimateRemaining renders the time left for total-progress actions in the
// largest unit that fits, e.g. "~3 hours". Progress beyond total yields "done".
func EstimateRemaining(total, progress int, s Settings) string {
	remaining := total - progress
	if remaining <= 0 {
		return "done"
	}
	secs := float64(remaining) * s.AverageActionSeconds()
	for _, u := range estimateUnits {
		if secs >= u.seconds {
			return plural(int(math.Ceil(secs/u.seconds)), u.name)
		}
	}
	return plural(int(math.Ceil(secs)), "second")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("~1 %s", unit)
	}
	return fmt.Sprintf("~%d %ss", n, unit)
}
