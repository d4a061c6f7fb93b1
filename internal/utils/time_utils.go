package utils

import (
	"strconv"
	"strings"
	"time"

	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/logger"
)

var timeUnits = []struct {
	suffix string
	unit   time.Duration
}{
	{"s", time.Second},
	{"m", time.Minute},
	{"h", time.Hour},
	{"d", 24 * time.Hour},
}

// ParseStringTime parses duration strings like "10s", "5m", "48h" or "2d"
// as used in config.json. Invalid input logs an error and yields 0.
func ParseStringTime(timeString string) time.Duration {
	timeString = strings.ToLower(timeString)
	for _, u := range timeUnits {
		cutString, _, found := strings.Cut(timeString, u.suffix)
		if !found {
			continue
		}
		number, err := strconv.Atoi(cutString)
		if err != nil {
			logger.ErrorF("Error parsing time string: %s", err.Error())
			return 0
		}
		return time.Duration(number) * u.unit
	}
	logger.ErrorF("invalid time format: %s", timeString)
	return 0
}

// ParseStringTimeOr parses a duration string, falling back to def when the
// string is empty or invalid.
func ParseStringTimeOr(timeString string, def time.Duration) time.Duration {
	if timeString == "" {
		return def
	}
	if d := ParseStringTime(timeString); d > 0 {
		return d
	}
	return def
}
