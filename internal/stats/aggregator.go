// Package stats derives moderator-facing statistics from answer snapshots.
package stats

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/protocol"
)

// Option colors in option-index order, matching the dashboard palette.
var optionColors = [protocol.OptionCount]string{"#3B82F6", "#10B981", "#F59E0B", "#EF4444"}

// fallbackColor is returned for any index outside the known option range.
const fallbackColor = "#6B7280"

// DefaultTrendCapacity bounds the trend history when no capacity is given.
const DefaultTrendCapacity = 30

// TrendSample is one timestamped snapshot retained for the recent-history
// chart.
type TrendSample struct {
	At       time.Time
	Snapshot protocol.AnswerStatus
}

// Aggregator turns the stream of answer_status snapshots into derived
// metrics. Every output is a pure function of the latest snapshot; nothing is
// counted incrementally, so replayed or duplicated messages cannot drift the
// numbers.
type Aggregator struct {
	mu       sync.Mutex
	current  protocol.AnswerStatus
	trend    []TrendSample
	start    int // index of the oldest sample
	size     int
	capacity int
	now      func() time.Time
}

// NewAggregator creates an aggregator with a bounded trend history. A
// capacity below 1 falls back to DefaultTrendCapacity.
func NewAggregator(trendCapacity int) *Aggregator {
	if trendCapacity < 1 {
		trendCapacity = DefaultTrendCapacity
	}
	return &Aggregator{
		trend:    make([]TrendSample, trendCapacity),
		capacity: trendCapacity,
		now:      time.Now,
	}
}

// Record replaces the current snapshot wholesale (last write wins) and
// appends a trend sample, evicting the oldest once capacity is reached.
func (a *Aggregator) Record(snapshot protocol.AnswerStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = snapshot
	sample := TrendSample{At: a.now(), Snapshot: snapshot}
	if a.size < a.capacity {
		a.trend[(a.start+a.size)%a.capacity] = sample
		a.size++
		return
	}
	a.trend[a.start] = sample
	a.start = (a.start + 1) % a.capacity
}

// Current returns the latest snapshot.
func (a *Aggregator) Current() protocol.AnswerStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Trend returns the retained samples ordered oldest to newest.
func (a *Aggregator) Trend() []TrendSample {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]TrendSample, a.size)
	for i := 0; i < a.size; i++ {
		out[i] = a.trend[(a.start+i)%a.capacity]
	}
	return out
}

// PercentageFor returns the rounded share of answers for one option, or 0
// when nobody has answered yet or the option index is out of range.
func (a *Aggregator) PercentageFor(option int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if option < 0 || option >= protocol.OptionCount || a.current.AnsweredCount == 0 {
		return 0
	}
	return percentage(a.current.AnswerCounts[option], a.current.AnsweredCount)
}

// ResponseRate returns the rounded share of participants who have answered,
// or 0 when there are no participants.
func (a *Aggregator) ResponseRate() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current.TotalParticipants == 0 {
		return 0
	}
	return percentage(a.current.AnsweredCount, a.current.TotalParticipants)
}

// Unanswered returns how many participants have not answered yet.
func (a *Aggregator) Unanswered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.current.TotalParticipants - a.current.AnsweredCount
	if n < 0 {
		return 0
	}
	return n
}

// Ranking returns the option indices ordered by answer count, highest first.
// Ties keep option-index order so the ranking is deterministic.
func (a *Aggregator) Ranking() [protocol.OptionCount]int {
	a.mu.Lock()
	counts := a.current.AnswerCounts
	a.mu.Unlock()

	var ranked [protocol.OptionCount]int
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked[:], func(i, j int) bool {
		return counts[ranked[i]] > counts[ranked[j]]
	})
	return ranked
}

// ColorFor maps an option index to its presentation color. Indices outside
// the option range get the fallback color; it never fails.
func ColorFor(option int) string {
	if option < 0 || option >= protocol.OptionCount {
		return fallbackColor
	}
	return optionColors[option]
}

func percentage(part, whole int) int {
	return int(math.Round(float64(part) / float64(whole) * 100))
}
