package misc

import (
	"fmt"
	"sync"
	"time"
)

var (
	durationDisplayFormat = StatsDisplayFormat{DivisionFactor: float64(time.Second), NumDecimals: 2}

	// RecycleStats measures the duration of each complete pool recycle in nanoseconds.
	RecycleStats = NewStats(durationDisplayFormat)
	// RecoveryStats measures the duration of each isolated session recovery in nanoseconds.
	RecoveryStats = NewStats(durationDisplayFormat)
	// HTTPDStats measures the duration of each request served by the HTTP daemon in nanoseconds.
	HTTPDStats = NewStats(durationDisplayFormat)
)

// StatsDisplayFormat determines how numbers of Stats are presented to a human reader.
type StatsDisplayFormat struct {
	// DivisionFactor divides each number before it is presented, e.g. time.Second turns nanoseconds into seconds.
	DivisionFactor float64
	// NumDecimals is the number of decimal places of each presented number.
	NumDecimals int
}

// StatsDisplayValue is a snapshot of Stats with the numbers already divided by the display format's factor.
type StatsDisplayValue struct {
	Lowest  float64
	Average float64
	Highest float64
	Total   float64
	Count   uint64
	Summary string
}

// Stats collect counter and aggregated numeric data from a stream of triggers.
type Stats struct {
	format StatsDisplayFormat
	count  uint64 // count is the number of times trigger has occurred.
	mutex  sync.Mutex

	lowest, highest, average, total float64
}

// NewStats returns an initialised stats structure.
func NewStats(format StatsDisplayFormat) *Stats {
	if format.DivisionFactor == 0 {
		format.DivisionFactor = 1
	}
	return &Stats{format: format}
}

// Trigger increases counter by one and places the input quantity into numeric statistics.
// A negative quantity is discarded, and a quantity of 0 only increases the counter.
func (s *Stats) Trigger(qty float64) {
	if qty < 0 {
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if qty > 0 {
		if s.highest == 0 || s.highest < qty {
			s.highest = qty
		}
		if s.lowest == 0 || s.lowest > qty {
			s.lowest = qty
		}
	}
	s.average = (s.average*float64(s.count) + qty) / (float64(s.count) + 1.0)
	s.total += qty
	s.count++
}

// TriggerDuration places the time elapsed since the start into numeric statistics.
func (s *Stats) TriggerDuration(start time.Time) {
	s.Trigger(float64(time.Since(start).Nanoseconds()))
}

// Count returns the number of times the trigger has occurred.
func (s *Stats) Count() uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.count
}

// Format returns all stats formatted into a single line of text in the form of "lowest/average/highest,total(count)".
func (s *Stats) Format() string {
	return s.DisplayValue().Summary
}

// DisplayValue returns the latest numbers divided by the display format's factor.
func (s *Stats) DisplayValue() StatsDisplayValue {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	factor := s.format.DivisionFactor
	ret := StatsDisplayValue{
		Lowest:  s.lowest / factor,
		Average: s.average / factor,
		Highest: s.highest / factor,
		Total:   s.total / factor,
		Count:   s.count,
	}
	ret.Summary = fmt.Sprintf("%.*f/%.*f/%.*f,%.*f(%d)",
		s.format.NumDecimals, ret.Lowest, s.format.NumDecimals, ret.Average,
		s.format.NumDecimals, ret.Highest, s.format.NumDecimals, ret.Total, ret.Count)
	return ret
}
