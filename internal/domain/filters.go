package domain

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// TimeWindow is the half-open interval [Start, End).
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// DayWindow returns [start, start+24h).
func DayWindow(start time.Time) TimeWindow {
	return TimeWindow{Start: start, End: start.Add(24 * time.Hour)}
}

// RecordFilter selects round records in a store. Zero fields match everything.
type RecordFilter struct {
	UserID     string
	TestNumber int
	Window     *TimeWindow
}

// Matches applies the filter to a single record.
func (f RecordFilter) Matches(r RoundRecord) bool {
	if f.UserID != "" && r.UserID != f.UserID {
		return false
	}
	if f.TestNumber != 0 && r.TestNumber != f.TestNumber {
		return false
	}
	if f.Window != nil && !f.Window.Contains(r.SubmissionTime) {
		return false
	}
	return true
}

// RawFilters are query filters as received from a client.
type RawFilters struct {
	Username   string
	TestNumber string
	TestTime   string
	Approved   string
}

// Filters are validated query filters.
type Filters struct {
	Username     string
	TestNumber   int
	Window       *TimeWindow
	ApprovedOnly bool
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTestTime parses an ISO date or date-time. Values without a zone are UTC.
func ParseTestTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			if !storable(t) || !storable(t.Add(24*time.Hour)) {
				return time.Time{}, Invalid("test_time", "out of range")
			}
			return t, nil
		}
	}
	return time.Time{}, Invalid("test_time", "expected ISO date or date-time")
}

// ParseFilters validates raw client filters.
func ParseFilters(raw RawFilters) (Filters, error) {
	var f Filters
	f.Username = strings.TrimSpace(raw.Username)

	if s := strings.TrimSpace(raw.TestNumber); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return Filters{}, Invalid("test_number", "must be an integer")
		}
		if err := ValidateTestNumber(n); err != nil {
			return Filters{}, err
		}
		f.TestNumber = n
	}

	if s := strings.TrimSpace(raw.TestTime); s != "" {
		start, err := ParseTestTime(s)
		if err != nil {
			return Filters{}, err
		}
		w := DayWindow(start)
		f.Window = &w
	}

	switch strings.ToLower(strings.TrimSpace(raw.Approved)) {
	case "", "no", "false", "0", "all":
	case "yes", "true", "1":
		f.ApprovedOnly = true
	default:
		return Filters{}, Invalid("approved", "expected Yes or No")
	}
	return f, nil
}

// ValidateTestNumber checks the test number domain.
func ValidateTestNumber(n int) error {
	if n < MinTestNumber || n > MaxTestNumber {
		return Invalid("test_number", "must be between 1 and 4")
	}
	return nil
}

// ValidateRoundNumber checks the round number domain.
func ValidateRoundNumber(n int) error {
	if n < 1 || n > RoundsPerAttempt {
		return Invalid("round_number", "must be between 1 and 5")
	}
	return nil
}

// Validate rejects submissions that must never reach the ledger.
func (s Submission) Validate() error {
	if strings.TrimSpace(s.UserID) == "" {
		return Invalid("user_id", "required")
	}
	if err := ValidateTestNumber(s.TestNumber); err != nil {
		return err
	}
	if err := ValidateRoundNumber(s.RoundNumber); err != nil {
		return err
	}
	if s.Score < 0 || math.IsNaN(s.Score) || math.IsInf(s.Score, 0) {
		return Invalid("score", "must be a non-negative number")
	}
	if s.SubmissionTime.IsZero() {
		return Invalid("submission_time", "required")
	}
	if !storable(s.SubmissionTime) {
		return Invalid("submission_time", "out of range")
	}
	return nil
}

// Stores keep submission times as nanoseconds since the epoch in an int64.
var (
	earliestStorable = time.Unix(0, math.MinInt64).UTC()
	latestStorable   = time.Unix(0, math.MaxInt64).UTC()
)

func storable(t time.Time) bool {
	return !t.Before(earliestStorable) && !t.After(latestStorable)
}
