package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// RoundsPerAttempt is the number of rounds a complete attempt carries.
	RoundsPerAttempt = 5
	// MinTestNumber and MaxTestNumber bound the tests offered to users.
	MinTestNumber = 1
	MaxTestNumber = 4
)

// RoundRecord is one stored round of one attempt.
// (UserID, TestNumber, AttemptNumber, RoundNumber) is unique in every store.
type RoundRecord struct {
	UserID         string    `json:"userId"`
	TestNumber     int       `json:"testNumber"`
	AttemptNumber  int       `json:"attemptNumber"`
	RoundNumber    int       `json:"roundNumber"`
	Score          float64   `json:"score"`
	CorrectWords   []string  `json:"correctWords"`
	IncorrectWords []string  `json:"incorrectWords"`
	SubmissionTime time.Time `json:"submissionTime"`
}

// Key returns the attempt the record belongs to.
func (r RoundRecord) Key() AttemptKey {
	return AttemptKey{UserID: r.UserID, TestNumber: r.TestNumber, AttemptNumber: r.AttemptNumber}
}

// AttemptKey identifies a logical attempt.
type AttemptKey struct {
	UserID        string
	TestNumber    int
	AttemptNumber int
}

// Submission is the inbound event produced once a round has been scored.
type Submission struct {
	UserID         string
	TestNumber     int
	RoundNumber    int
	Score          float64
	CorrectWords   []string
	IncorrectWords []string
	SubmissionTime time.Time
}

// Receipt reports where a submission landed.
type Receipt struct {
	AttemptNumber int
	RoundFive     bool
	// Signal is set only for a committed round 5 write.
	Signal *CompletionSignal
}

// CompletionSignal announces that round 5 of an attempt has been recorded.
// Consumers must tolerate duplicates.
type CompletionSignal struct {
	UserID        string    `json:"userId"`
	Username      string    `json:"username,omitempty"`
	TestNumber    int       `json:"testNumber"`
	AttemptNumber int       `json:"attemptNumber"`
	Message       string    `json:"message,omitempty"`
	RecordedAt    time.Time `json:"recordedAt"`
}

// User is the read-only profile owned by the identity service.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Age      *int   `json:"age,omitempty"`
	Sex      string `json:"sex,omitempty"`
}

// Total is either a score sum or not available.
type Total struct {
	value float64
	ok    bool
}

// SomeTotal wraps an available total.
func SomeTotal(v float64) Total { return Total{value: v, ok: true} }

// NotAvailable is the total of an attempt that is not approved.
func NotAvailable() Total { return Total{} }

// Value returns the total and whether it is available.
func (t Total) Value() (float64, bool) { return t.value, t.ok }

// NotAvailableText is rendered in place of a missing total.
const NotAvailableText = "N/A"

func (t Total) MarshalJSON() ([]byte, error) {
	if !t.ok {
		return json.Marshal(NotAvailableText)
	}
	return json.Marshal(t.value)
}

// UnmarshalJSON accepts a number, null or "N/A".
func (t *Total) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = NotAvailable()
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		if text != NotAvailableText {
			return fmt.Errorf("total: unexpected string %q", text)
		}
		*t = NotAvailable()
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("total: %w", err)
	}
	*t = SomeTotal(v)
	return nil
}

// AttemptView is a grouped, derived row describing one attempt.
type AttemptView struct {
	UserID        string
	Username      string
	Age           *int
	Sex           string
	TestNumber    int
	AttemptNumber int
	// Rounds[i] holds the score of round i+1, nil when that round is absent.
	Rounds     [RoundsPerAttempt]*float64
	TestTime   time.Time
	Approved   bool
	TotalScore Total
}

// Round returns the score of round n (1-based).
func (v AttemptView) Round(n int) (float64, bool) {
	if n < 1 || n > RoundsPerAttempt || v.Rounds[n-1] == nil {
		return 0, false
	}
	return *v.Rounds[n-1], true
}

type attemptViewJSON struct {
	Username      string    `json:"username,omitempty"`
	Age           *int      `json:"age,omitempty"`
	Sex           string    `json:"sex,omitempty"`
	TestNumber    int       `json:"test_number"`
	AttemptNumber int       `json:"attempt_number"`
	Round1        *float64  `json:"round1"`
	Round2        *float64  `json:"round2"`
	Round3        *float64  `json:"round3"`
	Round4        *float64  `json:"round4"`
	Round5        *float64  `json:"round5"`
	TestTime      time.Time `json:"test_time"`
	Approved      bool      `json:"approved"`
	TotalScore    Total     `json:"total_score"`
}

func (v AttemptView) MarshalJSON() ([]byte, error) {
	return json.Marshal(attemptViewJSON{
		Username:      v.Username,
		Age:           v.Age,
		Sex:           v.Sex,
		TestNumber:    v.TestNumber,
		AttemptNumber: v.AttemptNumber,
		Round1:        v.Rounds[0],
		Round2:        v.Rounds[1],
		Round3:        v.Rounds[2],
		Round4:        v.Rounds[3],
		Round5:        v.Rounds[4],
		TestTime:      v.TestTime,
		Approved:      v.Approved,
		TotalScore:    v.TotalScore,
	})
}

func (v *AttemptView) UnmarshalJSON(data []byte) error {
	var raw attemptViewJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = AttemptView{
		Username:      raw.Username,
		Age:           raw.Age,
		Sex:           raw.Sex,
		TestNumber:    raw.TestNumber,
		AttemptNumber: raw.AttemptNumber,
		Rounds:        [RoundsPerAttempt]*float64{raw.Round1, raw.Round2, raw.Round3, raw.Round4, raw.Round5},
		TestTime:      raw.TestTime,
		Approved:      raw.Approved,
		TotalScore:    raw.TotalScore,
	}
	return nil
}
