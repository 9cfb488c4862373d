package app

import (
	"sort"

	"attempt-ledger/internal/domain"
)

// Group folds round records into one view per (user, test, attempt).
// It does no I/O and never caches: approval is derived from the records given.
func Group(records []domain.RoundRecord) []domain.AttemptView {
	groups := make(map[domain.AttemptKey][]domain.RoundRecord)
	order := make([]domain.AttemptKey, 0)
	for _, rec := range records {
		key := rec.Key()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rec)
	}

	views := make([]domain.AttemptView, 0, len(order))
	for _, key := range order {
		views = append(views, buildView(key, groups[key]))
	}
	return views
}

func buildView(key domain.AttemptKey, records []domain.RoundRecord) domain.AttemptView {
	sorted := make([]domain.RoundRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RoundNumber < sorted[j].RoundNumber
	})

	view := domain.AttemptView{
		UserID:        key.UserID,
		TestNumber:    key.TestNumber,
		AttemptNumber: key.AttemptNumber,
	}

	present := make(map[int]bool, domain.RoundsPerAttempt)
	ordered := true
	var sum float64
	for i, rec := range sorted {
		if rec.RoundNumber >= 1 && rec.RoundNumber <= domain.RoundsPerAttempt && view.Rounds[rec.RoundNumber-1] == nil {
			score := rec.Score
			view.Rounds[rec.RoundNumber-1] = &score
		}
		present[rec.RoundNumber] = true
		sum += rec.Score
		if rec.SubmissionTime.After(view.TestTime) {
			view.TestTime = rec.SubmissionTime
		}
		if i > 0 && rec.SubmissionTime.Before(sorted[i-1].SubmissionTime) {
			ordered = false
		}
	}

	view.Approved = ordered && len(sorted) == domain.RoundsPerAttempt && completeRounds(present)
	if view.Approved {
		view.TotalScore = domain.SomeTotal(sum)
	} else {
		view.TotalScore = domain.NotAvailable()
	}
	return view
}

func completeRounds(present map[int]bool) bool {
	if len(present) != domain.RoundsPerAttempt {
		return false
	}
	for n := 1; n <= domain.RoundsPerAttempt; n++ {
		if !present[n] {
			return false
		}
	}
	return true
}

// FilterApproved keeps approved attempts only.
func FilterApproved(views []domain.AttemptView) []domain.AttemptView {
	out := make([]domain.AttemptView, 0, len(views))
	for _, v := range views {
		if v.Approved {
			out = append(out, v)
		}
	}
	return out
}

// SortSelf orders the most recent attempt first.
func SortSelf(views []domain.AttemptView) {
	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		if !a.TestTime.Equal(b.TestTime) {
			return a.TestTime.After(b.TestTime)
		}
		if a.TestNumber != b.TestNumber {
			return a.TestNumber > b.TestNumber
		}
		return a.AttemptNumber > b.AttemptNumber
	})
}

// SortAdmin orders by username, then test, then attempt.
func SortAdmin(views []domain.AttemptView) {
	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		if a.Username != b.Username {
			return a.Username < b.Username
		}
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if a.TestNumber != b.TestNumber {
			return a.TestNumber < b.TestNumber
		}
		return a.AttemptNumber < b.AttemptNumber
	})
}

// SortDetail orders a single user's attempts by test, then attempt.
func SortDetail(views []domain.AttemptView) {
	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		if a.TestNumber != b.TestNumber {
			return a.TestNumber < b.TestNumber
		}
		return a.AttemptNumber < b.AttemptNumber
	})
}
