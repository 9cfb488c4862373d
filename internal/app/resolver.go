package app

// ResolveAttempt maps a round onto an attempt number given the highest attempt
// already stored for the user and test.
//
// Round 1 always opens a new attempt. Later rounds continue the latest attempt,
// falling back to attempt 1 when round 1 was never recorded; that attempt stays
// structurally incomplete and is simply never approved.
func ResolveAttempt(maxAttempt, roundNumber int) int {
	if roundNumber == 1 {
		return maxAttempt + 1
	}
	if maxAttempt > 0 {
		return maxAttempt
	}
	return 1
}
