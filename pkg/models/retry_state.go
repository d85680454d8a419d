package models

// RetryState is the automated retry counter for the current phase attempt
// cycle. Only the retry supervisor increments it; it is discarded on phase
// success and persisted alongside the run on failure so a resumed process
// continues counting.
type RetryState struct {
	Phase          Phase    `json:"phase"`
	Attempts       int      `json:"attempts"`
	LastErrorClass string   `json:"last_error_class,omitempty"`
	Diagnostics    []string `json:"diagnostics,omitempty"`
}

// Exhausted reports whether the attempt budget is spent.
func (rs *RetryState) Exhausted(maxAttempts int) bool {
	return rs.Attempts >= maxAttempts
}

// AddDiagnostic appends a failure note carried into the next attempt's
// input context.
func (rs *RetryState) AddDiagnostic(note string) {
	if note == "" {
		return
	}

	rs.Diagnostics = append(rs.Diagnostics, note)
}
