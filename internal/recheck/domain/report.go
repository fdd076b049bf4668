package domain

// Report is the aggregated outcome of one pipeline run.
type Report struct {
	Results []VerificationResult
}

// CountByOutcome returns the number of results per outcome code.
func (r Report) CountByOutcome() map[Outcome]int {
	counts := make(map[Outcome]int)
	for _, res := range r.Results {
		counts[res.Outcome]++
	}
	return counts
}

// Succeeded returns true when every chart reached the success outcome.
func (r Report) Succeeded() bool {
	for _, res := range r.Results {
		if res.Outcome != OutcomeSuccess {
			return false
		}
	}
	return true
}

// Unresolved returns the number of results left unresolved by an abort.
func (r Report) Unresolved() int {
	return r.CountByOutcome()[OutcomeUnresolved]
}
