package domain

// Stage is a state of the per-ticket verification machine.
type Stage int

const (
	StageSubmit Stage = iota // ticket not yet created
	StageAwaitCI
	StageCheckMerge
	StageCheckIndex
	StageCheckRelease
	StageCheckAsset
	StageDone
)

// String returns the string representation of the Stage.
func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "UNKNOWN"
	}
	return stageNames[s]
}

var stageNames = [...]string{
	StageSubmit:       "SUBMIT",
	StageAwaitCI:      "AWAIT_CI",
	StageCheckMerge:   "CHECK_MERGE",
	StageCheckIndex:   "CHECK_INDEX",
	StageCheckRelease: "CHECK_RELEASE",
	StageCheckAsset:   "CHECK_ASSET",
	StageDone:         "DONE",
}

// CIOutcome is the observed result of the external CI run.
type CIOutcome string

const (
	CIPending CIOutcome = "pending"
	CISuccess CIOutcome = "success"
	CIFailure CIOutcome = "failure"
	CITimeout CIOutcome = "timeout"
)

// MergeOutcome is the observed merge state of the pull request.
type MergeOutcome string

const (
	MergeUnchecked MergeOutcome = "unchecked"
	Merged         MergeOutcome = "merged"
	NotMerged      MergeOutcome = "not-merged"
)

// IndexOutcome is the observed state of the chart in the index document.
type IndexOutcome string

const (
	IndexUnchecked   IndexOutcome = "unchecked"
	IndexPresent     IndexOutcome = "present"
	IndexAbsent      IndexOutcome = "absent"
	IndexUnparseable IndexOutcome = "parse-error"
)

// ReleaseOutcome is the observed state of the published release.
type ReleaseOutcome string

const (
	ReleaseUnchecked    ReleaseOutcome = "unchecked"
	ReleasePublished    ReleaseOutcome = "published"
	ReleaseMissingTag   ReleaseOutcome = "missing-tag"
	ReleaseMissingAsset ReleaseOutcome = "missing-asset"
)

// Outcome is the reported terminal code of a ticket.
type Outcome string

const (
	OutcomeNone             Outcome = ""
	OutcomeSuccess          Outcome = "success"
	OutcomeSubmissionFailed Outcome = "submission-failed"
	OutcomeCIFailed         Outcome = "ci-failed"
	OutcomeCITimeout        Outcome = "ci-timeout"
	OutcomeNotMerged        Outcome = "not-merged"
	OutcomeIndexMissing     Outcome = "index-missing"
	OutcomeReleaseMissing   Outcome = "release-missing"
	OutcomeAssetMissing     Outcome = "asset-missing"
	OutcomeUnresolved       Outcome = "unresolved"
)

// VerificationResult is the per-ticket record produced by the verification engine.
type VerificationResult struct {
	Ticket PipelineTicket
	Stage  Stage // current stage; StageDone once terminal
	// StoppedAt is the stage in which the terminal decision was made.
	StoppedAt Stage

	CI      CIOutcome
	Merge   MergeOutcome
	Index   IndexOutcome
	Release ReleaseOutcome

	Outcome Outcome
	Reason  string

	RunID     int64
	ReleaseID int64
	// CleanedUp is true once the matched release and its tag were deleted.
	CleanedUp bool
}

// NewResult returns a result positioned at AWAIT_CI with every check unchecked.
func NewResult(t PipelineTicket) VerificationResult {
	return VerificationResult{
		Ticket:  t,
		Stage:   StageAwaitCI,
		CI:      CIPending,
		Merge:   MergeUnchecked,
		Index:   IndexUnchecked,
		Release: ReleaseUnchecked,
	}
}

// SubmissionFailedResult records a chart that never got a ticket.
func SubmissionFailedResult(f Failed) VerificationResult {
	r := NewResult(PipelineTicket{Chart: f.Chart})
	r.Stage = StageSubmit
	return r.finish(OutcomeSubmissionFailed, f.Err.Error())
}

// UnresolvedResult records a ticket left unverified by an aborted batch.
func UnresolvedResult(t PipelineTicket) VerificationResult {
	r := NewResult(t)
	return r.finish(OutcomeUnresolved, "batch aborted before verification finished")
}

// Done reports whether the result reached a terminal state.
func (r VerificationResult) Done() bool {
	return r.Stage == StageDone
}

// Err returns nil for a successful ticket, otherwise a *VerificationError.
func (r VerificationResult) Err() error {
	if r.Outcome == OutcomeSuccess {
		return nil
	}
	return &VerificationError{Chart: r.Ticket.Chart, Code: r.Outcome, Reason: r.Reason}
}

func (r VerificationResult) finish(o Outcome, reason string) VerificationResult {
	r.StoppedAt = r.Stage
	r.Stage = StageDone
	r.Outcome = o
	r.Reason = reason
	return r
}
