package domain

import (
	"errors"
	"fmt"
)

// The Step functions below are the transitions of the verification machine.
// Each takes the current result and what was read from the outside world and
// returns the advanced result. A step applied in the wrong stage returns the
// result unchanged, so no stage can be skipped.

// CIRun is a snapshot of an external CI run.
type CIRun struct {
	ID         int64
	Status     string
	Conclusion string
}

// Completed reports whether the run has finished.
func (r CIRun) Completed() bool {
	return r.Status == "completed"
}

// Release is a published release of the target repository.
type Release struct {
	ID  int64
	Tag string
}

// StepCI applies the outcome of CI polling. timedOut means no completed run
// was observed within the polling budget.
func StepCI(r VerificationResult, run CIRun, timedOut bool) VerificationResult {
	if r.Stage != StageAwaitCI {
		return r
	}
	r.RunID = run.ID
	if timedOut {
		r.CI = CITimeout
		if run.ID == 0 {
			return r.finish(OutcomeCITimeout, "no workflow run found within polling budget")
		}
		return r.finish(OutcomeCITimeout, fmt.Sprintf("workflow run %d did not complete within polling budget", run.ID))
	}
	if run.Conclusion == "success" {
		r.CI = CISuccess
		r.Stage = StageCheckMerge
		return r
	}
	r.CI = CIFailure
	return r.finish(OutcomeCIFailed, fmt.Sprintf("workflow run %d concluded %q", run.ID, run.Conclusion))
}

// StepMerge applies the merge state of the pull request.
func StepMerge(r VerificationResult, merged bool) VerificationResult {
	if r.Stage != StageCheckMerge {
		return r
	}
	if merged {
		r.Merge = Merged
		r.Stage = StageCheckIndex
		return r
	}
	r.Merge = NotMerged
	return r.finish(OutcomeNotMerged, fmt.Sprintf("pull request #%d not merged", r.Ticket.PRNumber))
}

// StepIndex checks the chart version against the index document. readErr is
// the error returned while reading it; an *IndexParseError is recorded as
// parse-error, anything else as absent.
func StepIndex(r VerificationResult, idx Index, readErr error) VerificationResult {
	if r.Stage != StageCheckIndex {
		return r
	}
	chart := r.Ticket.Chart
	if readErr != nil {
		var perr *IndexParseError
		if errors.As(readErr, &perr) {
			r.Index = IndexUnparseable
		} else {
			r.Index = IndexAbsent
		}
		return r.finish(OutcomeIndexMissing, fmt.Sprintf("index unreadable: %v", readErr))
	}
	entryFound, versionFound := idx.Has(chart.IndexEntry(), chart.ChartVersion)
	switch {
	case !entryFound:
		r.Index = IndexAbsent
		return r.finish(OutcomeIndexMissing, fmt.Sprintf("entry %q not in index", chart.IndexEntry()))
	case !versionFound:
		r.Index = IndexAbsent
		return r.finish(OutcomeIndexMissing, fmt.Sprintf("version %s of %q not in index", chart.ChartVersion, chart.IndexEntry()))
	}
	r.Index = IndexPresent
	r.Stage = StageCheckRelease
	return r
}

// StepRelease looks for the release carrying the expected tag. The first
// match wins; the number of additional matches is returned so the caller
// can warn about them.
func StepRelease(r VerificationResult, releases []Release) (VerificationResult, int) {
	if r.Stage != StageCheckRelease {
		return r, 0
	}
	tag := r.Ticket.Chart.ReleaseTag()
	duplicates := 0
	found := false
	for _, rel := range releases {
		if rel.Tag != tag {
			continue
		}
		if found {
			duplicates++
			continue
		}
		found = true
		r.ReleaseID = rel.ID
	}
	if !found {
		r.Release = ReleaseMissingTag
		return r.finish(OutcomeReleaseMissing, fmt.Sprintf("%q not in the release list", tag)), 0
	}
	r.Stage = StageCheckAsset
	return r, duplicates
}

// StepAsset checks the release assets for the packaged chart.
func StepAsset(r VerificationResult, assetNames []string) VerificationResult {
	if r.Stage != StageCheckAsset {
		return r
	}
	want := r.Ticket.Chart.ReleaseAsset()
	for _, name := range assetNames {
		if name == want {
			r.Release = ReleasePublished
			return r.finish(OutcomeSuccess, "")
		}
	}
	r.Release = ReleaseMissingAsset
	return r.finish(OutcomeAssetMissing, fmt.Sprintf("missing release asset %q", want))
}

// NeedsCleanup reports whether a release matching the expected tag was
// located, which is the only case where the release and tag are deleted.
func (r VerificationResult) NeedsCleanup() bool {
	return r.ReleaseID != 0
}
