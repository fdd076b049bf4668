package domain

import "time"

// PipelineTicket tracks one submitted chart version through verification.
// It is filled in by the submission driver and read-only afterwards.
type PipelineTicket struct {
	Chart      ChartRecord
	ForkBranch string
	// DescriptorPushed is true when an earlier ticket already pushed the
	// ownership descriptor for this chart's directory.
	DescriptorPushed bool
	PRNumber         int
	// HeadSHA is the commit the pull request was opened at. CI runs for
	// any other commit of the same fork branch belong to earlier runs.
	HeadSHA  string
	OpenedAt time.Time
}

// PullRequest is what the source-hosting service reports for a newly
// opened pull request.
type PullRequest struct {
	Number    int
	HeadSHA   string
	CreatedAt time.Time
}

// Failed records a chart whose submission did not produce a ticket.
type Failed struct {
	Chart ChartRecord
	Err   error
}
