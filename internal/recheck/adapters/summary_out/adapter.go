// Package summaryout renders the run report as text tables.
package summaryout

import (
	"fmt"
	"io"
	"slices"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/nathantilsley/chart-recheck/internal/recheck/domain"
)

const reasonWidth = 80

// Adapter implements ports.ReportingPort.
type Adapter struct {
	out io.Writer
}

// New creates an Adapter writing to out.
func New(out io.Writer) *Adapter {
	return &Adapter{out: out}
}

// WriteReport prints one row per chart version followed by the outcome
// counts.
func (a *Adapter) WriteReport(report domain.Report) error {
	t := table.NewWriter()
	t.SetOutputMirror(a.out)
	t.AppendHeader(table.Row{"CHART", "PR", "STAGE", "OUTCOME", "REASON"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "REASON", WidthMax: reasonWidth},
	})
	for _, res := range report.Results {
		pr := "-"
		if res.Ticket.PRNumber != 0 {
			pr = fmt.Sprintf("#%d", res.Ticket.PRNumber)
		}
		t.AppendRow(table.Row{res.Ticket.Chart.String(), pr, res.StoppedAt.String(), string(res.Outcome), res.Reason})
	}
	t.Render()

	counts := report.CountByOutcome()
	outcomes := make([]string, 0, len(counts))
	for o := range counts {
		outcomes = append(outcomes, string(o))
	}
	slices.Sort(outcomes)

	s := table.NewWriter()
	s.SetOutputMirror(a.out)
	s.AppendHeader(table.Row{"OUTCOME", "COUNT"})
	for _, o := range outcomes {
		s.AppendRow(table.Row{o, counts[domain.Outcome(o)]})
	}
	s.AppendFooter(table.Row{"TOTAL", len(report.Results)})
	s.Render()

	if _, err := fmt.Fprintln(a.out, summaryLine(report)); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

func summaryLine(report domain.Report) string {
	total := len(report.Results)
	ok := report.CountByOutcome()[domain.OutcomeSuccess]
	if report.Succeeded() {
		return fmt.Sprintf("PASS: %d/%d chart versions recertified", ok, total)
	}
	return fmt.Sprintf("FAIL: %d/%d chart versions recertified", ok, total)
}
