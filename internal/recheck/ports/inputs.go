package ports

import (
	"context"

	"github.com/nathantilsley/chart-recheck/internal/recheck/domain"
)

// PipelineUseCase is the driving port for a full recheck run.
type PipelineUseCase interface {
	Run(ctx context.Context) (domain.Report, error)
}
