package repository

import (
	"context"

	"github.com/erarta/api.c0r.ai/internal/domain"
)

// UsageRecorder charges one credit for an analysis and appends its audit-log row.
type UsageRecorder interface {
	Record(ctx context.Context, userID, photoReference string, estimate domain.NutritionEstimate) error
}
