package domain

import (
	"fmt"
	"time"
)

// DefaultModelUsed tags audit-log rows written for vision-service estimates.
const DefaultModelUsed = "openai-vision"

// NutritionEstimate is the KBZHU result of one photo analysis.
type NutritionEstimate struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Fats     float64 `json:"fats"`
	Carbs    float64 `json:"carbs"`
}

func (e NutritionEstimate) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"calories", e.Calories},
		{"protein", e.Protein},
		{"fats", e.Fats},
		{"carbs", e.Carbs},
	}
	for _, f := range fields {
		if f.value < 0 {
			return fmt.Errorf("%s must be non-negative, got %v", f.name, f.value)
		}
	}
	return nil
}

// UploadedImage lives for a single request only.
type UploadedImage struct {
	Data      []byte
	MediaType string
	Filename  string
}

func (i UploadedImage) Size() int64 {
	return int64(len(i.Data))
}

// StorageReference points at a stored photo, e.g. "s3://<object id>".
type StorageReference string

type AuditLogEntry struct {
	ID             int64             `json:"id,omitempty"`
	UserID         string            `json:"user_id"`
	PhotoReference string            `json:"photo_url"`
	Estimate       NutritionEstimate `json:"kbzhu"`
	Timestamp      time.Time         `json:"timestamp"`
	ModelUsed      string            `json:"model_used"`
}

// UserAccount is owned by the external data store; credits are only ever decremented here.
type UserAccount struct {
	TelegramID       string `json:"telegram_id"`
	CreditsRemaining int    `json:"credits_remaining"`
}
