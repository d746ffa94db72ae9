package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/erarta/api.c0r.ai/internal/config"
	"github.com/erarta/api.c0r.ai/internal/domain"
)

// RestUsageRecorder writes through the data store's PostgREST interface. The credit
// decrement and the log insert are two independent requests: if the insert fails the
// credit stays spent.
type RestUsageRecorder struct {
	http      *resty.Client
	baseURL   string
	modelUsed string
	log       *zap.Logger
	now       func() time.Time
}

var _ UsageRecorder = (*RestUsageRecorder)(nil)

func NewRestUsageRecorder(cfg *config.DatastoreConfig, modelUsed string, log *zap.Logger) *RestUsageRecorder {
	client := resty.New().
		SetHeader("apikey", cfg.ServiceKey).
		SetAuthToken(cfg.ServiceKey).
		SetHeader("Content-Type", "application/json")

	if modelUsed == "" {
		modelUsed = domain.DefaultModelUsed
	}

	return &RestUsageRecorder{
		http:      client,
		baseURL:   cfg.URL,
		modelUsed: modelUsed,
		log:       log,
		now:       time.Now,
	}
}

type creditDecrement struct {
	Decrement int `json:"decrement"`
}

// creditPatch is the data store's decrement contract. Plain PostgREST rejects an object
// for an integer column, so the users endpoint must be backed by a view with an
// INSTEAD OF UPDATE trigger that applies it.
type creditPatch struct {
	CreditsRemaining creditDecrement `json:"credits_remaining"`
}

type logInsert struct {
	UserID    string                   `json:"user_id"`
	PhotoURL  string                   `json:"photo_url"`
	KBZHU     domain.NutritionEstimate `json:"kbzhu"`
	Timestamp string                   `json:"timestamp"`
	ModelUsed string                   `json:"model_used"`
}

func (r *RestUsageRecorder) Record(ctx context.Context, userID, photoReference string, estimate domain.NutritionEstimate) error {
	if r.baseURL == "" {
		return domain.NewError(domain.KindCreditUpdate, "decrement credits", errors.New("DATASTORE_URL is not set"))
	}

	if err := r.decrementCredits(ctx, userID); err != nil {
		return err
	}

	if err := r.insertLog(ctx, userID, photoReference, estimate); err != nil {
		r.log.Error("Audit log insert failed after credit was charged",
			zap.String("user_id", userID),
			zap.String("photo_url", photoReference),
			zap.Error(err))
		return err
	}

	return nil
}

func (r *RestUsageRecorder) decrementCredits(ctx context.Context, userID string) error {
	const op = "decrement credits"

	resp, err := r.http.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=representation").
		SetQueryParam("telegram_id", "eq."+userID).
		SetQueryParam("credits_remaining", "gt.0").
		SetBody(creditPatch{CreditsRemaining: creditDecrement{Decrement: 1}}).
		Patch(r.baseURL + "/rest/v1/users")
	if err != nil {
		return domain.NewError(domain.KindCreditUpdate, op, fmt.Errorf("failed to call data store: %w", err))
	}
	if !resp.IsSuccess() {
		return domain.NewUpstreamError(domain.KindCreditUpdate, op, resp.StatusCode(), resp.String())
	}

	// With return=representation the updated rows come back; anything else means the
	// decrement cannot be confirmed.
	var updated []domain.UserAccount
	if err := json.Unmarshal(resp.Body(), &updated); err != nil {
		r.log.Warn("Unexpected credit update representation", zap.String("body", resp.String()), zap.Error(err))
		return domain.NewError(domain.KindCreditUpdate, op, fmt.Errorf("unexpected representation: %w", err))
	}
	if len(updated) == 0 {
		return domain.NewError(domain.KindCreditUpdate, op, fmt.Errorf("no account with telegram_id %s and credits left", userID))
	}

	return nil
}

func (r *RestUsageRecorder) insertLog(ctx context.Context, userID, photoReference string, estimate domain.NutritionEstimate) error {
	const op = "insert audit log"

	resp, err := r.http.R().
		SetContext(ctx).
		SetBody(logInsert{
			UserID:    userID,
			PhotoURL:  photoReference,
			KBZHU:     estimate,
			Timestamp: r.now().UTC().Format(time.RFC3339Nano),
			ModelUsed: r.modelUsed,
		}).
		Post(r.baseURL + "/rest/v1/logs")
	if err != nil {
		return domain.NewError(domain.KindAuditLog, op, fmt.Errorf("failed to call data store: %w", err))
	}
	if !resp.IsSuccess() {
		return domain.NewUpstreamError(domain.KindAuditLog, op, resp.StatusCode(), resp.String())
	}

	return nil
}
