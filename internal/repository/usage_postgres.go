package repository

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/erarta/api.c0r.ai/internal/domain"
)

type userRow struct {
	TelegramID       string `gorm:"column:telegram_id;type:varchar(64);primaryKey"`
	CreditsRemaining int    `gorm:"column:credits_remaining;not null;default:0"`
}

func (userRow) TableName() string {
	return "users"
}

type logRow struct {
	ID        int64                                        `gorm:"column:id;primaryKey;autoIncrement"`
	UserID    string                                       `gorm:"column:user_id;type:varchar(64);index;not null"`
	PhotoURL  string                                       `gorm:"column:photo_url;type:varchar(255);not null"`
	KBZHU     datatypes.JSONType[domain.NutritionEstimate] `gorm:"column:kbzhu"`
	Timestamp time.Time                                    `gorm:"column:timestamp;not null"`
	ModelUsed string                                       `gorm:"column:model_used;type:varchar(64);not null"`
}

func (logRow) TableName() string {
	return "logs"
}

func (l logRow) toEntry() domain.AuditLogEntry {
	return domain.AuditLogEntry{
		ID:             l.ID,
		UserID:         l.UserID,
		PhotoReference: l.PhotoURL,
		Estimate:       l.KBZHU.Data(),
		Timestamp:      l.Timestamp,
		ModelUsed:      l.ModelUsed,
	}
}

// PostgresUsageRecorder commits the credit decrement and the audit-log row in one
// transaction; either both land or neither does.
type PostgresUsageRecorder struct {
	db        *gorm.DB
	modelUsed string
	log       *zap.Logger
	now       func() time.Time
}

var _ UsageRecorder = (*PostgresUsageRecorder)(nil)

func NewPostgresUsageRecorder(dsn, modelUsed string, log *zap.Logger) (*PostgresUsageRecorder, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return newPostgresUsageRecorder(db, modelUsed, log), nil
}

func newPostgresUsageRecorder(db *gorm.DB, modelUsed string, log *zap.Logger) *PostgresUsageRecorder {
	if modelUsed == "" {
		modelUsed = domain.DefaultModelUsed
	}
	return &PostgresUsageRecorder{
		db:        db,
		modelUsed: modelUsed,
		log:       log,
		now:       time.Now,
	}
}

func (r *PostgresUsageRecorder) Record(ctx context.Context, userID, photoReference string, estimate domain.NutritionEstimate) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&userRow{}).
			Where("telegram_id = ? AND credits_remaining > 0", userID).
			UpdateColumn("credits_remaining", gorm.Expr("credits_remaining - ?", 1))
		if res.Error != nil {
			return domain.NewError(domain.KindCreditUpdate, "decrement credits", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.NewError(domain.KindCreditUpdate, "decrement credits", fmt.Errorf("no account with telegram_id %s and credits left", userID))
		}

		row := logRow{
			UserID:    userID,
			PhotoURL:  photoReference,
			KBZHU:     datatypes.NewJSONType(estimate),
			Timestamp: r.now().UTC(),
			ModelUsed: r.modelUsed,
		}
		if err := tx.Create(&row).Error; err != nil {
			return domain.NewError(domain.KindAuditLog, "insert audit log", err)
		}
		return nil
	})
	if err != nil && domain.KindOf(err) == domain.KindUnknown {
		// commit failure
		return domain.NewError(domain.KindAuditLog, "commit usage", err)
	}
	if err != nil {
		r.log.Warn("Usage transaction rolled back", zap.String("user_id", userID), zap.Error(err))
	}
	return err
}

// LogsForUser returns the user's audit-log entries, oldest first.
func (r *PostgresUsageRecorder) LogsForUser(ctx context.Context, userID string) ([]domain.AuditLogEntry, error) {
	var rows []logRow
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	entries := make([]domain.AuditLogEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.toEntry())
	}
	return entries, nil
}
