package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/erarta/api.c0r.ai/internal/domain"
)

func openTestDB(t *testing.T, models ...any) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models...))
	return db
}

func credits(t *testing.T, db *gorm.DB, userID string) int {
	t.Helper()
	var u userRow
	require.NoError(t, db.First(&u, "telegram_id = ?", userID).Error)
	return u.CreditsRemaining
}

func TestPostgresRecord_CommitsBothWrites(t *testing.T) {
	db := openTestDB(t, &userRow{}, &logRow{})
	require.NoError(t, db.Create(&userRow{TelegramID: "42", CreditsRemaining: 3}).Error)

	r := newPostgresUsageRecorder(db, "", zap.NewNop())
	ts := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	r.now = func() time.Time { return ts }

	estimate := domain.NutritionEstimate{Calories: 512.5, Protein: 31.25, Fats: 0.1, Carbs: 40}
	require.NoError(t, r.Record(context.Background(), "42", "U1", estimate))

	assert.Equal(t, 2, credits(t, db, "42"))

	entries, err := r.LogsForUser(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "42", entries[0].UserID)
	assert.Equal(t, "U1", entries[0].PhotoReference)
	assert.Equal(t, estimate, entries[0].Estimate)
	assert.Equal(t, domain.DefaultModelUsed, entries[0].ModelUsed)
	assert.True(t, ts.Equal(entries[0].Timestamp))
}

func TestPostgresRecord_UnknownUser(t *testing.T) {
	db := openTestDB(t, &userRow{}, &logRow{})
	r := newPostgresUsageRecorder(db, "", zap.NewNop())

	err := r.Record(context.Background(), "missing", "U1", domain.NutritionEstimate{})

	assert.True(t, errors.Is(err, domain.ErrCreditUpdate))
	var count int64
	require.NoError(t, db.Model(&logRow{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestPostgresRecord_NoCreditsLeft(t *testing.T) {
	db := openTestDB(t, &userRow{}, &logRow{})
	require.NoError(t, db.Create(&userRow{TelegramID: "42", CreditsRemaining: 0}).Error)

	r := newPostgresUsageRecorder(db, "", zap.NewNop())
	err := r.Record(context.Background(), "42", "U1", domain.NutritionEstimate{Calories: 1})

	assert.True(t, errors.Is(err, domain.ErrCreditUpdate))
	assert.Equal(t, 0, credits(t, db, "42"))
	var count int64
	require.NoError(t, db.Model(&logRow{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestPostgresRecord_LastCreditIsSpent(t *testing.T) {
	db := openTestDB(t, &userRow{}, &logRow{})
	require.NoError(t, db.Create(&userRow{TelegramID: "42", CreditsRemaining: 1}).Error)

	r := newPostgresUsageRecorder(db, "", zap.NewNop())
	require.NoError(t, r.Record(context.Background(), "42", "U1", domain.NutritionEstimate{}))
	assert.Equal(t, 0, credits(t, db, "42"))

	err := r.Record(context.Background(), "42", "U2", domain.NutritionEstimate{})
	assert.True(t, errors.Is(err, domain.ErrCreditUpdate))
	assert.Equal(t, 0, credits(t, db, "42"))
}

func TestPostgresRecord_LogFailureRollsBackDecrement(t *testing.T) {
	// no logs table, so the insert fails inside the transaction
	db := openTestDB(t, &userRow{})
	require.NoError(t, db.Create(&userRow{TelegramID: "42", CreditsRemaining: 3}).Error)

	r := newPostgresUsageRecorder(db, "", zap.NewNop())
	err := r.Record(context.Background(), "42", "U1", domain.NutritionEstimate{Calories: 1})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAuditLog))
	assert.Equal(t, 3, credits(t, db, "42"))
}

func TestPostgresRecord_CustomModelTag(t *testing.T) {
	db := openTestDB(t, &userRow{}, &logRow{})
	require.NoError(t, db.Create(&userRow{TelegramID: "7", CreditsRemaining: 1}).Error)

	r := newPostgresUsageRecorder(db, "gpt-4o", zap.NewNop())
	require.NoError(t, r.Record(context.Background(), "7", "U2", domain.NutritionEstimate{}))

	entries, err := r.LogsForUser(context.Background(), "7")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "gpt-4o", entries[0].ModelUsed)
}
