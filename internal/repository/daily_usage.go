package repository

import (
	"context"
	"errors"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/storage"
	"gorm.io/gorm"
)

const upsertDailyUsage = `
	INSERT INTO daily_usages (user_id, date, count, created_at, updated_at)
	VALUES (?, ?, 1, ?, ?)
	ON CONFLICT (user_id, date) DO UPDATE
	SET count = daily_usages.count + 1, updated_at = excluded.updated_at
	RETURNING count
`

// The conflict branch only fires below the limit. A skipped update returns no row.
const upsertDailyUsageBelow = `
	INSERT INTO daily_usages (user_id, date, count, created_at, updated_at)
	VALUES (?, ?, 1, ?, ?)
	ON CONFLICT (user_id, date) DO UPDATE
	SET count = daily_usages.count + 1, updated_at = excluded.updated_at
	WHERE daily_usages.count < ?
	RETURNING count
`

// DailyUsageRepository is the durable quota store. Increments are a single
// upsert statement, so concurrent callers never lose an update.
type DailyUsageRepository struct {
	db  *storage.Database
	now func() time.Time
}

func NewDailyUsageRepository(db *storage.Database, now func() time.Time) *DailyUsageRepository {
	if now == nil {
		now = time.Now
	}
	return &DailyUsageRepository{db: db, now: now}
}

func (r *DailyUsageRepository) Get(ctx context.Context, userID, date string) (int64, error) {
	var usage models.DailyUsage
	err := r.db.DB.WithContext(ctx).
		Where("user_id = ? AND date = ?", userID, date).
		First(&usage).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, admission.StoreUnavailable("quota", err)
	}

	return usage.Count, nil
}

func (r *DailyUsageRepository) Increment(ctx context.Context, userID, date string) (int64, error) {
	now := r.now().UTC()

	var count int64
	err := r.db.DB.WithContext(ctx).
		Raw(upsertDailyUsage, userID, date, now, now).
		Scan(&count).Error
	if err != nil {
		return 0, admission.StoreUnavailable("quota", err)
	}

	return count, nil
}

func (r *DailyUsageRepository) IncrementIfBelow(ctx context.Context, userID, date string, limit int64) (int64, bool, error) {
	if limit <= 0 {
		count, err := r.Get(ctx, userID, date)
		return count, false, err
	}

	now := r.now().UTC()

	var counts []int64
	err := r.db.DB.WithContext(ctx).
		Raw(upsertDailyUsageBelow, userID, date, now, now, limit).
		Scan(&counts).Error
	if err != nil {
		return 0, false, admission.StoreUnavailable("quota", err)
	}

	if len(counts) == 0 {
		count, err := r.Get(ctx, userID, date)
		return count, false, err
	}
	return counts[0], true, nil
}

func (r *DailyUsageRepository) ClearAll(ctx context.Context) error {
	err := r.db.DB.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&models.DailyUsage{}).Error
	if err != nil {
		return admission.StoreUnavailable("quota", err)
	}
	return nil
}

// Returns a user's usage between two YYYY-MM-DD dates, inclusive, newest first
func (r *DailyUsageRepository) History(ctx context.Context, userID, from, to string) ([]models.DailyUsage, error) {
	var usage []models.DailyUsage
	err := r.db.DB.WithContext(ctx).
		Where("user_id = ? AND date BETWEEN ? AND ?", userID, from, to).
		Order("date DESC").
		Find(&usage).Error

	return usage, err
}

// Deletes rows dated strictly before date (YYYY-MM-DD)
func (r *DailyUsageRepository) DeleteBefore(ctx context.Context, date string) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("date < ?", date).
		Delete(&models.DailyUsage{})

	return result.RowsAffected, result.Error
}
