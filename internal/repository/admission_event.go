package repository

import (
	"context"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/storage"
)

type AdmissionEventRepository struct {
	db *storage.Database
}

func NewAdmissionEventRepository(db *storage.Database) *AdmissionEventRepository {
	return &AdmissionEventRepository{db: db}
}

// Inserts multiple events (for batch insertion)
func (r *AdmissionEventRepository) CreateBatch(ctx context.Context, events []*models.AdmissionEvent) error {
	if len(events) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&events).Error
}

// Retrieves events within a time range, newest first
func (r *AdmissionEventRepository) FindByTimeRange(ctx context.Context, from, to time.Time, limit, offset int) ([]models.AdmissionEvent, error) {
	var events []models.AdmissionEvent

	err := r.db.DB.WithContext(ctx).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&events).Error

	return events, err
}

func (r *AdmissionEventRepository) CountByTimeRange(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.AdmissionEvent{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Count(&count).Error

	return count, err
}

// One row per (outcome, allowed) pair. The same outcome can appear on both
// sides, e.g. store_unavailable is a fail-open allow from the limiter and a
// fail-closed denial from the quota.
type OutcomeCount struct {
	Outcome string `json:"outcome"`
	Allowed bool   `json:"allowed"`
	Count   int64  `json:"count"`
}

func (r *AdmissionEventRepository) CountByOutcome(ctx context.Context, from, to time.Time) ([]OutcomeCount, error) {
	var rows []OutcomeCount

	err := r.db.DB.WithContext(ctx).
		Model(&models.AdmissionEvent{}).
		Select("outcome, allowed, COUNT(*) as count").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Group("outcome, allowed").
		Order("outcome, allowed").
		Scan(&rows).Error

	return rows, err
}

type IdentityCount struct {
	Identity string `json:"identity"`
	Tier     string `json:"tier"`
	Count    int64  `json:"count"`
}

// Returns the identities with the most denials in the range
func (r *AdmissionEventRepository) TopDeniedIdentities(ctx context.Context, from, to time.Time, limit int) ([]IdentityCount, error) {
	var results []IdentityCount

	err := r.db.DB.WithContext(ctx).
		Model(&models.AdmissionEvent{}).
		Select("identity, tier, COUNT(*) as count").
		Where("allowed = ? AND timestamp BETWEEN ? AND ?", false, from, to).
		Group("identity, tier").
		Order("count DESC").
		Limit(limit).
		Scan(&results).Error

	return results, err
}

// Deletes events older than the specified time
func (r *AdmissionEventRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&models.AdmissionEvent{})

	return result.RowsAffected, result.Error
}
