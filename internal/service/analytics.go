package service

import (
	"context"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/repository"
)

type AnalyticsService struct {
	events *repository.AdmissionEventRepository
	keys   *repository.APIKeyRepository
	now    func() time.Time
}

func NewAnalyticsService(events *repository.AdmissionEventRepository, keys *repository.APIKeyRepository) *AnalyticsService {
	return &AnalyticsService{
		events: events,
		keys:   keys,
		now:    time.Now,
	}
}

// Holds admission analytics for a time range. Only non-trivial decisions are
// recorded, so every allowed event is one the limiter let through while its
// store was down.
type AnalyticsSummary struct {
	From              time.Time                  `json:"from"`
	To                time.Time                  `json:"to"`
	TotalEvents       int64                      `json:"total_events"`
	Denied            int64                      `json:"denied"`
	FailOpenAllows    int64                      `json:"fail_open_allows"`
	FailClosedDenials int64                      `json:"fail_closed_denials"`
	ByOutcome         map[string]int64           `json:"by_outcome"`
	Decisions         []repository.OutcomeCount  `json:"decisions"`
	TopDenied         []repository.IdentityCount `json:"top_denied"`
	ActiveKeysByTier  map[string]int64           `json:"active_keys_by_tier"`
}

// Retrieves analytics summary for a time range
func (s *AnalyticsService) GetSummary(ctx context.Context, from, to time.Time) (*AnalyticsSummary, error) {
	summary := &AnalyticsSummary{From: from, To: to, ByOutcome: make(map[string]int64)}

	decisions, err := s.events.CountByOutcome(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.Decisions = decisions

	for _, d := range decisions {
		summary.TotalEvents += d.Count
		summary.ByOutcome[d.Outcome] += d.Count

		switch {
		case d.Allowed:
			summary.FailOpenAllows += d.Count
		case d.Outcome == string(admission.KindStoreUnavailable) || d.Outcome == string(admission.KindParseFailure):
			summary.Denied += d.Count
			summary.FailClosedDenials += d.Count
		default:
			summary.Denied += d.Count
		}
	}

	top, err := s.events.TopDeniedIdentities(ctx, from, to, 10)
	if err != nil {
		return nil, err
	}
	summary.TopDenied = top

	if s.keys != nil {
		byTier, err := s.keys.CountByTier(ctx)
		if err != nil {
			return nil, err
		}
		summary.ActiveKeysByTier = byTier
	}

	return summary, nil
}

// Retrieves events with pagination
func (s *AnalyticsService) GetEvents(ctx context.Context, from, to time.Time, limit, offset int) ([]models.AdmissionEvent, error) {
	return s.events.FindByTimeRange(ctx, from, to, limit, offset)
}

// Deletes events older than the retention period
func (s *AnalyticsService) CleanupOldEvents(ctx context.Context, retentionDays int) (int64, error) {
	cutOff := s.now().UTC().AddDate(0, 0, -retentionDays)
	return s.events.DeleteBefore(ctx, cutOff)
}
