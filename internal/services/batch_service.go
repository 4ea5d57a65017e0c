package services

import (
	"context"
	"log"
	"time"

	"chapterfin/internal/models"
)

// BatchService implements the bulk ledger operations as explicit,
// individually verifiable functions instead of datastore-internal
// procedures.
type BatchService struct {
	configs ConfigStore
	members MemberStore
	records RecordStore
}

func NewBatchService(configs ConfigStore, members MemberStore, records RecordStore) *BatchService {
	return &BatchService{configs: configs, members: members, records: records}
}

// AssignResult reports the outcome of a bulk assignment
type AssignResult struct {
	Assigned int `json:"assigned"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// AssignToChapter creates a dues record for every active chapter member
// who has none under the configuration. A member already assigned gets
// the new base rate ADDED to their existing base amount, not overwritten,
// with total, balance and status re-derived.
func (s *BatchService) AssignToChapter(ctx context.Context, caller Caller, configID uint) (AssignResult, error) {
	var result AssignResult

	cfg, err := s.configs.Get(ctx, configID)
	if err != nil {
		return result, err
	}
	if !caller.IsAdmin() || caller.ChapterID != cfg.ChapterID {
		return result, NewAuthorizationError("only a chapter admin may assign dues")
	}

	members, err := s.members.ActiveByChapter(ctx, cfg.ChapterID)
	if err != nil {
		return result, err
	}

	for _, member := range members {
		rate := cfg.RateForCohort(member.Cohort)
		if rate <= 0 {
			result.Skipped++
			continue
		}

		existing, err := s.records.ByMemberAndConfig(ctx, member.ID, cfg.ID)
		if err != nil {
			log.Printf("assign: lookup for member %d failed: %v", member.ID, err)
			result.Errors++
			continue
		}

		if existing == nil {
			rec := &models.MemberDuesRecord{
				MemberID:        member.ID,
				ConfigurationID: cfg.ID,
				BaseAmountCents: rate,
				Status:          models.DuesStatusPending,
				DueDate:         cfg.DueDate,
			}
			rec.Recompute()
			if err := s.records.Create(ctx, rec); err != nil {
				log.Printf("assign: create for member %d failed: %v", member.ID, err)
				result.Errors++
				continue
			}
			result.Assigned++
			continue
		}

		if _, err := s.records.Mutate(ctx, existing.ID, func(rec *models.MemberDuesRecord) error {
			rec.BaseAmountCents += rate
			rec.Recompute()
			return nil
		}); err != nil {
			log.Printf("assign: additive update for member %d failed: %v", member.ID, err)
			result.Errors++
			continue
		}
		result.Assigned++
	}

	return result, nil
}

// LateFeeResult reports the outcome of a late-fee sweep
type LateFeeResult struct {
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// ApplyLateFees charges the configured late fee to every record overdue
// beyond the grace period that is neither waived nor paid. The
// late_fee_applied_at stamp makes re-runs within the same overdue window
// no-ops: a record is charged at most once per window.
func (s *BatchService) ApplyLateFees(ctx context.Context, caller Caller, configID uint, now time.Time) (LateFeeResult, error) {
	var result LateFeeResult

	cfg, err := s.configs.Get(ctx, configID)
	if err != nil {
		return result, err
	}
	if !caller.IsAdmin() || caller.ChapterID != cfg.ChapterID {
		return result, NewAuthorizationError("only a chapter admin may apply late fees")
	}

	cutoff := now.AddDate(0, 0, -cfg.GraceDays)
	candidates, err := s.records.LateFeeCandidates(ctx, cfg.ID, cutoff)
	if err != nil {
		return result, err
	}

	for _, candidate := range candidates {
		_, err := s.records.Mutate(ctx, candidate.ID, func(rec *models.MemberDuesRecord) error {
			// Re-check under lock: the sweep may race a payment or waive
			if rec.Status == models.DuesStatusWaived || rec.Status == models.DuesStatusPaid || rec.LateFeeAppliedAt != nil {
				return NewConflictError("late fee no longer applicable")
			}
			rec.LateFeeCents += cfg.LateFeeFor(rec.BaseAmountCents)
			stamp := now
			rec.LateFeeAppliedAt = &stamp
			rec.Recompute()
			return nil
		})
		if err != nil {
			if _, ok := err.(*ConflictError); ok {
				result.Skipped++
				continue
			}
			log.Printf("late fees: record %d failed: %v", candidate.ID, err)
			result.Errors++
			continue
		}
		result.Applied++
	}

	return result, nil
}
