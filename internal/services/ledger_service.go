package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"chapterfin/internal/models"
)

// LedgerService owns every mutation of a record's monetary fields. All
// derived fields go through MemberDuesRecord.Recompute inside a row-locked
// transaction, so totals, balances and statuses never drift.
type LedgerService struct {
	records RecordStore
}

func NewLedgerService(records RecordStore) *LedgerService {
	return &LedgerService{records: records}
}

// RecordPayment applies a manually recorded payment (cash, external bank
// transfer) to a record. The reference key makes the application
// idempotent: re-submitting the same key is rejected with a ConflictError
// by the persistence layer, never silently re-applied. Amounts above the
// outstanding balance are clamped; callers wanting to reject overpayment
// outright must check the balance first.
func (s *LedgerService) RecordPayment(ctx context.Context, caller Caller, recordID uint, amountCents int64, method models.PaymentMethod, referenceKey, note string) (*models.MemberDuesRecord, error) {
	if amountCents <= 0 {
		return nil, NewValidationError("payment amount must be positive, got %d cents", amountCents)
	}
	rec, err := s.records.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() || caller.ChapterID != rec.Member.ChapterID {
		return nil, NewAuthorizationError("only a chapter admin may record payments")
	}
	if referenceKey == "" {
		referenceKey = "manual-" + uuid.NewString()
	}

	return s.records.ApplyPayment(ctx, &models.Payment{
		RecordID:     recordID,
		AmountCents:  amountCents,
		Method:       method,
		PaidAt:       time.Now(),
		ReferenceKey: referenceKey,
		Note:         note,
	})
}

// DeletePayment removes a payment and re-derives the owning record
func (s *LedgerService) DeletePayment(ctx context.Context, caller Caller, paymentID uint) (*models.MemberDuesRecord, error) {
	if !caller.IsAdmin() {
		return nil, NewAuthorizationError("only a chapter admin may delete payments")
	}
	return s.records.DeletePayment(ctx, paymentID)
}

// Waive zeroes the outstanding balance and pins the record to waived.
// Waiving exists to zero-balance outstanding dues, not to erase recorded
// income: a record fully paid through real payments cannot be waived.
// Partially paid records can; their payments stay on the books.
func (s *LedgerService) Waive(ctx context.Context, caller Caller, recordID uint, note string) (*models.MemberDuesRecord, error) {
	if strings.TrimSpace(note) == "" {
		return nil, NewValidationError("a waive note is required")
	}
	if !caller.IsAdmin() {
		return nil, NewAuthorizationError("only a chapter admin may waive dues")
	}

	return s.records.Mutate(ctx, recordID, func(rec *models.MemberDuesRecord) error {
		if rec.Status == models.DuesStatusPaid && rec.AmountPaidCents > 0 {
			return NewConflictError("record is already fully paid; waiving would erase recorded income")
		}
		if rec.Status == models.DuesStatusWaived {
			return NewConflictError("record is already waived")
		}
		rec.Status = models.DuesStatusWaived
		if rec.WaiveNote != "" {
			rec.WaiveNote += "\n"
		}
		rec.WaiveNote += note
		rec.Recompute()
		return nil
	})
}

// Unwaive lifts a waive and re-derives status from the real amounts
func (s *LedgerService) Unwaive(ctx context.Context, caller Caller, recordID uint) (*models.MemberDuesRecord, error) {
	if !caller.IsAdmin() {
		return nil, NewAuthorizationError("only a chapter admin may un-waive dues")
	}
	return s.records.Mutate(ctx, recordID, func(rec *models.MemberDuesRecord) error {
		if rec.Status != models.DuesStatusWaived {
			return NewConflictError("record is not waived")
		}
		rec.Status = models.DuesStatusPending
		rec.Recompute()
		return nil
	})
}

// AddAdjustment applies a manual correction (discount, scholarship,
// penalty) to the record's adjustment component
func (s *LedgerService) AddAdjustment(ctx context.Context, caller Caller, recordID uint, amountCents int64, description string) (*models.MemberDuesRecord, error) {
	if amountCents == 0 {
		return nil, NewValidationError("adjustment amount must be non-zero")
	}
	if strings.TrimSpace(description) == "" {
		return nil, NewValidationError("an adjustment description is required")
	}
	if !caller.IsAdmin() {
		return nil, NewAuthorizationError("only a chapter admin may adjust dues")
	}
	return s.records.Mutate(ctx, recordID, func(rec *models.MemberDuesRecord) error {
		rec.AdjustmentCents += amountCents
		rec.Recompute()
		return nil
	})
}
