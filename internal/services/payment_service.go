package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"chapterfin/internal/models"
)

// PaymentService orchestrates the external authorization lifecycle for a
// dues record: none -> pending -> {processing -> succeeded | failed} |
// canceled. At most one intent per record is ever pending or processing;
// the partial unique index on payment_intents backs that guarantee under
// concurrent requests.
type PaymentService struct {
	records   RecordStore
	intents   IntentStore
	processor ProcessorClient
	fees      FeeConfig
}

func NewPaymentService(records RecordStore, intents IntentStore, processor ProcessorClient, fees FeeConfig) *PaymentService {
	return &PaymentService{
		records:   records,
		intents:   intents,
		processor: processor,
		fees:      fees,
	}
}

// AuthorizationRequest is one charge request against a dues record
type AuthorizationRequest struct {
	RecordID    uint
	Method      models.PaymentMethod
	AmountCents int64 // requested; the effective amount is capped at the balance
	// InstallmentPaymentID links the resulting intent to a plan installment
	InstallmentPaymentID *uint
}

// CreateOrReuseAuthorization handles a charge request:
//
//  1. Caller must be the record's member or a chapter admin, and the
//     record must carry a positive balance.
//  2. An existing pending intent with the same method is returned
//     unchanged, so double-clicks and retries never create a duplicate
//     authorization. A processing intent blocks with a ConflictError: a
//     settlement is in flight and must finish before a new one starts. A
//     pending intent with a different method is canceled at the processor
//     and replaced.
//  3. The fee split is computed on min(requested, balance).
//  4. The external authorization is created first; if the local insert
//     then fails, a compensating cancel is issued before the error is
//     returned, so no authorization exists externally without a local row.
func (s *PaymentService) CreateOrReuseAuthorization(ctx context.Context, caller Caller, req AuthorizationRequest) (*models.PaymentIntent, error) {
	if req.AmountCents <= 0 {
		return nil, NewValidationError("requested amount must be positive, got %d cents", req.AmountCents)
	}

	rec, err := s.records.Get(ctx, req.RecordID)
	if err != nil {
		return nil, err
	}
	if !caller.CanActOn(rec) {
		return nil, NewAuthorizationError("caller may not charge record %d", rec.ID)
	}
	if rec.BalanceCents <= 0 {
		return nil, NewConflictError("record %d has no outstanding balance", rec.ID)
	}

	existing, err := s.intents.ActiveForRecord(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		switch {
		case existing.Status == models.PaymentIntentStatusProcessing:
			return nil, NewConflictError("a settlement is already processing for record %d", rec.ID)
		case existing.Method == req.Method:
			// Idempotent reuse
			return existing, nil
		default:
			// Method changed: replace the pending authorization
			if err := s.processor.CancelAuthorization(ctx, existing.ProcessorID); err != nil {
				return nil, NewProcessorError("cancel", err)
			}
			existing.Status = models.PaymentIntentStatusCanceled
			if err := s.intents.Update(ctx, existing); err != nil {
				return nil, err
			}
		}
	}

	effective := req.AmountCents
	if effective > rec.BalanceCents {
		effective = rec.BalanceCents
	}
	breakdown, err := s.fees.Calculate(effective, req.Method)
	if err != nil {
		return nil, err
	}

	destination := ""
	if rec.Member.Chapter.StripeAccountID != nil {
		destination = *rec.Member.Chapter.StripeAccountID
	}
	idemKey := uuid.NewString()

	auth, err := s.processor.CreateAuthorization(ctx, AuthorizationParams{
		AmountCents:         breakdown.ChargeAmountCents,
		TransferAmountCents: breakdown.TransferAmountCents,
		Method:              req.Method,
		DestinationAccount:  destination,
		IdempotencyKey:      idemKey,
		Metadata: map[string]string{
			"record_id": fmt.Sprint(rec.ID),
			"member_id": fmt.Sprint(rec.MemberID),
		},
	})
	if err != nil {
		return nil, NewProcessorError("create", err)
	}

	intent := &models.PaymentIntent{
		RecordID:             rec.ID,
		InstallmentPaymentID: req.InstallmentPaymentID,
		DuesAmountCents:      effective,
		ChargeAmountCents:    breakdown.ChargeAmountCents,
		ProcessorFeeCents:    breakdown.ProcessorFeeCents,
		PlatformFeeCents:     breakdown.PlatformFeeCents,
		TransferAmountCents:  breakdown.TransferAmountCents,
		Method:               req.Method,
		Status:               auth.Status,
		ProcessorID:          auth.ID,
		ClientHandle:         auth.ClientHandle,
		IdempotencyKey:       idemKey,
	}

	if err := s.intents.Create(ctx, intent); err != nil {
		// The authorization exists externally but not locally: issue a
		// compensating cancel before surfacing the error.
		if cancelErr := s.processor.CancelAuthorization(ctx, auth.ID); cancelErr != nil {
			log.Printf("compensating cancel of %s failed: %v", auth.ID, cancelErr)
		}
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			// Lost the race against a concurrent request for this record
			return nil, conflict
		}
		return nil, NewConsistencyError("authorization created externally but local persist failed", err)
	}

	return intent, nil
}

// CancelAuthorization cancels a pending intent at the caller's request.
// Once processing has begun there is no user-facing cancellation.
func (s *PaymentService) CancelAuthorization(ctx context.Context, caller Caller, intentID uint) (*models.PaymentIntent, error) {
	intent, err := s.intents.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	rec, err := s.records.Get(ctx, intent.RecordID)
	if err != nil {
		return nil, err
	}
	if !caller.CanActOn(rec) {
		return nil, NewAuthorizationError("caller may not cancel intent %d", intent.ID)
	}
	if intent.Status != models.PaymentIntentStatusPending {
		return nil, NewConflictError("intent %d is %s and cannot be canceled", intent.ID, intent.Status)
	}

	if err := s.processor.CancelAuthorization(ctx, intent.ProcessorID); err != nil {
		return nil, NewProcessorError("cancel", err)
	}
	intent.Status = models.PaymentIntentStatusCanceled
	if err := s.intents.Update(ctx, intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// HandleSettlement processes a settlement notification from the processor
// (webhook or synchronous confirmation). On success the dues portion is
// applied to the ledger under the processor id as reference key, which
// makes duplicate notifications no-ops. Failures leave the balance
// untouched. The returned intent lets the caller advance any linked
// installment plan.
func (s *PaymentService) HandleSettlement(ctx context.Context, processorID string, status models.PaymentIntentStatus, failureReason string) (*models.PaymentIntent, error) {
	intent, err := s.intents.ByProcessorID(ctx, processorID)
	if err != nil {
		return nil, err
	}

	switch status {
	case models.PaymentIntentStatusSucceeded:
		if intent.Status == models.PaymentIntentStatusSucceeded {
			return intent, nil
		}
		payment := &models.Payment{
			RecordID:     intent.RecordID,
			AmountCents:  intent.DuesAmountCents,
			Method:       intent.Method,
			PaidAt:       time.Now(),
			ReferenceKey: "intent-" + processorID,
			ProcessorID:  &processorID,
		}
		if _, err := s.records.ApplyPayment(ctx, payment); err != nil {
			var conflict *ConflictError
			if !errors.As(err, &conflict) {
				return nil, err
			}
			// Already applied by an earlier delivery of this settlement
		}
		intent.Status = models.PaymentIntentStatusSucceeded

	case models.PaymentIntentStatusProcessing:
		if intent.Status != models.PaymentIntentStatusPending {
			return intent, nil
		}
		intent.Status = models.PaymentIntentStatusProcessing

	case models.PaymentIntentStatusFailed:
		if intent.Status == models.PaymentIntentStatusSucceeded {
			return intent, nil
		}
		intent.Status = models.PaymentIntentStatusFailed
		intent.FailureReason = failureReason

	case models.PaymentIntentStatusCanceled:
		if intent.Status == models.PaymentIntentStatusSucceeded {
			return intent, nil
		}
		intent.Status = models.PaymentIntentStatusCanceled

	default:
		return nil, NewValidationError("unknown settlement status %q", status)
	}

	if err := s.intents.Update(ctx, intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// ReconcileIntents compares local pending/processing intents against the
// processor and settles or fails the ones whose notifications were lost.
// Returns the intents whose state changed.
func (s *PaymentService) ReconcileIntents(ctx context.Context, cutoff time.Time) ([]*models.PaymentIntent, error) {
	stale, err := s.intents.StaleActive(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	var changed []*models.PaymentIntent
	for i := range stale {
		intent := &stale[i]
		auth, err := s.processor.GetAuthorization(ctx, intent.ProcessorID)
		if err != nil {
			log.Printf("reconcile: lookup of %s failed: %v", intent.ProcessorID, err)
			continue
		}
		if auth.Status == intent.Status {
			continue
		}
		updated, err := s.HandleSettlement(ctx, intent.ProcessorID, auth.Status, "reconciled against processor")
		if err != nil {
			log.Printf("reconcile: settle %s failed: %v", intent.ProcessorID, err)
			continue
		}
		changed = append(changed, updated)
	}
	return changed, nil
}
