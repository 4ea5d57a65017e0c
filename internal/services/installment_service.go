package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"chapterfin/internal/models"
)

// TaskChargeInstallment is the worker task that charges one scheduled
// installment when its date arrives
const TaskChargeInstallment = "charge_installment"

// InstallmentService splits a record's balance into scheduled charges.
// Amount and schedule computation are pure; plan creation charges the
// first installment immediately through the authorization manager and
// enqueues worker tasks for the rest.
type InstallmentService struct {
	records      RecordStore
	installments InstallmentStore
	payments     *PaymentService
	tasks        TaskEnqueuer
}

func NewInstallmentService(records RecordStore, installments InstallmentStore, payments *PaymentService, tasks TaskEnqueuer) *InstallmentService {
	return &InstallmentService{
		records:      records,
		installments: installments,
		payments:     payments,
		tasks:        tasks,
	}
}

// EligibilityResult is the outcome of an eligibility check
type EligibilityResult struct {
	Eligible      bool       `json:"eligible"`
	Reason        string     `json:"reason,omitempty"`
	AllowedCounts []int      `json:"allowed_counts,omitempty"`
	Deadline      *time.Time `json:"deadline,omitempty"`
}

// CheckEligibility reports whether a record may be split into
// installments: a grant must exist (record- or member-level) and a usable
// deadline must resolve. Deadline precedence: grant override, record's
// flexible plan deadline, configuration period end, record due date.
func (s *InstallmentService) CheckEligibility(ctx context.Context, recordID uint) (*EligibilityResult, error) {
	rec, err := s.records.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	grant, err := s.installments.EligibilityFor(ctx, recordID, rec.MemberID)
	if err != nil {
		return nil, err
	}
	if grant == nil {
		return &EligibilityResult{Eligible: false, Reason: "no installment grant"}, nil
	}

	deadline := resolveDeadline(grant, rec)
	if deadline == nil {
		return &EligibilityResult{Eligible: false, Reason: "no usable deadline"}, nil
	}
	if deadline.Before(time.Now()) {
		return &EligibilityResult{Eligible: false, Reason: "deadline has passed"}, nil
	}

	return &EligibilityResult{
		Eligible:      true,
		AllowedCounts: grant.AllowedCounts,
		Deadline:      deadline,
	}, nil
}

func resolveDeadline(grant *models.InstallmentEligibility, rec *models.MemberDuesRecord) *time.Time {
	if grant.OverrideDeadline != nil {
		return grant.OverrideDeadline
	}
	if rec.FlexiblePlanDeadline != nil {
		return rec.FlexiblePlanDeadline
	}
	if !rec.Configuration.PeriodEnd.IsZero() {
		end := rec.Configuration.PeriodEnd
		return &end
	}
	if !rec.DueDate.IsZero() {
		due := rec.DueDate
		return &due
	}
	return nil
}

// CalculateInstallments splits a total into n amounts that sum to the
// total exactly: every installment gets the even share, the first one
// additionally carries the remainder cents.
func CalculateInstallments(totalCents int64, n int) ([]int64, error) {
	if totalCents <= 0 {
		return nil, NewValidationError("total must be positive, got %d cents", totalCents)
	}
	if n <= 0 {
		return nil, NewValidationError("installment count must be positive, got %d", n)
	}

	base := totalCents / int64(n)
	remainder := totalCents - base*int64(n)

	amounts := make([]int64, n)
	for i := range amounts {
		amounts[i] = base
	}
	amounts[0] += remainder
	return amounts, nil
}

// GenerateSchedule produces n charge dates. The final date is pinned
// exactly to the deadline; intermediate dates are spaced evenly between
// start and deadline, rounded to the nearest day. Without a deadline the
// dates fall back to fixed 30-day spacing from start.
func GenerateSchedule(start time.Time, n int, deadline *time.Time) []time.Time {
	if n <= 0 {
		return nil
	}
	if deadline == nil {
		dates := make([]time.Time, n)
		for i := range dates {
			dates[i] = start.AddDate(0, 0, 30*i)
		}
		return dates
	}
	if n == 1 {
		return []time.Time{*deadline}
	}

	totalDays := deadline.Sub(start).Hours() / 24
	interval := totalDays / float64(n-1)

	dates := make([]time.Time, n)
	for i := 0; i < n-1; i++ {
		offset := int(math.Round(interval * float64(i)))
		dates[i] = start.AddDate(0, 0, offset)
	}
	dates[n-1] = *deadline
	return dates
}

// CreatePlan splits the record's current balance into n installments. The
// first is charged immediately; the rest are persisted as scheduled and a
// worker task is enqueued per date. If the immediate charge fails the
// plan is rolled back to cancelled and the error surfaces.
func (s *InstallmentService) CreatePlan(ctx context.Context, caller Caller, recordID uint, n int, method models.PaymentMethod) (*models.InstallmentPlan, error) {
	rec, err := s.records.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if !caller.CanActOn(rec) {
		return nil, NewAuthorizationError("caller may not create a plan for record %d", rec.ID)
	}

	if existing, err := s.installments.ActivePlanForRecord(ctx, recordID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, NewConflictError("record %d already has an active installment plan", recordID)
	}

	elig, err := s.CheckEligibility(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if !elig.Eligible {
		return nil, NewValidationError("record %d is not eligible for installments: %s", recordID, elig.Reason)
	}
	allowed := false
	for _, count := range elig.AllowedCounts {
		if count == n {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, NewValidationError("%d installments not permitted for record %d", n, recordID)
	}

	amounts, err := CalculateInstallments(rec.BalanceCents, n)
	if err != nil {
		return nil, err
	}
	dates := GenerateSchedule(time.Now(), n, elig.Deadline)

	plan := &models.InstallmentPlan{
		RecordID:        recordID,
		NumInstallments: n,
		Method:          method,
		Status:          models.InstallmentPlanStatusActive,
	}
	for i := 0; i < n; i++ {
		plan.Payments = append(plan.Payments, models.InstallmentPayment{
			Sequence:      i + 1,
			AmountCents:   amounts[i],
			ScheduledDate: dates[i],
			Status:        models.InstallmentPaymentStatusScheduled,
		})
	}
	if n > 1 {
		next := dates[1]
		plan.NextPaymentDate = &next
	}
	if err := s.installments.CreatePlan(ctx, plan); err != nil {
		return nil, err
	}

	// First installment charges immediately
	first := &plan.Payments[0]
	_, err = s.payments.CreateOrReuseAuthorization(ctx, caller, AuthorizationRequest{
		RecordID:             recordID,
		Method:               method,
		AmountCents:          first.AmountCents,
		InstallmentPaymentID: &first.ID,
	})
	if err != nil {
		plan.Status = models.InstallmentPlanStatusCancelled
		for i := range plan.Payments {
			plan.Payments[i].Status = models.InstallmentPaymentStatusCancelled
			if updateErr := s.installments.UpdatePayment(ctx, &plan.Payments[i]); updateErr != nil {
				log.Printf("rollback of installment %d failed: %v", plan.Payments[i].ID, updateErr)
			}
		}
		if updateErr := s.installments.UpdatePlan(ctx, plan); updateErr != nil {
			log.Printf("rollback of plan %d failed: %v", plan.ID, updateErr)
		}
		return nil, err
	}
	first.Status = models.InstallmentPaymentStatusProcessing
	if err := s.installments.UpdatePayment(ctx, first); err != nil {
		return nil, err
	}

	// Worker tasks for the remaining installments
	for i := 1; i < n; i++ {
		task, err := buildChargeTask(plan.Payments[i].ID, dates[i])
		if err != nil {
			return nil, err
		}
		if err := s.tasks.Enqueue(ctx, task); err != nil {
			return nil, err
		}
	}

	return plan, nil
}

func buildChargeTask(installmentPaymentID uint, due time.Time) (*models.ScheduledTask, error) {
	return &models.ScheduledTask{
		TaskName: TaskChargeInstallment,
		Arguments: map[string]interface{}{
			"installment_payment_id": fmt.Sprint(installmentPaymentID),
		},
		Due:        due,
		Status:     models.ScheduledTaskStatusActive,
		TaskType:   models.ScheduledTaskTypeOneTime,
		MaxAttempt: 3,
	}, nil
}

// CancelPlan cancels an active plan: future scheduled and failed
// installments become cancelled, already-paid ones stay untouched, and a
// pending authorization for a plan installment is canceled at the
// processor.
func (s *InstallmentService) CancelPlan(ctx context.Context, caller Caller, planID uint) (*models.InstallmentPlan, error) {
	plan, err := s.installments.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	rec, err := s.records.Get(ctx, plan.RecordID)
	if err != nil {
		return nil, err
	}
	if !caller.CanActOn(rec) {
		return nil, NewAuthorizationError("caller may not cancel plan %d", plan.ID)
	}
	if plan.Status != models.InstallmentPlanStatusActive {
		return nil, NewConflictError("plan %d is %s and cannot be cancelled", plan.ID, plan.Status)
	}

	for i := range plan.Payments {
		switch plan.Payments[i].Status {
		case models.InstallmentPaymentStatusScheduled, models.InstallmentPaymentStatusFailed:
			plan.Payments[i].Status = models.InstallmentPaymentStatusCancelled
			if err := s.installments.UpdatePayment(ctx, &plan.Payments[i]); err != nil {
				return nil, err
			}
		}
	}
	plan.Status = models.InstallmentPlanStatusCancelled
	plan.NextPaymentDate = nil
	if err := s.installments.UpdatePlan(ctx, plan); err != nil {
		return nil, err
	}

	// Best effort: release a pending authorization tied to this plan
	if intent, err := s.payments.intents.ActiveForRecord(ctx, plan.RecordID); err == nil &&
		intent != nil && intent.Status == models.PaymentIntentStatusPending && intent.InstallmentPaymentID != nil {
		if _, err := s.payments.CancelAuthorization(ctx, caller, intent.ID); err != nil {
			log.Printf("cancel of intent %d during plan cancellation failed: %v", intent.ID, err)
		}
	}

	return plan, nil
}

// ChargeDueInstallment is invoked by the worker when an installment's
// scheduled date arrives. It charges the installment through the
// authorization manager under a system identity.
func (s *InstallmentService) ChargeDueInstallment(ctx context.Context, installmentPaymentID uint) (*models.PaymentIntent, error) {
	ip, err := s.installments.GetPayment(ctx, installmentPaymentID)
	if err != nil {
		return nil, err
	}
	if ip.Status != models.InstallmentPaymentStatusScheduled && ip.Status != models.InstallmentPaymentStatusFailed {
		return nil, NewConflictError("installment %d is %s, nothing to charge", ip.ID, ip.Status)
	}
	plan, err := s.installments.GetPlan(ctx, ip.PlanID)
	if err != nil {
		return nil, err
	}
	if plan.Status != models.InstallmentPlanStatusActive {
		return nil, NewConflictError("plan %d is %s, installment not chargeable", plan.ID, plan.Status)
	}
	rec, err := s.records.Get(ctx, plan.RecordID)
	if err != nil {
		return nil, err
	}

	intent, err := s.payments.CreateOrReuseAuthorization(ctx, SystemCaller(rec.Member.ChapterID), AuthorizationRequest{
		RecordID:             plan.RecordID,
		Method:               plan.Method,
		AmountCents:          ip.AmountCents,
		InstallmentPaymentID: &ip.ID,
	})
	if err != nil {
		return nil, err
	}

	ip.Status = models.InstallmentPaymentStatusProcessing
	if err := s.installments.UpdatePayment(ctx, ip); err != nil {
		return nil, err
	}
	return intent, nil
}

// HandleIntentSettled advances the plan owning the installment an intent
// was charged for. Succeeded marks the installment paid and moves
// NextPaymentDate; when every installment is paid the plan completes.
// Failed marks the installment failed for retry; canceled returns it to
// scheduled.
func (s *InstallmentService) HandleIntentSettled(ctx context.Context, intent *models.PaymentIntent) error {
	if intent == nil || intent.InstallmentPaymentID == nil {
		return nil
	}
	ip, err := s.installments.GetPayment(ctx, *intent.InstallmentPaymentID)
	if err != nil {
		return err
	}
	plan, err := s.installments.GetPlan(ctx, ip.PlanID)
	if err != nil {
		return err
	}

	switch intent.Status {
	case models.PaymentIntentStatusSucceeded:
		ip.Status = models.InstallmentPaymentStatusPaid
	case models.PaymentIntentStatusFailed:
		ip.Status = models.InstallmentPaymentStatusFailed
	case models.PaymentIntentStatusCanceled:
		if ip.Status == models.InstallmentPaymentStatusProcessing {
			ip.Status = models.InstallmentPaymentStatusScheduled
		}
	default:
		return nil
	}
	if err := s.installments.UpdatePayment(ctx, ip); err != nil {
		return err
	}

	if plan.Status != models.InstallmentPlanStatusActive {
		return nil
	}

	allPaid := true
	var next *models.InstallmentPayment
	for i := range plan.Payments {
		p := &plan.Payments[i]
		if p.ID == ip.ID {
			p.Status = ip.Status
		}
		if p.Status != models.InstallmentPaymentStatusPaid {
			allPaid = false
			if p.Status == models.InstallmentPaymentStatusScheduled && (next == nil || p.ScheduledDate.Before(next.ScheduledDate)) {
				next = p
			}
		}
	}

	if allPaid {
		plan.Status = models.InstallmentPlanStatusCompleted
		plan.NextPaymentDate = nil
	} else if next != nil {
		date := next.ScheduledDate
		plan.NextPaymentDate = &date
	}
	return s.installments.UpdatePlan(ctx, plan)
}
