package services

import (
	"context"
	"fmt"
	"time"

	"chapterfin/internal/models"
)

// In-memory store fakes. They mirror the invariants the gorm stores
// enforce: unique payment reference keys, one active intent per record,
// nil results for missing optional lookups.

type fakeRecordStore struct {
	records  map[uint]*models.MemberDuesRecord
	payments map[uint]*models.Payment
	nextID   uint
}

func newFakeRecordStore(recs ...*models.MemberDuesRecord) *fakeRecordStore {
	s := &fakeRecordStore{
		records:  make(map[uint]*models.MemberDuesRecord),
		payments: make(map[uint]*models.Payment),
	}
	for _, rec := range recs {
		if rec.ID == 0 {
			s.nextID++
			rec.ID = s.nextID
		} else if rec.ID > s.nextID {
			s.nextID = rec.ID
		}
		s.records[rec.ID] = rec
	}
	return s
}

func (s *fakeRecordStore) Get(_ context.Context, id uint) (*models.MemberDuesRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, NewNotFoundError("dues record")
	}
	return rec, nil
}

func (s *fakeRecordStore) ByMemberAndConfig(_ context.Context, memberID, configID uint) (*models.MemberDuesRecord, error) {
	for _, rec := range s.records {
		if rec.MemberID == memberID && rec.ConfigurationID == configID {
			return rec, nil
		}
	}
	return nil, nil
}

func (s *fakeRecordStore) ByConfig(_ context.Context, configID uint) ([]models.MemberDuesRecord, error) {
	var out []models.MemberDuesRecord
	for _, rec := range s.records {
		if rec.ConfigurationID == configID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (s *fakeRecordStore) ByMember(_ context.Context, memberID uint) ([]models.MemberDuesRecord, error) {
	var out []models.MemberDuesRecord
	for _, rec := range s.records {
		if rec.MemberID == memberID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (s *fakeRecordStore) Create(_ context.Context, rec *models.MemberDuesRecord) error {
	s.nextID++
	rec.ID = s.nextID
	s.records[rec.ID] = rec
	return nil
}

func (s *fakeRecordStore) Mutate(ctx context.Context, id uint, fn func(*models.MemberDuesRecord) error) (*models.MemberDuesRecord, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *fakeRecordStore) ApplyPayment(ctx context.Context, payment *models.Payment) (*models.MemberDuesRecord, error) {
	for _, existing := range s.payments {
		if existing.ReferenceKey == payment.ReferenceKey {
			return nil, NewConflictError("duplicate reference key %q", payment.ReferenceKey)
		}
	}
	rec, err := s.Get(ctx, payment.RecordID)
	if err != nil {
		return nil, err
	}
	if payment.AmountCents > rec.BalanceCents {
		payment.AmountCents = rec.BalanceCents
	}
	s.nextID++
	payment.ID = s.nextID
	s.payments[payment.ID] = payment
	rec.AmountPaidCents += payment.AmountCents
	rec.Recompute()
	return rec, nil
}

func (s *fakeRecordStore) DeletePayment(ctx context.Context, paymentID uint) (*models.MemberDuesRecord, error) {
	payment, ok := s.payments[paymentID]
	if !ok {
		return nil, NewNotFoundError("payment")
	}
	delete(s.payments, paymentID)
	rec, err := s.Get(ctx, payment.RecordID)
	if err != nil {
		return nil, err
	}
	rec.AmountPaidCents -= payment.AmountCents
	rec.Recompute()
	return rec, nil
}

func (s *fakeRecordStore) LateFeeCandidates(_ context.Context, configID uint, cutoff time.Time) ([]models.MemberDuesRecord, error) {
	var out []models.MemberDuesRecord
	for _, rec := range s.records {
		if rec.ConfigurationID != configID || rec.LateFeeAppliedAt != nil {
			continue
		}
		if rec.Status != models.DuesStatusPending && rec.Status != models.DuesStatusPartial {
			continue
		}
		if rec.DueDate.Before(cutoff) {
			out = append(out, *rec)
		}
	}
	return out, nil
}

type fakeIntentStore struct {
	intents map[uint]*models.PaymentIntent
	nextID  uint
	// createErr simulates a local persist failure after the external
	// authorization succeeded
	createErr error
}

func newFakeIntentStore() *fakeIntentStore {
	return &fakeIntentStore{intents: make(map[uint]*models.PaymentIntent)}
}

func (s *fakeIntentStore) Get(_ context.Context, id uint) (*models.PaymentIntent, error) {
	intent, ok := s.intents[id]
	if !ok {
		return nil, NewNotFoundError("payment intent")
	}
	return intent, nil
}

func (s *fakeIntentStore) ActiveForRecord(_ context.Context, recordID uint) (*models.PaymentIntent, error) {
	for _, intent := range s.intents {
		if intent.RecordID == recordID && intent.Status.IsActive() {
			return intent, nil
		}
	}
	return nil, nil
}

func (s *fakeIntentStore) ByProcessorID(_ context.Context, processorID string) (*models.PaymentIntent, error) {
	for _, intent := range s.intents {
		if intent.ProcessorID == processorID {
			return intent, nil
		}
	}
	return nil, NewNotFoundError("payment intent")
}

func (s *fakeIntentStore) Create(ctx context.Context, intent *models.PaymentIntent) error {
	if s.createErr != nil {
		return s.createErr
	}
	if intent.Status.IsActive() {
		if existing, _ := s.ActiveForRecord(ctx, intent.RecordID); existing != nil {
			return NewConflictError("record %d already has an active intent", intent.RecordID)
		}
	}
	s.nextID++
	intent.ID = s.nextID
	intent.UpdatedAt = time.Now()
	s.intents[intent.ID] = intent
	return nil
}

func (s *fakeIntentStore) Update(_ context.Context, intent *models.PaymentIntent) error {
	intent.UpdatedAt = time.Now()
	s.intents[intent.ID] = intent
	return nil
}

func (s *fakeIntentStore) StaleActive(_ context.Context, cutoff time.Time) ([]models.PaymentIntent, error) {
	var out []models.PaymentIntent
	for _, intent := range s.intents {
		if intent.Status.IsActive() && intent.UpdatedAt.Before(cutoff) {
			out = append(out, *intent)
		}
	}
	return out, nil
}

type fakeProcessor struct {
	created   []AuthorizationParams
	canceled  []string
	statuses  map[string]models.PaymentIntentStatus
	createErr error
	nextID    int
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{statuses: make(map[string]models.PaymentIntentStatus)}
}

func (p *fakeProcessor) CreateAuthorization(_ context.Context, params AuthorizationParams) (*Authorization, error) {
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.nextID++
	id := fmt.Sprintf("pi_test_%d", p.nextID)
	p.created = append(p.created, params)
	p.statuses[id] = models.PaymentIntentStatusPending
	return &Authorization{ID: id, ClientHandle: "cs_" + id, Status: models.PaymentIntentStatusPending}, nil
}

func (p *fakeProcessor) CancelAuthorization(_ context.Context, id string) error {
	p.canceled = append(p.canceled, id)
	p.statuses[id] = models.PaymentIntentStatusCanceled
	return nil
}

func (p *fakeProcessor) GetAuthorization(_ context.Context, id string) (*Authorization, error) {
	status, ok := p.statuses[id]
	if !ok {
		return nil, fmt.Errorf("no such authorization %s", id)
	}
	return &Authorization{ID: id, ClientHandle: "cs_" + id, Status: status}, nil
}

type fakeConfigStore struct {
	configs map[uint]*models.DuesConfiguration
}

func newFakeConfigStore(cfgs ...*models.DuesConfiguration) *fakeConfigStore {
	s := &fakeConfigStore{configs: make(map[uint]*models.DuesConfiguration)}
	for i, cfg := range cfgs {
		if cfg.ID == 0 {
			cfg.ID = uint(i + 1)
		}
		s.configs[cfg.ID] = cfg
	}
	return s
}

func (s *fakeConfigStore) Get(_ context.Context, id uint) (*models.DuesConfiguration, error) {
	cfg, ok := s.configs[id]
	if !ok {
		return nil, NewNotFoundError("dues configuration")
	}
	return cfg, nil
}

func (s *fakeConfigStore) Current(_ context.Context, chapterID uint) (*models.DuesConfiguration, error) {
	for _, cfg := range s.configs {
		if cfg.ChapterID == chapterID && cfg.IsCurrent {
			return cfg, nil
		}
	}
	return nil, NewNotFoundError("current dues configuration")
}

func (s *fakeConfigStore) Create(_ context.Context, cfg *models.DuesConfiguration) error {
	cfg.ID = uint(len(s.configs) + 1)
	s.configs[cfg.ID] = cfg
	return nil
}

func (s *fakeConfigStore) Save(_ context.Context, cfg *models.DuesConfiguration) error {
	s.configs[cfg.ID] = cfg
	return nil
}

func (s *fakeConfigStore) MakeCurrent(_ context.Context, id uint) error {
	target, ok := s.configs[id]
	if !ok {
		return NewNotFoundError("dues configuration")
	}
	for _, cfg := range s.configs {
		if cfg.ChapterID == target.ChapterID {
			cfg.IsCurrent = cfg.ID == id
		}
	}
	return nil
}

type fakeMemberStore struct {
	members map[uint]*models.Member
}

func newFakeMemberStore(members ...*models.Member) *fakeMemberStore {
	s := &fakeMemberStore{members: make(map[uint]*models.Member)}
	for i, m := range members {
		if m.ID == 0 {
			m.ID = uint(i + 1)
		}
		s.members[m.ID] = m
	}
	return s
}

func (s *fakeMemberStore) Get(_ context.Context, id uint) (*models.Member, error) {
	m, ok := s.members[id]
	if !ok {
		return nil, NewNotFoundError("member")
	}
	return m, nil
}

func (s *fakeMemberStore) ByEmail(_ context.Context, email string) (*models.Member, error) {
	for _, m := range s.members {
		if m.Email == email {
			return m, nil
		}
	}
	return nil, NewNotFoundError("member")
}

func (s *fakeMemberStore) ActiveByChapter(_ context.Context, chapterID uint) ([]models.Member, error) {
	var out []models.Member
	for _, m := range s.members {
		if m.ChapterID == chapterID && m.IsActive {
			out = append(out, *m)
		}
	}
	return out, nil
}

type fakeInstallmentStore struct {
	plans         map[uint]*models.InstallmentPlan
	payments      map[uint]*models.InstallmentPayment
	eligibilities []*models.InstallmentEligibility
	nextID        uint
}

func newFakeInstallmentStore() *fakeInstallmentStore {
	return &fakeInstallmentStore{
		plans:    make(map[uint]*models.InstallmentPlan),
		payments: make(map[uint]*models.InstallmentPayment),
	}
}

func (s *fakeInstallmentStore) ActivePlanForRecord(_ context.Context, recordID uint) (*models.InstallmentPlan, error) {
	for _, plan := range s.plans {
		if plan.RecordID == recordID && plan.Status == models.InstallmentPlanStatusActive {
			return plan, nil
		}
	}
	return nil, nil
}

func (s *fakeInstallmentStore) EligibilityFor(_ context.Context, recordID, memberID uint) (*models.InstallmentEligibility, error) {
	// Record-level grants take precedence over member-level ones
	for _, e := range s.eligibilities {
		if e.RecordID != nil && *e.RecordID == recordID {
			return e, nil
		}
	}
	for _, e := range s.eligibilities {
		if e.RecordID == nil && e.MemberID != nil && *e.MemberID == memberID {
			return e, nil
		}
	}
	return nil, nil
}

func (s *fakeInstallmentStore) CreatePlan(_ context.Context, plan *models.InstallmentPlan) error {
	s.nextID++
	plan.ID = s.nextID
	for i := range plan.Payments {
		s.nextID++
		plan.Payments[i].ID = s.nextID
		plan.Payments[i].PlanID = plan.ID
		payment := plan.Payments[i]
		s.payments[payment.ID] = &payment
	}
	s.plans[plan.ID] = plan
	return nil
}

func (s *fakeInstallmentStore) GetPlan(_ context.Context, id uint) (*models.InstallmentPlan, error) {
	plan, ok := s.plans[id]
	if !ok {
		return nil, NewNotFoundError("installment plan")
	}
	return plan, nil
}

func (s *fakeInstallmentStore) UpdatePlan(_ context.Context, plan *models.InstallmentPlan) error {
	s.plans[plan.ID] = plan
	return nil
}

func (s *fakeInstallmentStore) GetPayment(_ context.Context, id uint) (*models.InstallmentPayment, error) {
	payment, ok := s.payments[id]
	if !ok {
		return nil, NewNotFoundError("installment payment")
	}
	return payment, nil
}

func (s *fakeInstallmentStore) UpdatePayment(_ context.Context, payment *models.InstallmentPayment) error {
	s.payments[payment.ID] = payment
	if plan, ok := s.plans[payment.PlanID]; ok {
		for i := range plan.Payments {
			if plan.Payments[i].ID == payment.ID {
				plan.Payments[i] = *payment
			}
		}
	}
	return nil
}

type fakeTaskEnqueuer struct {
	tasks []*models.ScheduledTask
}

func (s *fakeTaskEnqueuer) Enqueue(_ context.Context, task *models.ScheduledTask) error {
	s.tasks = append(s.tasks, task)
	return nil
}
