package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"chapterfin/internal/models"
)

// The engine's components receive these narrow store interfaces instead of
// a process-wide DB handle, so the ledger, planner and authorization
// manager stay unit-testable against in-memory fakes.

// RecordStore persists member dues records and their payments
type RecordStore interface {
	Get(ctx context.Context, id uint) (*models.MemberDuesRecord, error)
	ByMemberAndConfig(ctx context.Context, memberID, configID uint) (*models.MemberDuesRecord, error)
	ByConfig(ctx context.Context, configID uint) ([]models.MemberDuesRecord, error)
	ByMember(ctx context.Context, memberID uint) ([]models.MemberDuesRecord, error)
	Create(ctx context.Context, rec *models.MemberDuesRecord) error
	// Mutate runs fn against a row-locked record inside a transaction and
	// persists the result. Serializes concurrent ledger mutations.
	Mutate(ctx context.Context, id uint, fn func(*models.MemberDuesRecord) error) (*models.MemberDuesRecord, error)
	// ApplyPayment inserts the payment and re-derives the owning record in
	// one transaction. A duplicate ReferenceKey yields a ConflictError.
	ApplyPayment(ctx context.Context, payment *models.Payment) (*models.MemberDuesRecord, error)
	// DeletePayment removes a payment and re-derives the owning record's
	// amount paid, balance and status from the remaining payments.
	DeletePayment(ctx context.Context, paymentID uint) (*models.MemberDuesRecord, error)
	// LateFeeCandidates lists records under a configuration that are past
	// the grace cutoff, still owed, and not yet stamped with a late fee.
	LateFeeCandidates(ctx context.Context, configID uint, cutoff time.Time) ([]models.MemberDuesRecord, error)
}

// IntentStore persists payment intents
type IntentStore interface {
	Get(ctx context.Context, id uint) (*models.PaymentIntent, error)
	// ActiveForRecord returns the record's pending/processing intent, or
	// nil when none exists.
	ActiveForRecord(ctx context.Context, recordID uint) (*models.PaymentIntent, error)
	ByProcessorID(ctx context.Context, processorID string) (*models.PaymentIntent, error)
	// Create fails with a ConflictError when another active intent already
	// occupies the record's slot (partial unique index).
	Create(ctx context.Context, intent *models.PaymentIntent) error
	Update(ctx context.Context, intent *models.PaymentIntent) error
	// StaleActive lists pending/processing intents untouched since cutoff,
	// for the reconciliation sweep.
	StaleActive(ctx context.Context, cutoff time.Time) ([]models.PaymentIntent, error)
}

// ConfigStore persists dues configurations
type ConfigStore interface {
	Get(ctx context.Context, id uint) (*models.DuesConfiguration, error)
	Current(ctx context.Context, chapterID uint) (*models.DuesConfiguration, error)
	Create(ctx context.Context, cfg *models.DuesConfiguration) error
	Save(ctx context.Context, cfg *models.DuesConfiguration) error
	// MakeCurrent marks one configuration current and clears the flag on
	// every other configuration of the same chapter, atomically.
	MakeCurrent(ctx context.Context, id uint) error
}

// MemberStore reads chapter membership
type MemberStore interface {
	Get(ctx context.Context, id uint) (*models.Member, error)
	ByEmail(ctx context.Context, email string) (*models.Member, error)
	ActiveByChapter(ctx context.Context, chapterID uint) ([]models.Member, error)
}

// InstallmentStore persists eligibility grants, plans and their payments
type InstallmentStore interface {
	ActivePlanForRecord(ctx context.Context, recordID uint) (*models.InstallmentPlan, error)
	// EligibilityFor resolves the grant for a record, record-level grants
	// taking precedence over member-level ones. Nil when no grant exists.
	EligibilityFor(ctx context.Context, recordID, memberID uint) (*models.InstallmentEligibility, error)
	CreatePlan(ctx context.Context, plan *models.InstallmentPlan) error
	GetPlan(ctx context.Context, id uint) (*models.InstallmentPlan, error)
	UpdatePlan(ctx context.Context, plan *models.InstallmentPlan) error
	GetPayment(ctx context.Context, id uint) (*models.InstallmentPayment, error)
	UpdatePayment(ctx context.Context, payment *models.InstallmentPayment) error
}

// TaskEnqueuer inserts scheduled tasks for the worker
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, task *models.ScheduledTask) error
}

// --- gorm implementations ---

type GormRecordStore struct {
	db *gorm.DB
}

func NewGormRecordStore(db *gorm.DB) *GormRecordStore {
	return &GormRecordStore{db: db}
}

func (s *GormRecordStore) Get(ctx context.Context, id uint) (*models.MemberDuesRecord, error) {
	var rec models.MemberDuesRecord
	err := s.db.WithContext(ctx).
		Preload("Member").Preload("Member.Chapter").Preload("Configuration").
		First(&rec, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundError("dues record")
		}
		return nil, err
	}
	return &rec, nil
}

func (s *GormRecordStore) ByMemberAndConfig(ctx context.Context, memberID, configID uint) (*models.MemberDuesRecord, error) {
	var rec models.MemberDuesRecord
	err := s.db.WithContext(ctx).
		Where("member_id = ? AND configuration_id = ?", memberID, configID).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *GormRecordStore) ByConfig(ctx context.Context, configID uint) ([]models.MemberDuesRecord, error) {
	var recs []models.MemberDuesRecord
	err := s.db.WithContext(ctx).
		Preload("Member").
		Where("configuration_id = ?", configID).
		Order("id").
		Find(&recs).Error
	return recs, err
}

func (s *GormRecordStore) ByMember(ctx context.Context, memberID uint) ([]models.MemberDuesRecord, error) {
	var recs []models.MemberDuesRecord
	err := s.db.WithContext(ctx).
		Preload("Configuration").Preload("Payments").
		Where("member_id = ?", memberID).
		Order("due_date desc").
		Find(&recs).Error
	return recs, err
}

func (s *GormRecordStore) Create(ctx context.Context, rec *models.MemberDuesRecord) error {
	err := s.db.WithContext(ctx).Create(rec).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return NewConflictError("record already exists for member %d under configuration %d", rec.MemberID, rec.ConfigurationID)
	}
	return err
}

func (s *GormRecordStore) Mutate(ctx context.Context, id uint, fn func(*models.MemberDuesRecord) error) (*models.MemberDuesRecord, error) {
	var rec models.MemberDuesRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&rec, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NewNotFoundError("dues record")
			}
			return err
		}
		if err := fn(&rec); err != nil {
			return err
		}
		return tx.Save(&rec).Error
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormRecordStore) ApplyPayment(ctx context.Context, payment *models.Payment) (*models.MemberDuesRecord, error) {
	var rec models.MemberDuesRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&rec, payment.RecordID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NewNotFoundError("dues record")
			}
			return err
		}

		// Never drive the balance negative: clamp to what is still owed.
		if payment.AmountCents > rec.BalanceCents {
			payment.AmountCents = rec.BalanceCents
		}

		if err := tx.Create(payment).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return NewConflictError("payment %q already applied", payment.ReferenceKey)
			}
			return err
		}

		rec.AmountPaidCents += payment.AmountCents
		rec.Recompute()
		return tx.Save(&rec).Error
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormRecordStore) DeletePayment(ctx context.Context, paymentID uint) (*models.MemberDuesRecord, error) {
	var rec models.MemberDuesRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment models.Payment
		if err := tx.First(&payment, paymentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NewNotFoundError("payment")
			}
			return err
		}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&rec, payment.RecordID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&payment).Error; err != nil {
			return err
		}

		var remaining int64
		if err := tx.Model(&models.Payment{}).
			Where("record_id = ?", rec.ID).
			Select("COALESCE(SUM(amount_cents), 0)").
			Scan(&remaining).Error; err != nil {
			return err
		}
		rec.AmountPaidCents = remaining
		rec.Recompute()
		return tx.Save(&rec).Error
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormRecordStore) LateFeeCandidates(ctx context.Context, configID uint, cutoff time.Time) ([]models.MemberDuesRecord, error) {
	var recs []models.MemberDuesRecord
	err := s.db.WithContext(ctx).
		Where("configuration_id = ?", configID).
		Where("status NOT IN ?", []models.DuesStatus{models.DuesStatusWaived, models.DuesStatusPaid}).
		Where("due_date < ?", cutoff).
		Where("late_fee_applied_at IS NULL").
		Find(&recs).Error
	return recs, err
}

type GormIntentStore struct {
	db *gorm.DB
}

func NewGormIntentStore(db *gorm.DB) *GormIntentStore {
	return &GormIntentStore{db: db}
}

func (s *GormIntentStore) Get(ctx context.Context, id uint) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := s.db.WithContext(ctx).Preload("Record").Preload("Record.Member").First(&intent, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundError("payment intent")
		}
		return nil, err
	}
	return &intent, nil
}

func (s *GormIntentStore) ActiveForRecord(ctx context.Context, recordID uint) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := s.db.WithContext(ctx).
		Where("record_id = ? AND status IN ?", recordID,
			[]models.PaymentIntentStatus{models.PaymentIntentStatusPending, models.PaymentIntentStatusProcessing}).
		Order("created_at desc").
		First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &intent, nil
}

func (s *GormIntentStore) ByProcessorID(ctx context.Context, processorID string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := s.db.WithContext(ctx).Where("processor_id = ?", processorID).First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundError("payment intent")
		}
		return nil, err
	}
	return &intent, nil
}

func (s *GormIntentStore) Create(ctx context.Context, intent *models.PaymentIntent) error {
	err := s.db.WithContext(ctx).Create(intent).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return NewConflictError("another authorization is already in flight for record %d", intent.RecordID)
	}
	return err
}

func (s *GormIntentStore) Update(ctx context.Context, intent *models.PaymentIntent) error {
	return s.db.WithContext(ctx).Save(intent).Error
}

func (s *GormIntentStore) StaleActive(ctx context.Context, cutoff time.Time) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	err := s.db.WithContext(ctx).
		Where("status IN ?", []models.PaymentIntentStatus{models.PaymentIntentStatusPending, models.PaymentIntentStatusProcessing}).
		Where("updated_at < ?", cutoff).
		Find(&intents).Error
	return intents, err
}

type GormConfigStore struct {
	db *gorm.DB
}

func NewGormConfigStore(db *gorm.DB) *GormConfigStore {
	return &GormConfigStore{db: db}
}

func (s *GormConfigStore) Get(ctx context.Context, id uint) (*models.DuesConfiguration, error) {
	var cfg models.DuesConfiguration
	err := s.db.WithContext(ctx).First(&cfg, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundError("dues configuration")
		}
		return nil, err
	}
	return &cfg, nil
}

func (s *GormConfigStore) Current(ctx context.Context, chapterID uint) (*models.DuesConfiguration, error) {
	var cfg models.DuesConfiguration
	err := s.db.WithContext(ctx).
		Where("chapter_id = ? AND is_current = ?", chapterID, true).
		First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundError("current dues configuration")
		}
		return nil, err
	}
	return &cfg, nil
}

func (s *GormConfigStore) Create(ctx context.Context, cfg *models.DuesConfiguration) error {
	return s.db.WithContext(ctx).Create(cfg).Error
}

func (s *GormConfigStore) Save(ctx context.Context, cfg *models.DuesConfiguration) error {
	return s.db.WithContext(ctx).Save(cfg).Error
}

func (s *GormConfigStore) MakeCurrent(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cfg models.DuesConfiguration
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&cfg, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NewNotFoundError("dues configuration")
			}
			return err
		}
		if err := tx.Model(&models.DuesConfiguration{}).
			Where("chapter_id = ? AND id <> ?", cfg.ChapterID, cfg.ID).
			Update("is_current", false).Error; err != nil {
			return err
		}
		return tx.Model(&cfg).Update("is_current", true).Error
	})
}

type GormMemberStore struct {
	db *gorm.DB
}

func NewGormMemberStore(db *gorm.DB) *GormMemberStore {
	return &GormMemberStore{db: db}
}

func (s *GormMemberStore) Get(ctx context.Context, id uint) (*models.Member, error) {
	var member models.Member
	err := s.db.WithContext(ctx).First(&member, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundError("member")
		}
		return nil, err
	}
	return &member, nil
}

func (s *GormMemberStore) ByEmail(ctx context.Context, email string) (*models.Member, error) {
	var member models.Member
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundError("member")
		}
		return nil, err
	}
	return &member, nil
}

func (s *GormMemberStore) ActiveByChapter(ctx context.Context, chapterID uint) ([]models.Member, error) {
	var members []models.Member
	err := s.db.WithContext(ctx).
		Where("chapter_id = ? AND is_active = ?", chapterID, true).
		Order("id").
		Find(&members).Error
	return members, err
}

type GormInstallmentStore struct {
	db *gorm.DB
}

func NewGormInstallmentStore(db *gorm.DB) *GormInstallmentStore {
	return &GormInstallmentStore{db: db}
}

func (s *GormInstallmentStore) ActivePlanForRecord(ctx context.Context, recordID uint) (*models.InstallmentPlan, error) {
	var plan models.InstallmentPlan
	err := s.db.WithContext(ctx).
		Preload("Payments", func(db *gorm.DB) *gorm.DB { return db.Order("sequence") }).
		Where("record_id = ? AND status = ?", recordID, models.InstallmentPlanStatusActive).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (s *GormInstallmentStore) EligibilityFor(ctx context.Context, recordID, memberID uint) (*models.InstallmentEligibility, error) {
	var grant models.InstallmentEligibility
	err := s.db.WithContext(ctx).Where("record_id = ?", recordID).First(&grant).Error
	if err == nil {
		return &grant, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	err = s.db.WithContext(ctx).Where("member_id = ?", memberID).First(&grant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &grant, nil
}

func (s *GormInstallmentStore) CreatePlan(ctx context.Context, plan *models.InstallmentPlan) error {
	return s.db.WithContext(ctx).Create(plan).Error
}

func (s *GormInstallmentStore) GetPlan(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
	var plan models.InstallmentPlan
	err := s.db.WithContext(ctx).
		Preload("Payments", func(db *gorm.DB) *gorm.DB { return db.Order("sequence") }).
		Preload("Record").Preload("Record.Member").
		First(&plan, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundError("installment plan")
		}
		return nil, err
	}
	return &plan, nil
}

func (s *GormInstallmentStore) UpdatePlan(ctx context.Context, plan *models.InstallmentPlan) error {
	return s.db.WithContext(ctx).Omit("Payments", "Record").Save(plan).Error
}

func (s *GormInstallmentStore) GetPayment(ctx context.Context, id uint) (*models.InstallmentPayment, error) {
	var payment models.InstallmentPayment
	err := s.db.WithContext(ctx).Preload("Plan").First(&payment, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundError("installment payment")
		}
		return nil, err
	}
	return &payment, nil
}

func (s *GormInstallmentStore) UpdatePayment(ctx context.Context, payment *models.InstallmentPayment) error {
	return s.db.WithContext(ctx).Omit("Plan").Save(payment).Error
}

type GormTaskEnqueuer struct {
	db *gorm.DB
}

func NewGormTaskEnqueuer(db *gorm.DB) *GormTaskEnqueuer {
	return &GormTaskEnqueuer{db: db}
}

func (s *GormTaskEnqueuer) Enqueue(ctx context.Context, task *models.ScheduledTask) error {
	return s.db.WithContext(ctx).Create(task).Error
}
