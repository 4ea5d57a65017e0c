package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chapterfin/internal/models"
)

func ledgerFixture(t *testing.T) (*fakeRecordStore, *LedgerService, *models.MemberDuesRecord, Caller) {
	t.Helper()
	rec := &models.MemberDuesRecord{
		ID:              1,
		MemberID:        7,
		ConfigurationID: 1,
		BaseAmountCents: 20000,
		Member:          models.Member{ID: 7, ChapterID: 3},
	}
	rec.Recompute()
	records := newFakeRecordStore(rec)
	svc := NewLedgerService(records)
	admin := Caller{MemberID: 1, ChapterID: 3, Role: models.MemberRoleAdmin}
	return records, svc, rec, admin
}

func TestRecordPayment(t *testing.T) {
	_, svc, rec, admin := ledgerFixture(t)
	ctx := context.Background()

	got, err := svc.RecordPayment(ctx, admin, rec.ID, 5000, models.PaymentMethodCash, "receipt-42", "paid at meeting")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got.AmountPaidCents)
	assert.Equal(t, int64(15000), got.BalanceCents)
	assert.Equal(t, models.DuesStatusPartial, got.Status)

	// Re-submitting the same reference key is rejected, not re-applied
	_, err = svc.RecordPayment(ctx, admin, rec.ID, 5000, models.PaymentMethodCash, "receipt-42", "")
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(5000), rec.AmountPaidCents)
}

func TestRecordPaymentClampsOverpayment(t *testing.T) {
	_, svc, rec, admin := ledgerFixture(t)

	got, err := svc.RecordPayment(context.Background(), admin, rec.ID, 99999, models.PaymentMethodCash, "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(20000), got.AmountPaidCents)
	assert.Equal(t, int64(0), got.BalanceCents)
	assert.Equal(t, models.DuesStatusPaid, got.Status)
}

func TestRecordPaymentAuthorization(t *testing.T) {
	_, svc, rec, _ := ledgerFixture(t)
	ctx := context.Background()

	member := Caller{MemberID: 7, ChapterID: 3, Role: models.MemberRoleMember}
	_, err := svc.RecordPayment(ctx, member, rec.ID, 5000, models.PaymentMethodCash, "", "")
	var authz *AuthorizationError
	require.ErrorAs(t, err, &authz)

	foreignAdmin := Caller{MemberID: 9, ChapterID: 42, Role: models.MemberRoleAdmin}
	_, err = svc.RecordPayment(ctx, foreignAdmin, rec.ID, 5000, models.PaymentMethodCash, "", "")
	require.ErrorAs(t, err, &authz)

	_, err = svc.RecordPayment(ctx, Caller{MemberID: 1, ChapterID: 3, Role: models.MemberRoleAdmin}, rec.ID, 0, models.PaymentMethodCash, "", "")
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestDeletePaymentRederivesBalance(t *testing.T) {
	records, svc, rec, admin := ledgerFixture(t)
	ctx := context.Background()

	_, err := svc.RecordPayment(ctx, admin, rec.ID, 20000, models.PaymentMethodCash, "receipt-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.DuesStatusPaid, rec.Status)

	var paymentID uint
	for id := range records.payments {
		paymentID = id
	}
	got, err := svc.DeletePayment(ctx, admin, paymentID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.AmountPaidCents)
	assert.Equal(t, int64(20000), got.BalanceCents)
	assert.Equal(t, models.DuesStatusPending, got.Status)
}

func TestWaive(t *testing.T) {
	_, svc, rec, admin := ledgerFixture(t)
	ctx := context.Background()

	_, err := svc.Waive(ctx, admin, rec.ID, "")
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)

	got, err := svc.Waive(ctx, admin, rec.ID, "hardship")
	require.NoError(t, err)
	assert.Equal(t, models.DuesStatusWaived, got.Status)
	assert.Equal(t, int64(0), got.BalanceCents)
	assert.Equal(t, "hardship", got.WaiveNote)

	// Waiving twice conflicts
	_, err = svc.Waive(ctx, admin, rec.ID, "again")
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestWaivePartiallyPaidKeepsPayments(t *testing.T) {
	_, svc, rec, admin := ledgerFixture(t)
	ctx := context.Background()

	_, err := svc.RecordPayment(ctx, admin, rec.ID, 5000, models.PaymentMethodCash, "receipt-1", "")
	require.NoError(t, err)

	got, err := svc.Waive(ctx, admin, rec.ID, "remainder forgiven")
	require.NoError(t, err)
	assert.Equal(t, models.DuesStatusWaived, got.Status)
	assert.Equal(t, int64(5000), got.AmountPaidCents, "recorded income stays on the books")
	assert.Equal(t, int64(0), got.BalanceCents)
}

func TestWaiveRejectsFullyPaidRecord(t *testing.T) {
	_, svc, rec, admin := ledgerFixture(t)
	ctx := context.Background()

	_, err := svc.RecordPayment(ctx, admin, rec.ID, 20000, models.PaymentMethodCash, "receipt-1", "")
	require.NoError(t, err)

	_, err = svc.Waive(ctx, admin, rec.ID, "too late")
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestUnwaive(t *testing.T) {
	_, svc, rec, admin := ledgerFixture(t)
	ctx := context.Background()

	_, err := svc.Unwaive(ctx, admin, rec.ID)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)

	_, err = svc.Waive(ctx, admin, rec.ID, "hardship")
	require.NoError(t, err)

	got, err := svc.Unwaive(ctx, admin, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DuesStatusPending, got.Status)
	assert.Equal(t, int64(20000), got.BalanceCents)
}

func TestAddAdjustment(t *testing.T) {
	_, svc, rec, admin := ledgerFixture(t)
	ctx := context.Background()

	_, err := svc.AddAdjustment(ctx, admin, rec.ID, 0, "nothing")
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)

	_, err = svc.AddAdjustment(ctx, admin, rec.ID, -5000, "")
	require.ErrorAs(t, err, &validation)

	got, err := svc.AddAdjustment(ctx, admin, rec.ID, -5000, "scholarship")
	require.NoError(t, err)
	assert.Equal(t, int64(15000), got.TotalAmountCents)
	assert.Equal(t, int64(15000), got.BalanceCents)

	got, err = svc.AddAdjustment(ctx, admin, rec.ID, 2000, "damage penalty")
	require.NoError(t, err)
	assert.Equal(t, int64(17000), got.TotalAmountCents)
}
