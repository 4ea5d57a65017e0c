package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chapterfin/internal/models"
)

func paymentFixture(t *testing.T) (*fakeRecordStore, *fakeIntentStore, *fakeProcessor, *PaymentService, *models.MemberDuesRecord, Caller) {
	t.Helper()
	acct := "acct_chapter"
	rec := &models.MemberDuesRecord{
		ID:              1,
		MemberID:        7,
		ConfigurationID: 1,
		BaseAmountCents: 50000,
		Member: models.Member{
			ID:        7,
			ChapterID: 3,
			Chapter:   models.Chapter{ID: 3, StripeAccountID: &acct},
		},
	}
	rec.Recompute()

	records := newFakeRecordStore(rec)
	intents := newFakeIntentStore()
	processor := newFakeProcessor()
	svc := NewPaymentService(records, intents, processor, LoadFeeConfig())
	caller := Caller{MemberID: 7, ChapterID: 3, Role: models.MemberRoleMember}
	return records, intents, processor, svc, rec, caller
}

func TestCreateAuthorizationComputesFeeSplit(t *testing.T) {
	_, _, processor, svc, rec, caller := paymentFixture(t)

	intent, err := svc.CreateOrReuseAuthorization(context.Background(), caller, AuthorizationRequest{
		RecordID:    rec.ID,
		Method:      models.PaymentMethodCard,
		AmountCents: 50000,
	})
	require.NoError(t, err)

	assert.Equal(t, models.PaymentIntentStatusPending, intent.Status)
	assert.Equal(t, int64(50000), intent.DuesAmountCents)
	assert.Equal(t, int64(51524), intent.ChargeAmountCents)
	assert.Equal(t, int64(1524), intent.ProcessorFeeCents)
	assert.Equal(t, int64(500), intent.PlatformFeeCents)
	assert.Equal(t, int64(49500), intent.TransferAmountCents)
	assert.NotEmpty(t, intent.ClientHandle)

	require.Len(t, processor.created, 1)
	assert.Equal(t, int64(51524), processor.created[0].AmountCents)
	assert.Equal(t, int64(49500), processor.created[0].TransferAmountCents)
	assert.Equal(t, "acct_chapter", processor.created[0].DestinationAccount)
	assert.NotEmpty(t, processor.created[0].IdempotencyKey)
}

func TestCreateAuthorizationClampsToBalance(t *testing.T) {
	_, _, _, svc, rec, caller := paymentFixture(t)

	intent, err := svc.CreateOrReuseAuthorization(context.Background(), caller, AuthorizationRequest{
		RecordID:    rec.ID,
		Method:      models.PaymentMethodBankTransfer,
		AmountCents: 999999,
	})
	require.NoError(t, err)
	assert.Equal(t, rec.BalanceCents, intent.DuesAmountCents)
}

func TestCreateAuthorizationReusesSameMethod(t *testing.T) {
	_, _, processor, svc, rec, caller := paymentFixture(t)
	ctx := context.Background()

	req := AuthorizationRequest{RecordID: rec.ID, Method: models.PaymentMethodCard, AmountCents: 50000}
	first, err := svc.CreateOrReuseAuthorization(ctx, caller, req)
	require.NoError(t, err)

	// A retry with the same method returns the same authorization
	second, err := svc.CreateOrReuseAuthorization(ctx, caller, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.ClientHandle, second.ClientHandle)
	assert.Len(t, processor.created, 1)
}

func TestCreateAuthorizationReplacesOnMethodSwitch(t *testing.T) {
	_, intents, processor, svc, rec, caller := paymentFixture(t)
	ctx := context.Background()

	first, err := svc.CreateOrReuseAuthorization(ctx, caller, AuthorizationRequest{
		RecordID: rec.ID, Method: models.PaymentMethodCard, AmountCents: 50000,
	})
	require.NoError(t, err)

	second, err := svc.CreateOrReuseAuthorization(ctx, caller, AuthorizationRequest{
		RecordID: rec.ID, Method: models.PaymentMethodBankTransfer, AmountCents: 50000,
	})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Contains(t, processor.canceled, first.ProcessorID)

	old, err := intents.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentIntentStatusCanceled, old.Status)
}

func TestCreateAuthorizationBlocksWhileProcessing(t *testing.T) {
	_, intents, _, svc, rec, caller := paymentFixture(t)
	ctx := context.Background()

	intent, err := svc.CreateOrReuseAuthorization(ctx, caller, AuthorizationRequest{
		RecordID: rec.ID, Method: models.PaymentMethodCard, AmountCents: 50000,
	})
	require.NoError(t, err)

	intent.Status = models.PaymentIntentStatusProcessing
	require.NoError(t, intents.Update(ctx, intent))

	_, err = svc.CreateOrReuseAuthorization(ctx, caller, AuthorizationRequest{
		RecordID: rec.ID, Method: models.PaymentMethodCard, AmountCents: 50000,
	})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestCreateAuthorizationRejections(t *testing.T) {
	_, _, _, svc, rec, caller := paymentFixture(t)
	ctx := context.Background()

	_, err := svc.CreateOrReuseAuthorization(ctx, caller, AuthorizationRequest{
		RecordID: rec.ID, Method: models.PaymentMethodCard, AmountCents: 0,
	})
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)

	stranger := Caller{MemberID: 99, ChapterID: 42, Role: models.MemberRoleMember}
	_, err = svc.CreateOrReuseAuthorization(ctx, stranger, AuthorizationRequest{
		RecordID: rec.ID, Method: models.PaymentMethodCard, AmountCents: 50000,
	})
	var authz *AuthorizationError
	require.ErrorAs(t, err, &authz)

	rec.AmountPaidCents = rec.TotalAmountCents
	rec.Recompute()
	_, err = svc.CreateOrReuseAuthorization(ctx, caller, AuthorizationRequest{
		RecordID: rec.ID, Method: models.PaymentMethodCard, AmountCents: 50000,
	})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestCreateAuthorizationCompensatesOnPersistFailure(t *testing.T) {
	_, intents, processor, svc, rec, caller := paymentFixture(t)
	intents.createErr = errors.New("connection reset")

	_, err := svc.CreateOrReuseAuthorization(context.Background(), caller, AuthorizationRequest{
		RecordID: rec.ID, Method: models.PaymentMethodCard, AmountCents: 50000,
	})
	var consistency *ConsistencyError
	require.ErrorAs(t, err, &consistency)

	// The externally created authorization must have been canceled
	require.Len(t, processor.created, 1)
	require.Len(t, processor.canceled, 1)
}

func TestCreateAuthorizationLosesRaceCleanly(t *testing.T) {
	_, intents, processor, svc, rec, caller := paymentFixture(t)
	intents.createErr = NewConflictError("slot taken")

	_, err := svc.CreateOrReuseAuthorization(context.Background(), caller, AuthorizationRequest{
		RecordID: rec.ID, Method: models.PaymentMethodCard, AmountCents: 50000,
	})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Len(t, processor.canceled, 1)
}

func TestCancelAuthorization(t *testing.T) {
	_, _, processor, svc, rec, caller := paymentFixture(t)
	ctx := context.Background()

	intent, err := svc.CreateOrReuseAuthorization(ctx, caller, AuthorizationRequest{
		RecordID: rec.ID, Method: models.PaymentMethodCard, AmountCents: 50000,
	})
	require.NoError(t, err)

	canceled, err := svc.CancelAuthorization(ctx, caller, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentIntentStatusCanceled, canceled.Status)
	assert.Contains(t, processor.canceled, intent.ProcessorID)

	// A canceled intent cannot be canceled again
	_, err = svc.CancelAuthorization(ctx, caller, intent.ID)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestHandleSettlementAppliesPaymentOnce(t *testing.T) {
	records, _, _, svc, rec, caller := paymentFixture(t)
	ctx := context.Background()

	intent, err := svc.CreateOrReuseAuthorization(ctx, caller, AuthorizationRequest{
		RecordID: rec.ID, Method: models.PaymentMethodCard, AmountCents: 50000,
	})
	require.NoError(t, err)

	settled, err := svc.HandleSettlement(ctx, intent.ProcessorID, models.PaymentIntentStatusSucceeded, "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentIntentStatusSucceeded, settled.Status)

	got, err := records.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), got.AmountPaidCents)
	assert.Equal(t, models.DuesStatusPaid, got.Status)

	// A duplicate delivery of the same settlement is a no-op
	_, err = svc.HandleSettlement(ctx, intent.ProcessorID, models.PaymentIntentStatusSucceeded, "")
	require.NoError(t, err)
	got, err = records.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), got.AmountPaidCents)
}

func TestHandleSettlementFailure(t *testing.T) {
	records, _, _, svc, rec, caller := paymentFixture(t)
	ctx := context.Background()

	intent, err := svc.CreateOrReuseAuthorization(ctx, caller, AuthorizationRequest{
		RecordID: rec.ID, Method: models.PaymentMethodCard, AmountCents: 50000,
	})
	require.NoError(t, err)

	settled, err := svc.HandleSettlement(ctx, intent.ProcessorID, models.PaymentIntentStatusFailed, "card_declined")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentIntentStatusFailed, settled.Status)
	assert.Equal(t, "card_declined", settled.FailureReason)

	// The balance is untouched and the record is chargeable again
	got, err := records.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.AmountPaidCents)
	assert.Equal(t, int64(50000), got.BalanceCents)

	_, err = svc.CreateOrReuseAuthorization(ctx, caller, AuthorizationRequest{
		RecordID: rec.ID, Method: models.PaymentMethodCard, AmountCents: 50000,
	})
	require.NoError(t, err)
}

func TestHandleSettlementNeverDowngradesSuccess(t *testing.T) {
	_, _, _, svc, rec, caller := paymentFixture(t)
	ctx := context.Background()

	intent, err := svc.CreateOrReuseAuthorization(ctx, caller, AuthorizationRequest{
		RecordID: rec.ID, Method: models.PaymentMethodCard, AmountCents: 50000,
	})
	require.NoError(t, err)

	_, err = svc.HandleSettlement(ctx, intent.ProcessorID, models.PaymentIntentStatusSucceeded, "")
	require.NoError(t, err)

	// A late cancellation event after success must not flip the status
	settled, err := svc.HandleSettlement(ctx, intent.ProcessorID, models.PaymentIntentStatusCanceled, "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentIntentStatusSucceeded, settled.Status)

	// Nor may a late or duplicate failure notification: the payment is
	// already on the ledger
	settled, err = svc.HandleSettlement(ctx, intent.ProcessorID, models.PaymentIntentStatusFailed, "card_declined")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentIntentStatusSucceeded, settled.Status)
	assert.Empty(t, settled.FailureReason)
}

func TestReconcileIntents(t *testing.T) {
	records, intents, processor, svc, rec, caller := paymentFixture(t)
	ctx := context.Background()

	intent, err := svc.CreateOrReuseAuthorization(ctx, caller, AuthorizationRequest{
		RecordID: rec.ID, Method: models.PaymentMethodCard, AmountCents: 50000,
	})
	require.NoError(t, err)

	// The processor settled the charge but the notification was lost
	processor.statuses[intent.ProcessorID] = models.PaymentIntentStatusSucceeded
	intent.UpdatedAt = time.Now().Add(-2 * time.Hour)
	intents.intents[intent.ID] = intent

	changed, err := svc.ReconcileIntents(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, models.PaymentIntentStatusSucceeded, changed[0].Status)

	got, err := records.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DuesStatusPaid, got.Status)
}
