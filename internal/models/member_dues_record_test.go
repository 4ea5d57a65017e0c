package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecompute(t *testing.T) {
	tests := []struct {
		name        string
		rec         MemberDuesRecord
		wantTotal   int64
		wantBalance int64
		wantStatus  DuesStatus
	}{
		{
			name:        "untouched record is pending",
			rec:         MemberDuesRecord{BaseAmountCents: 50000},
			wantTotal:   50000,
			wantBalance: 50000,
			wantStatus:  DuesStatusPending,
		},
		{
			name:        "partial payment",
			rec:         MemberDuesRecord{BaseAmountCents: 50000, AmountPaidCents: 20000},
			wantTotal:   50000,
			wantBalance: 30000,
			wantStatus:  DuesStatusPartial,
		},
		{
			name:        "full payment",
			rec:         MemberDuesRecord{BaseAmountCents: 50000, AmountPaidCents: 50000},
			wantTotal:   50000,
			wantBalance: 0,
			wantStatus:  DuesStatusPaid,
		},
		{
			name:        "negative adjustment reduces total",
			rec:         MemberDuesRecord{BaseAmountCents: 20000, AdjustmentCents: -5000},
			wantTotal:   15000,
			wantBalance: 15000,
			wantStatus:  DuesStatusPending,
		},
		{
			name:        "adjustment below amount paid flips to paid",
			rec:         MemberDuesRecord{BaseAmountCents: 20000, AdjustmentCents: -15000, AmountPaidCents: 10000},
			wantTotal:   5000,
			wantBalance: 0,
			wantStatus:  DuesStatusPaid,
		},
		{
			name:        "late fee joins the total",
			rec:         MemberDuesRecord{BaseAmountCents: 50000, LateFeeCents: 2500, AmountPaidCents: 50000},
			wantTotal:   52500,
			wantBalance: 2500,
			wantStatus:  DuesStatusPartial,
		},
		{
			name:        "waived pins balance to zero",
			rec:         MemberDuesRecord{BaseAmountCents: 50000, AmountPaidCents: 10000, Status: DuesStatusWaived},
			wantTotal:   50000,
			wantBalance: 0,
			wantStatus:  DuesStatusWaived,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.rec.Recompute()
			assert.Equal(t, tt.wantTotal, tt.rec.TotalAmountCents)
			assert.Equal(t, tt.wantBalance, tt.rec.BalanceCents)
			assert.Equal(t, tt.wantStatus, tt.rec.Status)
		})
	}
}

func TestRecomputeWaivedIsSticky(t *testing.T) {
	rec := MemberDuesRecord{BaseAmountCents: 50000, Status: DuesStatusWaived}
	rec.Recompute()
	assert.Equal(t, DuesStatusWaived, rec.Status)

	// Adding amounts does not resurrect a waived record
	rec.LateFeeCents = 2500
	rec.Recompute()
	assert.Equal(t, DuesStatusWaived, rec.Status)
	assert.Equal(t, int64(0), rec.BalanceCents)
}

func TestIsOverdue(t *testing.T) {
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	before := due.AddDate(0, 0, -1)
	after := due.AddDate(0, 0, 10)

	rec := MemberDuesRecord{BaseAmountCents: 50000, DueDate: due}
	rec.Recompute()

	assert.False(t, rec.IsOverdue(before))
	assert.True(t, rec.IsOverdue(after))
	assert.Equal(t, 0, rec.DaysOverdue(before))
	assert.Equal(t, 10, rec.DaysOverdue(after))

	rec.AmountPaidCents = 50000
	rec.Recompute()
	assert.False(t, rec.IsOverdue(after), "paid records are never overdue")

	waived := MemberDuesRecord{BaseAmountCents: 50000, DueDate: due, Status: DuesStatusWaived}
	waived.Recompute()
	assert.False(t, waived.IsOverdue(after), "waived records are never overdue")
}
