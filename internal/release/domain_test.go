package release

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to ScheduleStatus }{
		{StatusScheduled, StatusProcessing},
		{StatusScheduled, StatusCancelled},
		{StatusProcessing, StatusCompleted},
		{StatusProcessing, StatusFailed},
		{StatusFailed, StatusProcessing},
	}
	for _, tc := range allowed {
		require.True(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	denied := []struct{ from, to ScheduleStatus }{
		{StatusCompleted, StatusProcessing},
		{StatusCompleted, StatusScheduled},
		{StatusCancelled, StatusProcessing},
		{StatusProcessing, StatusScheduled},
		{StatusScheduled, StatusCompleted},
		{StatusFailed, StatusCancelled},
	}
	for _, tc := range denied {
		require.False(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestNewScheduleNetInvariant(t *testing.T) {
	_, err := NewSchedule(Schedule{
		PaymentID:     1,
		CompanyID:     1,
		AmountGross:   1000,
		AmountFee:     100,
		AmountNet:     950,
		ScheduledDate: time.Now(),
	})
	require.Error(t, err)
}

func TestBuildInstallmentsSumsBack(t *testing.T) {
	first := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	plan := InstallmentPlan{
		PaymentID:        7,
		CompanyID:        3,
		AmountGross:      10001,
		AmountFee:        302,
		Currency:         "BRL",
		Installments:     3,
		FirstReleaseDate: first,
		Interval:         30 * 24 * time.Hour,
	}

	schedules, err := BuildInstallments(plan)
	require.NoError(t, err)
	require.Len(t, schedules, 3)

	var gross, fee, net int64
	for i, s := range schedules {
		gross += s.AmountGross
		fee += s.AmountFee
		net += s.AmountNet
		require.Equal(t, i+1, s.InstallmentNumber)
		require.Equal(t, 3, s.TotalInstallments)
		require.Equal(t, first.Add(time.Duration(i)*plan.Interval), s.ScheduledDate)
		require.Equal(t, StatusScheduled, s.Status)
	}
	require.Equal(t, plan.AmountGross, gross)
	require.Equal(t, plan.AmountFee, fee)
	require.Equal(t, plan.AmountGross-plan.AmountFee, net)

	// The remainder lands on the first installment.
	require.Equal(t, int64(3335), schedules[0].AmountGross)
	require.Equal(t, int64(3333), schedules[1].AmountGross)
	require.Equal(t, int64(3333), schedules[2].AmountGross)
}

func TestBuildInstallmentsRejectsZero(t *testing.T) {
	_, err := BuildInstallments(InstallmentPlan{PaymentID: 1, CompanyID: 1, Installments: 0})
	require.Error(t, err)
}

func TestDaysUntil(t *testing.T) {
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	require.Equal(t, 0, DaysUntil(now.Add(-time.Hour), now))
	require.Equal(t, 0, DaysUntil(now, now))
	require.Equal(t, 1, DaysUntil(now.Add(time.Hour), now))
	require.Equal(t, 1, DaysUntil(now.Add(24*time.Hour), now))
	require.Equal(t, 2, DaysUntil(now.Add(25*time.Hour), now))
	require.Equal(t, 15, DaysUntil(now.Add(15*24*time.Hour), now))
}
