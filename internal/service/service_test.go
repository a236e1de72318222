package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mmeshcher/rewards-portal/internal/model"
	"github.com/mmeshcher/rewards-portal/internal/repository"
)

var errInjected = errors.New("injected failure")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T, repo repository.Store) (*Service, *fakeClock) {
	t.Helper()

	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc := NewService(repo, nil, Options{
		RegistrationBonus: 100,
		MinWithdrawal:     1000,
		TaskCooldown:      24 * time.Hour,
		Rate:              model.ConversionRate{Version: 1, PointsPerUnit: 1000, Currency: "USD"},
		AdminEmail:        "admin@example.com",
	})
	svc.now = clock.Now

	var seq int
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("wd-%d", seq)
	}
	return svc, clock
}

func seedUser(t *testing.T, repo repository.Store, email string) int64 {
	t.Helper()

	id, err := repo.CreateUser(context.Background(), &model.User{
		Email:       email,
		DisplayName: email,
		Role:        model.RoleUser,
		Status:      model.UserStatusActive,
	})
	require.NoError(t, err)
	return id
}

func seedPayPal(t *testing.T, svc *Service) {
	t.Helper()

	_, err := svc.UpsertPaymentMethod(context.Background(), model.PaymentMethod{
		ID:      "paypal",
		Label:   "PayPal",
		Enabled: true,
	})
	require.NoError(t, err)
}

func assertLedgerConsistent(t *testing.T, svc *Service, userID int64) {
	t.Helper()

	audit, err := svc.Audit(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, audit.Consistent, "balance %d, history sum %d", audit.Balance, audit.HistorySum)
}

// failingStore пробрасывает вызовы в хранилище и ломает выбранные операции.
type failingStore struct {
	repository.Store
	failDeleteNotifications    bool
	failInsertNotification     bool
	failInsertPointTransaction bool
	failInsertWithdrawal       bool
}

func (f *failingStore) Atomic(ctx context.Context, fn func(tx repository.Store) error) error {
	return f.Store.Atomic(ctx, func(tx repository.Store) error {
		inner := *f
		inner.Store = tx
		return fn(&inner)
	})
}

func (f *failingStore) InsertPointTransaction(ctx context.Context, t *model.PointTransaction) error {
	if f.failInsertPointTransaction {
		return errInjected
	}
	return f.Store.InsertPointTransaction(ctx, t)
}

func (f *failingStore) InsertWithdrawal(ctx context.Context, w *model.Withdrawal) error {
	if f.failInsertWithdrawal {
		return errInjected
	}
	return f.Store.InsertWithdrawal(ctx, w)
}

func (f *failingStore) DeleteNotifications(ctx context.Context, userID int64) (int64, error) {
	if f.failDeleteNotifications {
		return 0, errInjected
	}
	return f.Store.DeleteNotifications(ctx, userID)
}

func (f *failingStore) InsertNotification(ctx context.Context, n *model.Notification) error {
	if f.failInsertNotification {
		return errInjected
	}
	return f.Store.InsertNotification(ctx, n)
}

func TestApplyDelta_BalanceMatchesHistory(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	svc, _ := newTestService(t, repo)
	id := seedUser(t, repo, "alice@example.com")

	_, err := svc.ApplyDelta(ctx, id, 500, "Quiz", "q-1")
	require.NoError(t, err)
	_, err = svc.ApplyDelta(ctx, id, -120, "Shop", "")
	require.NoError(t, err)
	_, err = svc.AdjustPoints(ctx, id, 20, "support ticket 17")
	require.NoError(t, err)

	balance, err := svc.GetBalance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(400), balance)

	history, err := svc.GetHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, model.SourceManualAdjustment, history[0].Source)
	assert.Equal(t, "support ticket 17", history[0].Reference)

	assertLedgerConsistent(t, svc, id)
}

func TestApplyDelta_Rejections(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	svc, _ := newTestService(t, repo)
	id := seedUser(t, repo, "bob@example.com")

	_, err := svc.ApplyDelta(ctx, id, 50, "Quiz", "")
	require.NoError(t, err)

	tests := []struct {
		name    string
		userID  int64
		delta   int64
		source  string
		wantErr error
	}{
		{name: "overdraw", userID: id, delta: -51, source: "Shop", wantErr: model.ErrInsufficientBalance},
		{name: "zero delta", userID: id, delta: 0, source: "Shop", wantErr: model.ErrValidationFailed},
		{name: "empty source", userID: id, delta: 5, source: "  ", wantErr: model.ErrValidationFailed},
		{name: "unknown user", userID: id + 100, delta: 5, source: "Quiz", wantErr: model.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ApplyDelta(ctx, tt.userID, tt.delta, tt.source, "")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	balance, err := svc.GetBalance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)

	history, err := svc.GetHistory(ctx, id)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestApplyDelta_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	svc, _ := newTestService(t, repo)
	id := seedUser(t, repo, "carol@example.com")

	const workers = 50
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ApplyDelta(ctx, id, 1, "Quiz", fmt.Sprint(i))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	balance, err := svc.GetBalance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(workers), balance)
	assertLedgerConsistent(t, svc, id)
}

func TestGetHistory_UnknownUser(t *testing.T) {
	svc, _ := newTestService(t, repository.NewMemoryRepository())

	_, err := svc.GetHistory(context.Background(), 42)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestClaimTask_CooldownWindow(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	svc, clock := newTestService(t, repo)
	id := seedUser(t, repo, "dave@example.com")

	task, err := svc.CreateTask(ctx, model.Task{Name: "Daily Login", Points: 20, Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, task.Cooldown)

	start := clock.Now()
	res, err := svc.ClaimTask(ctx, id, task.ID)
	require.NoError(t, err)
	assert.True(t, res.Awarded)
	assert.Equal(t, int64(20), res.PointsAwarded)
	assert.Equal(t, start.Add(24*time.Hour), res.NextClaimAt)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, "Daily Login", res.Transaction.Source)

	clock.Advance(time.Hour)
	res, err = svc.ClaimTask(ctx, id, task.ID)
	require.NoError(t, err)
	assert.False(t, res.Awarded)
	assert.Zero(t, res.PointsAwarded)
	assert.Equal(t, start, res.Record.WindowStart)
	assert.Equal(t, 1, res.Record.Count)
	assert.Equal(t, start.Add(24*time.Hour), res.NextClaimAt)

	balance, err := svc.GetBalance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(20), balance)

	clock.Advance(24 * time.Hour)
	res, err = svc.ClaimTask(ctx, id, task.ID)
	require.NoError(t, err)
	assert.True(t, res.Awarded)
	assert.Equal(t, 1, res.Record.Count)
	assert.Equal(t, clock.Now(), res.Record.WindowStart)

	balance, err = svc.GetBalance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)
	assertLedgerConsistent(t, svc, id)

	notes, err := svc.ListNotifications(ctx, id)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, model.NotificationSuccess, notes[0].Type)
}

func TestClaimTask_WindowBoundary(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	svc, clock := newTestService(t, repo)
	id := seedUser(t, repo, "erin@example.com")

	task, err := svc.CreateTask(ctx, model.Task{Name: "Survey", Points: 5, Cooldown: time.Hour, Enabled: true})
	require.NoError(t, err)

	_, err = svc.ClaimTask(ctx, id, task.ID)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	res, err := svc.ClaimTask(ctx, id, task.ID)
	require.NoError(t, err)
	assert.True(t, res.Awarded, "window is closed at exactly start+cooldown")
}

func TestClaimTask_RandomReward(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	svc, _ := newTestService(t, repo)
	svc.randIntN = func(n int) int { return n - 1 }
	id := seedUser(t, repo, "frank@example.com")

	task, err := svc.CreateTask(ctx, model.Task{Name: "Spin", RewardChoices: []int64{5, 10, 25}, Enabled: true})
	require.NoError(t, err)

	res, err := svc.ClaimTask(ctx, id, task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(25), res.PointsAwarded)
	assert.Equal(t, int64(25), res.Record.LastPoints)
	assert.Equal(t, int64(25), res.Transaction.Delta)
}

func TestClaimTask_Rejections(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	svc, _ := newTestService(t, repo)
	id := seedUser(t, repo, "grace@example.com")
	frozen := seedUser(t, repo, "henry@example.com")
	require.NoError(t, svc.SetUserStatus(ctx, frozen, model.UserStatusFrozen))

	active, err := svc.CreateTask(ctx, model.Task{Name: "Daily Login", Points: 20, Enabled: true})
	require.NoError(t, err)
	disabled, err := svc.CreateTask(ctx, model.Task{Name: "Old promo", Points: 50})
	require.NoError(t, err)

	tests := []struct {
		name    string
		userID  int64
		taskID  int64
		wantErr error
	}{
		{name: "unknown task", userID: id, taskID: 999, wantErr: model.ErrTaskNotFound},
		{name: "unknown user", userID: 999, taskID: active.ID, wantErr: model.ErrUserNotFound},
		{name: "disabled task", userID: id, taskID: disabled.ID, wantErr: model.ErrTaskDisabled},
		{name: "frozen account", userID: frozen, taskID: active.ID, wantErr: model.ErrAccountFrozen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ClaimTask(ctx, tt.userID, tt.taskID)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClaimTask_NotificationFailureDoesNotRollBack(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	svc, _ := newTestService(t, &failingStore{Store: repo, failInsertNotification: true})
	id := seedUser(t, repo, "ivan@example.com")

	task, err := svc.CreateTask(ctx, model.Task{Name: "Daily Login", Points: 20, Enabled: true})
	require.NoError(t, err)

	res, err := svc.ClaimTask(ctx, id, task.ID)
	require.NoError(t, err)
	assert.True(t, res.Awarded)

	balance, err := svc.GetBalance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(20), balance)
}

func TestCreateTask_Validation(t *testing.T) {
	svc, _ := newTestService(t, repository.NewMemoryRepository())

	tests := []struct {
		name string
		task model.Task
	}{
		{name: "empty name", task: model.Task{Points: 10}},
		{name: "no reward", task: model.Task{Name: "Nothing"}},
		{name: "negative choice", task: model.Task{Name: "Spin", RewardChoices: []int64{5, -1}}},
		{name: "negative cooldown", task: model.Task{Name: "Quiz", Points: 5, Cooldown: -time.Minute}},
		{name: "sub-second cooldown", task: model.Task{Name: "Quiz", Points: 5, Cooldown: 1500 * time.Millisecond}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateTask(context.Background(), tt.task)
			assert.ErrorIs(t, err, model.ErrValidationFailed)
		})
	}
}

func TestTaskStatuses(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	svc, clock := newTestService(t, repo)
	id := seedUser(t, repo, "judy@example.com")

	daily, err := svc.CreateTask(ctx, model.Task{Name: "Daily Login", Points: 20, Enabled: true})
	require.NoError(t, err)
	_, err = svc.CreateTask(ctx, model.Task{Name: "Quiz", Points: 10, Enabled: true})
	require.NoError(t, err)
	_, err = svc.CreateTask(ctx, model.Task{Name: "Hidden", Points: 10})
	require.NoError(t, err)

	_, err = svc.ClaimTask(ctx, id, daily.ID)
	require.NoError(t, err)

	statuses, err := svc.TaskStatuses(ctx, id)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.False(t, statuses[0].Claimable)
	require.NotNil(t, statuses[0].NextClaimAt)
	assert.Equal(t, clock.Now().Add(24*time.Hour), *statuses[0].NextClaimAt)
	assert.True(t, statuses[1].Claimable)
	assert.Nil(t, statuses[1].NextClaimAt)

	n, err := svc.ResetTaskCompletions(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	res, err := svc.ClaimTask(ctx, id, daily.ID)
	require.NoError(t, err)
	assert.True(t, res.Awarded)
}

func TestWithdrawal_RequestAndReject(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	svc, _ := newTestService(t, repo)
	seedPayPal(t, svc)
	id := seedUser(t, repo, "kate@example.com")

	_, err := svc.ApplyDelta(ctx, id, 1200, "Quiz", "")
	require.NoError(t, err)

	w, err := svc.RequestWithdrawal(ctx, id, 1000, "paypal", "kate@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalStatusPending, w.Status)
	assert.Equal(t, "1.00", w.CashAmount.StringFixed(2))
	assert.Equal(t, "USD", w.Currency)
	assert.Equal(t, 1, w.RateVersion)

	balance, err := svc.GetBalance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(200), balance)

	rejected, err := svc.ResolveWithdrawal(ctx, w.ID, model.WithdrawalStatusRejected)
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalStatusRejected, rejected.Status)
	require.NotNil(t, rejected.ResolvedAt)

	balance, err = svc.GetBalance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), balance)

	history, err := svc.GetHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, model.SourceWithdrawalRefund, history[0].Source)
	assert.Equal(t, w.ID, history[0].Reference)

	notes, err := svc.ListNotifications(ctx, id)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, model.NotificationError, notes[0].Type)

	_, err = svc.ResolveWithdrawal(ctx, w.ID, model.WithdrawalStatusCompleted)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	balance, err = svc.GetBalance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), balance)
	assertLedgerConsistent(t, svc, id)
}

func TestWithdrawal_Complete(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	svc, _ := newTestService(t, repo)
	seedPayPal(t, svc)
	id := seedUser(t, repo, "leo@example.com")

	_, err := svc.ApplyDelta(ctx, id, 2500, "Quiz", "")
	require.NoError(t, err)

	w, err := svc.RequestWithdrawal(ctx, id, 2500, "paypal", "leo@example.com")
	require.NoError(t, err)

	done, err := svc.ResolveWithdrawal(ctx, w.ID, model.WithdrawalStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalStatusCompleted, done.Status)

	_, err = svc.ResolveWithdrawal(ctx, w.ID, model.WithdrawalStatusRejected)
	assert.ErrorIs(t, err, model.ErrWithdrawalResolved)

	balance, err := svc.GetBalance(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, balance)

	stored, err := svc.GetWithdrawal(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalStatusCompleted, stored.Status)

	notes, err := svc.ListNotifications(ctx, id)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, model.NotificationSuccess, notes[0].Type)
	assertLedgerConsistent(t, svc, id)
}

func TestRequestWithdrawal_Rejections(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	svc, _ := newTestService(t, repo)
	seedPayPal(t, svc)
	_, err := svc.UpsertPaymentMethod(ctx, model.PaymentMethod{ID: "card", Label: "Card", Enabled: true})
	require.NoError(t, err)
	_, err = svc.UpsertPaymentMethod(ctx, model.PaymentMethod{ID: "crypto", Label: "Crypto"})
	require.NoError(t, err)

	id := seedUser(t, repo, "mia@example.com")
	_, err = svc.ApplyDelta(ctx, id, 999, "Quiz", "")
	require.NoError(t, err)

	frozen := seedUser(t, repo, "ned@example.com")
	_, err = svc.ApplyDelta(ctx, frozen, 5000, "Quiz", "")
	require.NoError(t, err)
	require.NoError(t, svc.SetUserStatus(ctx, frozen, model.UserStatusFrozen))

	tests := []struct {
		name    string
		userID  int64
		points  int64
		method  string
		details string
		wantErr error
	}{
		{name: "non positive", userID: id, points: 0, method: "paypal", details: "mia@example.com", wantErr: model.ErrValidationFailed},
		{name: "below minimum", userID: id, points: 500, method: "paypal", details: "mia@example.com", wantErr: model.ErrBelowMinimum},
		{name: "insufficient balance", userID: id, points: 1000, method: "paypal", details: "mia@example.com", wantErr: model.ErrInsufficientBalance},
		{name: "unknown method", userID: id, points: 1000, method: "cheque", details: "x", wantErr: model.ErrPaymentMethodNotFound},
		{name: "disabled method", userID: id, points: 1000, method: "crypto", details: "wallet", wantErr: model.ErrMethodUnavailable},
		{name: "bad card", userID: id, points: 1000, method: "card", details: "4111 1111 1111 1112", wantErr: model.ErrValidationFailed},
		{name: "bad paypal", userID: id, points: 1000, method: "paypal", details: "not-an-email", wantErr: model.ErrValidationFailed},
		{name: "frozen account", userID: frozen, points: 1000, method: "paypal", details: "ned@example.com", wantErr: model.ErrAccountFrozen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RequestWithdrawal(ctx, tt.userID, tt.points, tt.method, tt.details)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	list, err := svc.ListWithdrawals(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, list)

	balance, err := svc.GetBalance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(999), balance)
}

func TestMinWithdrawalSetting(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	svc, _ := newTestService(t, repo)
	seedPayPal(t, svc)
	id := seedUser(t, repo, "olga@example.com")
	_, err := svc.ApplyDelta(ctx, id, 600, "Quiz", "")
	require.NoError(t, err)

	got, err := svc.MinWithdrawal(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got)

	assert.ErrorIs(t, svc.SetMinWithdrawal(ctx, 0), model.ErrValidationFailed)
	require.NoError(t, svc.SetMinWithdrawal(ctx, 500))

	got, err = svc.MinWithdrawal(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(500), got)

	_, err = svc.RequestWithdrawal(ctx, id, 500, "paypal", "olga@example.com")
	require.NoError(t, err)
}

func TestListWithdrawals_FilterByStatus(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	svc, clock := newTestService(t, repo)
	seedPayPal(t, svc)
	id := seedUser(t, repo, "pete@example.com")
	_, err := svc.ApplyDelta(ctx, id, 3000, "Quiz", "")
	require.NoError(t, err)

	first, err := svc.RequestWithdrawal(ctx, id, 1000, "paypal", "pete@example.com")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = svc.RequestWithdrawal(ctx, id, 1000, "paypal", "pete@example.com")
	require.NoError(t, err)
	_, err = svc.ResolveWithdrawal(ctx, first.ID, model.WithdrawalStatusCompleted)
	require.NoError(t, err)

	pending, err := svc.ListWithdrawals(ctx, model.WithdrawalStatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	all, err := svc.ListUserWithdrawals(ctx, id)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.NotEqual(t, first.ID, all[0].ID)

	_, err = svc.ListWithdrawals(ctx, "approved")
	assert.ErrorIs(t, err, model.ErrValidationFailed)
}

func TestCashEquivalent(t *testing.T) {
	tests := []struct {
		points int64
		ppu    int64
		want   string
	}{
		{points: 1000, ppu: 1000, want: "1.00"},
		{points: 1234, ppu: 1000, want: "1.23"},
		{points: 1235, ppu: 1000, want: "1.24"},
		{points: 1, ppu: 3, want: "0.33"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := CashEquivalent(tt.points, model.ConversionRate{PointsPerUnit: tt.ppu})
			assert.Equal(t, tt.want, got.StringFixed(2))
		})
	}
}

func TestPaymentMethods(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, repository.NewMemoryRepository())
	seedPayPal(t, svc)

	_, err := svc.UpsertPaymentMethod(ctx, model.PaymentMethod{ID: " Card ", Label: "Bank card"})
	require.NoError(t, err)

	all, err := svc.ListPaymentMethods(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "card", all[0].ID)

	enabled, err := svc.ListPaymentMethods(ctx, true)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "paypal", enabled[0].ID)

	require.NoError(t, svc.SetPaymentMethodEnabled(ctx, "card", true))
	assert.ErrorIs(t, svc.SetPaymentMethodEnabled(ctx, "wire", true), model.ErrNotFound)

	_, err = svc.UpsertPaymentMethod(ctx, model.PaymentMethod{ID: "a b", Label: "x"})
	assert.ErrorIs(t, err, model.ErrValidationFailed)
}

func TestNotifications(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	svc, clock := newTestService(t, repo)
	id := seedUser(t, repo, "quinn@example.com")

	_, err := svc.Emit(ctx, id, model.NotificationInfo, "Welcome", "Hello there")
	require.NoError(t, err)
	clock.Advance(time.Second)
	n, err := svc.Emit(ctx, id, model.NotificationSuccess, "Bonus", "")
	require.NoError(t, err)
	assert.False(t, n.Read)

	_, err = svc.Emit(ctx, id, "warning", "Oops", "")
	assert.ErrorIs(t, err, model.ErrValidationFailed)
	_, err = svc.Emit(ctx, id, model.NotificationInfo, " ", "")
	assert.ErrorIs(t, err, model.ErrValidationFailed)
	_, err = svc.Emit(ctx, id+1, model.NotificationInfo, "Lost", "")
	assert.ErrorIs(t, err, model.ErrNotFound)

	list, err := svc.ListNotifications(ctx, id)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Bonus", list[0].Title)

	unread, err := svc.UnreadCount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, unread)

	marked, err := svc.MarkAllRead(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), marked)

	unread, err = svc.UnreadCount(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, unread)

	marked, err = svc.MarkAllRead(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, marked)
}

func TestRegisterUser(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, repository.NewMemoryRepository())

	u, err := svc.RegisterUser(ctx, " Alice@Example.com ", "Alice", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, model.RoleUser, u.Role)
	assert.Equal(t, int64(100), u.Balance)

	history, err := svc.GetHistory(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.SourceRegistrationBonus, history[0].Source)
	assertLedgerConsistent(t, svc, u.ID)

	_, err = svc.RegisterUser(ctx, "alice@example.com", "Other", "another-pass")
	assert.ErrorIs(t, err, model.ErrUserExists)
	assert.ErrorIs(t, err, model.ErrValidationFailed)

	admin, err := svc.RegisterUser(ctx, "ADMIN@example.com", "Admin", "admin-pass")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, admin.Role)

	_, err = svc.RegisterUser(ctx, "not-an-email", "Bob", "password1")
	assert.ErrorIs(t, err, model.ErrValidationFailed)
	_, err = svc.RegisterUser(ctx, "bob@example.com", "", "password1")
	assert.ErrorIs(t, err, model.ErrValidationFailed)
	_, err = svc.RegisterUser(ctx, "bob@example.com", "Bob", "short")
	assert.ErrorIs(t, err, model.ErrValidationFailed)
}

func TestAuthenticateUser(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, repository.NewMemoryRepository())

	u, err := svc.RegisterUser(ctx, "rita@example.com", "Rita", "secret-pass")
	require.NoError(t, err)

	got, err := svc.AuthenticateUser(ctx, "RITA@example.com", "secret-pass")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = svc.AuthenticateUser(ctx, "rita@example.com", "wrong-pass")
	assert.ErrorIs(t, err, model.ErrInvalidCredentials)
	_, err = svc.AuthenticateUser(ctx, "nobody@example.com", "secret-pass")
	assert.ErrorIs(t, err, model.ErrInvalidCredentials)

	require.NoError(t, svc.SetUserStatus(ctx, u.ID, model.UserStatusSuspended))
	_, err = svc.AuthenticateUser(ctx, "rita@example.com", "secret-pass")
	assert.ErrorIs(t, err, model.ErrAccountSuspended)

	assert.ErrorIs(t, svc.SetUserStatus(ctx, u.ID, "banned"), model.ErrValidationFailed)
}

func TestDeleteUser_RemovesEverything(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	svc, _ := newTestService(t, repo)
	seedPayPal(t, svc)
	id := seedUser(t, repo, "sam@example.com")
	other := seedUser(t, repo, "tina@example.com")

	task, err := svc.CreateTask(ctx, model.Task{Name: "Daily Login", Points: 1500, Enabled: true})
	require.NoError(t, err)
	_, err = svc.ClaimTask(ctx, id, task.ID)
	require.NoError(t, err)
	_, err = svc.ClaimTask(ctx, other, task.ID)
	require.NoError(t, err)
	_, err = svc.RequestWithdrawal(ctx, id, 1000, "paypal", "sam@example.com")
	require.NoError(t, err)

	summary, err := svc.DeleteUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, &model.DeletionSummary{
		UserID:          id,
		Withdrawals:     1,
		Transactions:    2,
		Notifications:   1,
		TaskCompletions: 1,
	}, summary)

	_, err = svc.GetUser(ctx, id)
	assert.ErrorIs(t, err, model.ErrUserNotFound)
	withdrawals, err := svc.ListUserWithdrawals(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, withdrawals)

	_, err = svc.DeleteUser(ctx, id)
	assert.ErrorIs(t, err, model.ErrNotFound)

	balance, err := svc.GetBalance(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), balance)
}

func TestDeleteUser_FailureLeavesDataIntact(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	failing := &failingStore{Store: repo}
	svc, _ := newTestService(t, failing)
	seedPayPal(t, svc)
	id := seedUser(t, repo, "uma@example.com")

	task, err := svc.CreateTask(ctx, model.Task{Name: "Daily Login", Points: 1500, Enabled: true})
	require.NoError(t, err)
	_, err = svc.ClaimTask(ctx, id, task.ID)
	require.NoError(t, err)
	_, err = svc.RequestWithdrawal(ctx, id, 1000, "paypal", "uma@example.com")
	require.NoError(t, err)

	failing.failDeleteNotifications = true
	_, err = svc.DeleteUser(ctx, id)
	require.ErrorIs(t, err, errInjected)

	u, err := svc.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(500), u.Balance)

	withdrawals, err := svc.ListUserWithdrawals(ctx, id)
	require.NoError(t, err)
	assert.Len(t, withdrawals, 1)

	history, err := svc.GetHistory(ctx, id)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	notes, err := svc.ListNotifications(ctx, id)
	require.NoError(t, err)
	assert.Len(t, notes, 1)

	statuses, err := svc.TaskStatuses(ctx, id)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].Claimable)
}

func TestListUsers(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	svc, _ := newTestService(t, repo)
	seedUser(t, repo, "vera@example.com")
	seedUser(t, repo, "walt@example.com")

	users, err := svc.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestSeedPaymentMethods(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, repository.NewMemoryRepository())

	require.NoError(t, svc.SeedPaymentMethods(ctx, DefaultPaymentMethods))
	require.NoError(t, svc.SetPaymentMethodEnabled(ctx, "card", false))
	require.NoError(t, svc.SeedPaymentMethods(ctx, DefaultPaymentMethods))

	methods, err := svc.ListPaymentMethods(ctx, true)
	require.NoError(t, err)
	require.Len(t, methods, 1)
	assert.Equal(t, "paypal", methods[0].ID)
}

func TestRequestWithdrawal_FailureLeavesNoTrace(t *testing.T) {
	tests := []struct {
		name  string
		store func(repository.Store) *failingStore
	}{
		{
			name: "history write fails",
			store: func(s repository.Store) *failingStore {
				return &failingStore{Store: s, failInsertPointTransaction: true}
			},
		},
		{
			name: "withdrawal write fails",
			store: func(s repository.Store) *failingStore {
				return &failingStore{Store: s, failInsertWithdrawal: true}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			mem := repository.NewMemoryRepository()
			healthy, _ := newTestService(t, mem)
			seedPayPal(t, healthy)
			id := seedUser(t, mem, "nina@example.com")

			_, err := healthy.ApplyDelta(ctx, id, 1200, "Quiz", "")
			require.NoError(t, err)

			svc, _ := newTestService(t, tt.store(mem))
			_, err = svc.RequestWithdrawal(ctx, id, 1000, "paypal", "nina@example.com")
			require.ErrorIs(t, err, errInjected)

			withdrawals, err := healthy.ListUserWithdrawals(ctx, id)
			require.NoError(t, err)
			assert.Empty(t, withdrawals)

			balance, err := healthy.GetBalance(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, int64(1200), balance)

			history, err := healthy.GetHistory(ctx, id)
			require.NoError(t, err)
			assert.Len(t, history, 1)
			assertLedgerConsistent(t, healthy, id)
		})
	}
}

func TestClaimTask_ConcurrentClaimsAwardOnce(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	svc, _ := newTestService(t, repo)
	id := seedUser(t, repo, "oscar@example.com")

	task, err := svc.CreateTask(ctx, model.Task{Name: "Daily Login", Points: 20, Enabled: true})
	require.NoError(t, err)

	const workers = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		awarded int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.ClaimTask(ctx, id, task.ID)
			if !assert.NoError(t, err) {
				return
			}
			if res.Awarded {
				mu.Lock()
				awarded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, awarded)

	balance, err := svc.GetBalance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(20), balance)
	assertLedgerConsistent(t, svc, id)
}

func TestResolveWithdrawal_ConcurrentRejectsRefundOnce(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	svc, _ := newTestService(t, repo)
	seedPayPal(t, svc)
	id := seedUser(t, repo, "pat@example.com")

	_, err := svc.ApplyDelta(ctx, id, 1200, "Quiz", "")
	require.NoError(t, err)
	w, err := svc.RequestWithdrawal(ctx, id, 1000, "paypal", "pat@example.com")
	require.NoError(t, err)

	const workers = 50
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		resolved int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ResolveWithdrawal(ctx, w.ID, model.WithdrawalStatusRejected)
			if err == nil {
				mu.Lock()
				resolved++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, model.ErrInvalidTransition)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, resolved)

	balance, err := svc.GetBalance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), balance)

	history, err := svc.GetHistory(ctx, id)
	require.NoError(t, err)
	assert.Len(t, history, 3)
	assertLedgerConsistent(t, svc, id)

	notes, err := svc.ListNotifications(ctx, id)
	require.NoError(t, err)
	assert.Len(t, notes, 1)
}

func TestDeleteUser_LogsSummary(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	svc, _ := newTestService(t, repo)
	core, logs := observer.New(zapcore.InfoLevel)
	svc.logger = zap.New(core)

	id := seedUser(t, repo, "vic@example.com")
	_, err := svc.ApplyDelta(ctx, id, 30, "Quiz", "")
	require.NoError(t, err)

	_, err = svc.DeleteUser(ctx, id)
	require.NoError(t, err)

	entries := logs.FilterMessage("user deleted").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, id, fields["userID"])
	assert.Equal(t, int64(1), fields["transactions"])
	assert.Equal(t, int64(0), fields["withdrawals"])
}
