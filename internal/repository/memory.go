package repository

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mmeshcher/rewards-portal/internal/model"
)

type completionKey struct {
	userID int64
	taskID int64
}

type memState struct {
	users         map[int64]model.User
	transactions  []model.PointTransaction
	tasks         map[int64]model.Task
	completions   map[completionKey]model.TaskCompletion
	withdrawals   map[string]model.Withdrawal
	notifications []model.Notification
	methods       map[string]model.PaymentMethod
	settings      map[string]string

	nextUserID         int64
	nextTransactionID  int64
	nextTaskID         int64
	nextNotificationID int64
}

func (s *memState) clone() *memState {
	c := *s
	c.users = maps.Clone(s.users)
	c.transactions = slices.Clone(s.transactions)
	c.tasks = maps.Clone(s.tasks)
	c.completions = maps.Clone(s.completions)
	c.withdrawals = maps.Clone(s.withdrawals)
	c.notifications = slices.Clone(s.notifications)
	c.methods = maps.Clone(s.methods)
	c.settings = maps.Clone(s.settings)
	return &c
}

// MemoryRepository хранит данные в памяти процесса. Все записи выполняются под одним мьютексом,
// Atomic делает снимок состояния и восстанавливает его, если fn вернула ошибку.
type MemoryRepository struct {
	mu   *sync.Mutex
	st   **memState
	inTx bool
}

var _ Store = (*MemoryRepository)(nil)

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	st := &memState{
		users:       make(map[int64]model.User),
		tasks:       make(map[int64]model.Task),
		completions: make(map[completionKey]model.TaskCompletion),
		withdrawals: make(map[string]model.Withdrawal),
		methods:     make(map[string]model.PaymentMethod),
		settings:    make(map[string]string),
	}
	return &MemoryRepository{mu: &sync.Mutex{}, st: &st}
}

func (r *MemoryRepository) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

func (r *MemoryRepository) state() *memState {
	return *r.st
}

// Atomic выполняет fn под эксклюзивной блокировкой хранилища.
func (r *MemoryRepository) Atomic(ctx context.Context, fn func(tx Store) error) error {
	if r.inTx {
		return fn(r)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := r.state().clone()
	if err := fn(&MemoryRepository{mu: r.mu, st: r.st, inTx: true}); err != nil {
		*r.st = snapshot
		return err
	}
	return nil
}

// Close ничего не делает.
func (r *MemoryRepository) Close() error {
	return nil
}

// CreateUser создаёт нового пользователя с нулевым балансом.
func (r *MemoryRepository) CreateUser(_ context.Context, u *model.User) (int64, error) {
	defer r.lock()()
	s := r.state()

	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return 0, model.ErrUserExists
		}
	}

	s.nextUserID++
	stored := *u
	stored.ID = s.nextUserID
	stored.Balance = 0
	s.users[stored.ID] = stored
	return stored.ID, nil
}

// GetUser возвращает пользователя по идентификатору.
func (r *MemoryRepository) GetUser(_ context.Context, id int64) (*model.User, error) {
	defer r.lock()()
	u, ok := r.state().users[id]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	return &u, nil
}

// LockUser в памяти эквивалентен GetUser: записи и так сериализованы.
func (r *MemoryRepository) LockUser(ctx context.Context, id int64) (*model.User, error) {
	return r.GetUser(ctx, id)
}

// GetUserByEmail возвращает пользователя по email без учёта регистра.
func (r *MemoryRepository) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	defer r.lock()()
	for _, u := range r.state().users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, model.ErrUserNotFound
}

// ListUsers возвращает всех пользователей, новые первыми.
func (r *MemoryRepository) ListUsers(_ context.Context) ([]model.User, error) {
	defer r.lock()()
	res := slices.Collect(maps.Values(r.state().users))
	slices.SortFunc(res, func(a, b model.User) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return res, nil
}

// SetUserStatus меняет статус учётной записи.
func (r *MemoryRepository) SetUserStatus(_ context.Context, id int64, status model.UserStatus) error {
	defer r.lock()()
	s := r.state()
	u, ok := s.users[id]
	if !ok {
		return model.ErrUserNotFound
	}
	u.Status = status
	s.users[id] = u
	return nil
}

// IncrementBalance прибавляет delta к балансу. Баланс не может стать отрицательным.
func (r *MemoryRepository) IncrementBalance(_ context.Context, id int64, delta int64) (int64, error) {
	defer r.lock()()
	s := r.state()
	u, ok := s.users[id]
	if !ok {
		return 0, model.ErrUserNotFound
	}
	if u.Balance+delta < 0 {
		return 0, model.ErrInsufficientBalance
	}
	u.Balance += delta
	s.users[id] = u
	return u.Balance, nil
}

// DeleteUser удаляет запись пользователя.
func (r *MemoryRepository) DeleteUser(_ context.Context, id int64) error {
	defer r.lock()()
	s := r.state()
	if _, ok := s.users[id]; !ok {
		return model.ErrUserNotFound
	}
	delete(s.users, id)
	return nil
}

// InsertPointTransaction добавляет запись в историю баллов.
func (r *MemoryRepository) InsertPointTransaction(_ context.Context, t *model.PointTransaction) error {
	defer r.lock()()
	s := r.state()
	s.nextTransactionID++
	t.ID = s.nextTransactionID
	s.transactions = append(s.transactions, *t)
	return nil
}

// ListPointTransactions возвращает историю баллов пользователя, новые первыми.
func (r *MemoryRepository) ListPointTransactions(_ context.Context, userID int64) ([]model.PointTransaction, error) {
	defer r.lock()()
	var res []model.PointTransaction
	for _, t := range slices.Backward(r.state().transactions) {
		if t.UserID == userID {
			res = append(res, t)
		}
	}
	slices.SortStableFunc(res, func(a, b model.PointTransaction) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return res, nil
}

// DeletePointTransactions удаляет историю баллов пользователя.
func (r *MemoryRepository) DeletePointTransactions(_ context.Context, userID int64) (int64, error) {
	defer r.lock()()
	s := r.state()
	before := len(s.transactions)
	s.transactions = slices.DeleteFunc(s.transactions, func(t model.PointTransaction) bool {
		return t.UserID == userID
	})
	return int64(before - len(s.transactions)), nil
}

// CreateTask сохраняет новое задание и заполняет его идентификатор.
func (r *MemoryRepository) CreateTask(_ context.Context, t *model.Task) error {
	defer r.lock()()
	s := r.state()
	s.nextTaskID++
	t.ID = s.nextTaskID
	stored := *t
	stored.RewardChoices = slices.Clone(t.RewardChoices)
	s.tasks[t.ID] = stored
	return nil
}

// GetTask возвращает задание по идентификатору.
func (r *MemoryRepository) GetTask(_ context.Context, id int64) (*model.Task, error) {
	defer r.lock()()
	t, ok := r.state().tasks[id]
	if !ok {
		return nil, model.ErrTaskNotFound
	}
	return &t, nil
}

// ListTasks возвращает все задания в порядке создания.
func (r *MemoryRepository) ListTasks(_ context.Context) ([]model.Task, error) {
	defer r.lock()()
	res := slices.Collect(maps.Values(r.state().tasks))
	slices.SortFunc(res, func(a, b model.Task) int { return cmp.Compare(a.ID, b.ID) })
	return res, nil
}

// SetTaskEnabled включает или выключает задание.
func (r *MemoryRepository) SetTaskEnabled(_ context.Context, id int64, enabled bool) error {
	defer r.lock()()
	s := r.state()
	t, ok := s.tasks[id]
	if !ok {
		return model.ErrTaskNotFound
	}
	t.Enabled = enabled
	s.tasks[id] = t
	return nil
}

// GetTaskCompletion возвращает запись о выполнении задания; второй результат false, если записи нет.
func (r *MemoryRepository) GetTaskCompletion(_ context.Context, userID, taskID int64) (*model.TaskCompletion, bool, error) {
	defer r.lock()()
	c, ok := r.state().completions[completionKey{userID: userID, taskID: taskID}]
	if !ok {
		return nil, false, nil
	}
	return &c, true, nil
}

// ListTaskCompletions возвращает записи о выполнении заданий пользователем.
func (r *MemoryRepository) ListTaskCompletions(_ context.Context, userID int64) ([]model.TaskCompletion, error) {
	defer r.lock()()
	var res []model.TaskCompletion
	for k, c := range r.state().completions {
		if k.userID == userID {
			res = append(res, c)
		}
	}
	slices.SortFunc(res, func(a, b model.TaskCompletion) int { return cmp.Compare(a.TaskID, b.TaskID) })
	return res, nil
}

// SaveTaskCompletion создаёт или перезаписывает запись для пары пользователь/задание.
func (r *MemoryRepository) SaveTaskCompletion(_ context.Context, c *model.TaskCompletion) error {
	defer r.lock()()
	r.state().completions[completionKey{userID: c.UserID, taskID: c.TaskID}] = *c
	return nil
}

// DeleteTaskCompletions удаляет все записи о выполнении заданий пользователем.
func (r *MemoryRepository) DeleteTaskCompletions(_ context.Context, userID int64) (int64, error) {
	defer r.lock()()
	var n int64
	for k := range r.state().completions {
		if k.userID == userID {
			delete(r.state().completions, k)
			n++
		}
	}
	return n, nil
}

// InsertWithdrawal сохраняет заявку на вывод.
func (r *MemoryRepository) InsertWithdrawal(_ context.Context, w *model.Withdrawal) error {
	defer r.lock()()
	r.state().withdrawals[w.ID] = *w
	return nil
}

// GetWithdrawal возвращает заявку по идентификатору.
func (r *MemoryRepository) GetWithdrawal(_ context.Context, id string) (*model.Withdrawal, error) {
	defer r.lock()()
	w, ok := r.state().withdrawals[id]
	if !ok {
		return nil, model.ErrWithdrawalNotFound
	}
	return &w, nil
}

// LockWithdrawal в памяти эквивалентен GetWithdrawal.
func (r *MemoryRepository) LockWithdrawal(ctx context.Context, id string) (*model.Withdrawal, error) {
	return r.GetWithdrawal(ctx, id)
}

// TransitionWithdrawal переводит заявку из статуса from в статус to.
func (r *MemoryRepository) TransitionWithdrawal(_ context.Context, id string, from, to model.WithdrawalStatus, at time.Time) error {
	defer r.lock()()
	s := r.state()
	w, ok := s.withdrawals[id]
	if !ok {
		return model.ErrWithdrawalNotFound
	}
	if w.Status != from {
		return model.ErrWithdrawalResolved
	}
	w.Status = to
	w.ResolvedAt = &at
	s.withdrawals[id] = w
	return nil
}

// ListWithdrawalsByUser возвращает заявки пользователя, новые первыми.
func (r *MemoryRepository) ListWithdrawalsByUser(_ context.Context, userID int64) ([]model.Withdrawal, error) {
	defer r.lock()()
	return r.filterWithdrawals(func(w model.Withdrawal) bool { return w.UserID == userID }), nil
}

// ListWithdrawals возвращает заявки с указанным статусом или все, если статус пуст.
func (r *MemoryRepository) ListWithdrawals(_ context.Context, status model.WithdrawalStatus) ([]model.Withdrawal, error) {
	defer r.lock()()
	return r.filterWithdrawals(func(w model.Withdrawal) bool { return status == "" || w.Status == status }), nil
}

func (r *MemoryRepository) filterWithdrawals(keep func(model.Withdrawal) bool) []model.Withdrawal {
	var res []model.Withdrawal
	for _, w := range r.state().withdrawals {
		if keep(w) {
			res = append(res, w)
		}
	}
	slices.SortFunc(res, func(a, b model.Withdrawal) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return res
}

// DeleteWithdrawals удаляет все заявки пользователя.
func (r *MemoryRepository) DeleteWithdrawals(_ context.Context, userID int64) (int64, error) {
	defer r.lock()()
	var n int64
	for id, w := range r.state().withdrawals {
		if w.UserID == userID {
			delete(r.state().withdrawals, id)
			n++
		}
	}
	return n, nil
}

// InsertNotification сохраняет уведомление.
func (r *MemoryRepository) InsertNotification(_ context.Context, n *model.Notification) error {
	defer r.lock()()
	s := r.state()
	s.nextNotificationID++
	n.ID = s.nextNotificationID
	s.notifications = append(s.notifications, *n)
	return nil
}

// ListNotifications возвращает уведомления пользователя, новые первыми.
func (r *MemoryRepository) ListNotifications(_ context.Context, userID int64) ([]model.Notification, error) {
	defer r.lock()()
	var res []model.Notification
	for _, n := range slices.Backward(r.state().notifications) {
		if n.UserID == userID {
			res = append(res, n)
		}
	}
	slices.SortStableFunc(res, func(a, b model.Notification) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return res, nil
}

// MarkNotificationsRead помечает прочитанными все непрочитанные уведомления пользователя.
func (r *MemoryRepository) MarkNotificationsRead(_ context.Context, userID int64) (int64, error) {
	defer r.lock()()
	var n int64
	s := r.state()
	for i := range s.notifications {
		if s.notifications[i].UserID == userID && !s.notifications[i].Read {
			s.notifications[i].Read = true
			n++
		}
	}
	return n, nil
}

// DeleteNotifications удаляет все уведомления пользователя.
func (r *MemoryRepository) DeleteNotifications(_ context.Context, userID int64) (int64, error) {
	defer r.lock()()
	s := r.state()
	before := len(s.notifications)
	s.notifications = slices.DeleteFunc(s.notifications, func(n model.Notification) bool {
		return n.UserID == userID
	})
	return int64(before - len(s.notifications)), nil
}

// GetPaymentMethod возвращает способ выплаты по идентификатору.
func (r *MemoryRepository) GetPaymentMethod(_ context.Context, id string) (*model.PaymentMethod, error) {
	defer r.lock()()
	m, ok := r.state().methods[id]
	if !ok {
		return nil, model.ErrPaymentMethodNotFound
	}
	return &m, nil
}

// ListPaymentMethods возвращает все способы выплаты.
func (r *MemoryRepository) ListPaymentMethods(_ context.Context) ([]model.PaymentMethod, error) {
	defer r.lock()()
	res := slices.Collect(maps.Values(r.state().methods))
	slices.SortFunc(res, func(a, b model.PaymentMethod) int { return strings.Compare(a.ID, b.ID) })
	return res, nil
}

// UpsertPaymentMethod создаёт или обновляет способ выплаты.
func (r *MemoryRepository) UpsertPaymentMethod(_ context.Context, m *model.PaymentMethod) error {
	defer r.lock()()
	r.state().methods[m.ID] = *m
	return nil
}

// SetPaymentMethodEnabled включает или выключает способ выплаты.
func (r *MemoryRepository) SetPaymentMethodEnabled(_ context.Context, id string, enabled bool) error {
	defer r.lock()()
	s := r.state()
	m, ok := s.methods[id]
	if !ok {
		return model.ErrPaymentMethodNotFound
	}
	m.Enabled = enabled
	s.methods[id] = m
	return nil
}

// GetSetting возвращает значение настройки; второй результат false, если она не задана.
func (r *MemoryRepository) GetSetting(_ context.Context, key string) (string, bool, error) {
	defer r.lock()()
	v, ok := r.state().settings[key]
	return v, ok, nil
}

// SetSetting сохраняет значение настройки.
func (r *MemoryRepository) SetSetting(_ context.Context, key, value string) error {
	defer r.lock()()
	r.state().settings[key] = value
	return nil
}
