package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/rewards-portal/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
// Экземпляр, полученный внутри Atomic, выполняет запросы в открытой транзакции.
type PostgresRepository struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

var _ Store = (*PostgresRepository)(nil)

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool, q: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

var retryDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(retryDelays) {
			break
		}

		timer := time.NewTimer(retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var unknown *commitOutcomeUnknownError
	if errors.As(err, &unknown) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Atomic выполняет fn в транзакции. Вложенный вызов переиспользует текущую транзакцию.
// Транзакция целиком повторяется при сериализационных конфликтах и обрыве соединения
// до COMMIT. Обрыв во время COMMIT возвращается без повтора.
func (r *PostgresRepository) Atomic(ctx context.Context, fn func(tx Store) error) error {
	if r.inTx {
		return fn(r)
	}

	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return unavailable("begin tx", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(&PostgresRepository{pool: r.pool, q: tx, inTx: true}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return commitFailure(err)
		}
		return nil
	})
}

// commitOutcomeUnknownError означает, что соединение оборвалось во время COMMIT
// и сервер мог зафиксировать транзакцию. Такую транзакцию повторять нельзя.
type commitOutcomeUnknownError struct {
	err error
}

func (e *commitOutcomeUnknownError) Error() string { return "commit outcome unknown: " + e.err.Error() }

func (e *commitOutcomeUnknownError) Unwrap() error { return e.err }

// commitFailure классифицирует ошибку COMMIT. Ответ сервера (PgError) означает откат,
// поэтому сериализационный конфликт можно повторить; остальное помечается как неизвестный исход.
func commitFailure(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return unavailable("commit tx", err)
	}
	return unavailable("commit tx", &commitOutcomeUnknownError{err: err})
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	if !r.inTx {
		r.pool.Close()
	}
	return nil
}

const userColumns = `id, email, display_name, password_hash, role, balance, status, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u      model.User
		role   string
		status string
	)
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &role, &u.Balance, &status, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	u.Status = model.UserStatus(status)
	return &u, nil
}

// CreateUser создаёт нового пользователя с нулевым балансом.
func (r *PostgresRepository) CreateUser(ctx context.Context, u *model.User) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx,
		`INSERT INTO users (email, display_name, password_hash, role, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		u.Email, u.DisplayName, u.PasswordHash, string(u.Role), string(u.Status), u.CreatedAt,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", model.ErrUserExists, u.Email)
		}
		return 0, unavailable("create user", err)
	}
	return id, nil
}

// GetUser возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// LockUser возвращает пользователя, блокируя его строку до конца транзакции.
// Все изменения баланса одного пользователя проходят через эту блокировку.
func (r *PostgresRepository) LockUser(ctx context.Context, id int64) (*model.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
}

// GetUserByEmail возвращает пользователя по email без учёта регистра.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)
}

func (r *PostgresRepository) getUser(ctx context.Context, query string, arg any) (*model.User, error) {
	u, err := scanUser(r.q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrUserNotFound
		}
		return nil, unavailable("get user", err)
	}
	return u, nil
}

// ListUsers возвращает всех пользователей, новые первыми.
func (r *PostgresRepository) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := r.q.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, unavailable("select users", err)
	}
	defer rows.Close()

	var res []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, unavailable("scan user", err)
		}
		res = append(res, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("rows error", err)
	}
	return res, nil
}

// SetUserStatus меняет статус учётной записи.
func (r *PostgresRepository) SetUserStatus(ctx context.Context, id int64, status model.UserStatus) error {
	tag, err := r.q.Exec(ctx, `UPDATE users SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return unavailable("update user status", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

// IncrementBalance атомарно прибавляет delta к балансу и возвращает новое значение.
// Баланс не может стать отрицательным.
func (r *PostgresRepository) IncrementBalance(ctx context.Context, id int64, delta int64) (int64, error) {
	var balance int64
	err := r.q.QueryRow(ctx,
		`UPDATE users SET balance = balance + $2 WHERE id = $1 AND balance + $2 >= 0 RETURNING balance`,
		id, delta,
	).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, unavailable("increment balance", err)
	}

	var exists bool
	if err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return 0, unavailable("check user", err)
	}
	if !exists {
		return 0, model.ErrUserNotFound
	}
	return 0, model.ErrInsufficientBalance
}

// DeleteUser удаляет запись пользователя. Дочерние записи должны быть удалены до этого.
func (r *PostgresRepository) DeleteUser(ctx context.Context, id int64) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return unavailable("delete user", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

// InsertPointTransaction добавляет запись в историю баллов.
func (r *PostgresRepository) InsertPointTransaction(ctx context.Context, t *model.PointTransaction) error {
	err := r.q.QueryRow(ctx,
		`INSERT INTO point_history (user_id, source, reference, delta, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		t.UserID, t.Source, t.Reference, t.Delta, t.CreatedAt,
	).Scan(&t.ID)
	if err != nil {
		return unavailable("insert point transaction", err)
	}
	return nil
}

// ListPointTransactions возвращает историю баллов пользователя, новые первыми.
func (r *PostgresRepository) ListPointTransactions(ctx context.Context, userID int64) ([]model.PointTransaction, error) {
	rows, err := r.q.Query(ctx,
		`SELECT id, user_id, source, reference, delta, created_at
		 FROM point_history
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, unavailable("select point history", err)
	}
	defer rows.Close()

	var res []model.PointTransaction
	for rows.Next() {
		var t model.PointTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Source, &t.Reference, &t.Delta, &t.CreatedAt); err != nil {
			return nil, unavailable("scan point transaction", err)
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("rows error", err)
	}
	return res, nil
}

// DeletePointTransactions удаляет историю баллов пользователя.
func (r *PostgresRepository) DeletePointTransactions(ctx context.Context, userID int64) (int64, error) {
	return r.deleteByUser(ctx, `DELETE FROM point_history WHERE user_id = $1`, userID)
}

func (r *PostgresRepository) deleteByUser(ctx context.Context, query string, userID int64) (int64, error) {
	tag, err := r.q.Exec(ctx, query, userID)
	if err != nil {
		return 0, unavailable("delete user records", err)
	}
	return tag.RowsAffected(), nil
}

const taskColumns = `id, name, description, points, reward_choices, cooldown_seconds, enabled, created_at`

func scanTask(row pgx.Row) (*model.Task, error) {
	var (
		t        model.Task
		cooldown int64
	)
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Points, &t.RewardChoices, &cooldown, &t.Enabled, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Cooldown = time.Duration(cooldown) * time.Second
	return &t, nil
}

// CreateTask сохраняет новое задание и заполняет его идентификатор.
func (r *PostgresRepository) CreateTask(ctx context.Context, t *model.Task) error {
	choices := t.RewardChoices
	if choices == nil {
		choices = []int64{}
	}
	err := r.q.QueryRow(ctx,
		`INSERT INTO tasks (name, description, points, reward_choices, cooldown_seconds, enabled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		t.Name, t.Description, t.Points, choices, int64(t.Cooldown/time.Second), t.Enabled, t.CreatedAt,
	).Scan(&t.ID)
	if err != nil {
		return unavailable("insert task", err)
	}
	return nil
}

// GetTask возвращает задание по идентификатору.
func (r *PostgresRepository) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	t, err := scanTask(r.q.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrTaskNotFound
		}
		return nil, unavailable("get task", err)
	}
	return t, nil
}

// ListTasks возвращает все задания в порядке создания.
func (r *PostgresRepository) ListTasks(ctx context.Context) ([]model.Task, error) {
	rows, err := r.q.Query(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY id`)
	if err != nil {
		return nil, unavailable("select tasks", err)
	}
	defer rows.Close()

	var res []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, unavailable("scan task", err)
		}
		res = append(res, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("rows error", err)
	}
	return res, nil
}

// SetTaskEnabled включает или выключает задание.
func (r *PostgresRepository) SetTaskEnabled(ctx context.Context, id int64, enabled bool) error {
	tag, err := r.q.Exec(ctx, `UPDATE tasks SET enabled = $2 WHERE id = $1`, id, enabled)
	if err != nil {
		return unavailable("update task", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrTaskNotFound
	}
	return nil
}

// GetTaskCompletion возвращает запись о выполнении задания; второй результат false, если записи нет.
func (r *PostgresRepository) GetTaskCompletion(ctx context.Context, userID, taskID int64) (*model.TaskCompletion, bool, error) {
	query := `SELECT user_id, task_id, count, window_start, last_points
		 FROM task_completions WHERE user_id = $1 AND task_id = $2`
	if r.inTx {
		query += ` FOR UPDATE`
	}

	var c model.TaskCompletion
	err := r.q.QueryRow(ctx, query, userID, taskID).Scan(&c.UserID, &c.TaskID, &c.Count, &c.WindowStart, &c.LastPoints)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, unavailable("get task completion", err)
	}
	return &c, true, nil
}

// ListTaskCompletions возвращает записи о выполнении заданий пользователем.
func (r *PostgresRepository) ListTaskCompletions(ctx context.Context, userID int64) ([]model.TaskCompletion, error) {
	rows, err := r.q.Query(ctx,
		`SELECT user_id, task_id, count, window_start, last_points
		 FROM task_completions WHERE user_id = $1 ORDER BY task_id`,
		userID,
	)
	if err != nil {
		return nil, unavailable("select task completions", err)
	}
	defer rows.Close()

	var res []model.TaskCompletion
	for rows.Next() {
		var c model.TaskCompletion
		if err := rows.Scan(&c.UserID, &c.TaskID, &c.Count, &c.WindowStart, &c.LastPoints); err != nil {
			return nil, unavailable("scan task completion", err)
		}
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("rows error", err)
	}
	return res, nil
}

// SaveTaskCompletion создаёт или перезаписывает запись для пары пользователь/задание.
func (r *PostgresRepository) SaveTaskCompletion(ctx context.Context, c *model.TaskCompletion) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO task_completions (user_id, task_id, count, window_start, last_points)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, task_id) DO UPDATE
		 SET count = EXCLUDED.count, window_start = EXCLUDED.window_start, last_points = EXCLUDED.last_points`,
		c.UserID, c.TaskID, c.Count, c.WindowStart, c.LastPoints,
	)
	if err != nil {
		return unavailable("save task completion", err)
	}
	return nil
}

// DeleteTaskCompletions удаляет все записи о выполнении заданий пользователем.
func (r *PostgresRepository) DeleteTaskCompletions(ctx context.Context, userID int64) (int64, error) {
	return r.deleteByUser(ctx, `DELETE FROM task_completions WHERE user_id = $1`, userID)
}

const withdrawalColumns = `id, user_id, points, cash_cents, currency, rate_version, points_per_unit,
	method, details, status, created_at, resolved_at`

func scanWithdrawal(row pgx.Row) (*model.Withdrawal, error) {
	var (
		w         model.Withdrawal
		cashCents int64
		status    string
	)
	err := row.Scan(&w.ID, &w.UserID, &w.Points, &cashCents, &w.Currency, &w.RateVersion, &w.PointsPerUnit,
		&w.Method, &w.Details, &status, &w.CreatedAt, &w.ResolvedAt)
	if err != nil {
		return nil, err
	}
	w.CashAmount = decimal.New(cashCents, -2)
	w.Status = model.WithdrawalStatus(status)
	return &w, nil
}

// InsertWithdrawal сохраняет заявку на вывод. Сумма хранится в центах.
func (r *PostgresRepository) InsertWithdrawal(ctx context.Context, w *model.Withdrawal) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO withdrawals (id, user_id, points, cash_cents, currency, rate_version, points_per_unit,
		 method, details, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		w.ID, w.UserID, w.Points, w.CashAmount.Shift(2).IntPart(), w.Currency, w.RateVersion, w.PointsPerUnit,
		w.Method, w.Details, string(w.Status), w.CreatedAt,
	)
	if err != nil {
		return unavailable("insert withdrawal", err)
	}
	return nil
}

// GetWithdrawal возвращает заявку по идентификатору.
func (r *PostgresRepository) GetWithdrawal(ctx context.Context, id string) (*model.Withdrawal, error) {
	return r.getWithdrawal(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id)
}

// LockWithdrawal возвращает заявку, блокируя её строку до конца транзакции.
func (r *PostgresRepository) LockWithdrawal(ctx context.Context, id string) (*model.Withdrawal, error) {
	return r.getWithdrawal(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresRepository) getWithdrawal(ctx context.Context, query, id string) (*model.Withdrawal, error) {
	w, err := scanWithdrawal(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrWithdrawalNotFound
		}
		return nil, unavailable("get withdrawal", err)
	}
	return w, nil
}

// TransitionWithdrawal переводит заявку из статуса from в статус to.
// Если заявка уже не в статусе from, возвращается ErrWithdrawalResolved.
func (r *PostgresRepository) TransitionWithdrawal(ctx context.Context, id string, from, to model.WithdrawalStatus, at time.Time) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE withdrawals SET status = $3, resolved_at = $4 WHERE id = $1 AND status = $2`,
		id, string(from), string(to), at,
	)
	if err != nil {
		return unavailable("update withdrawal", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetWithdrawal(ctx, id); err != nil {
			return err
		}
		return model.ErrWithdrawalResolved
	}
	return nil
}

// ListWithdrawalsByUser возвращает заявки пользователя, новые первыми.
func (r *PostgresRepository) ListWithdrawalsByUser(ctx context.Context, userID int64) ([]model.Withdrawal, error) {
	return r.listWithdrawals(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

// ListWithdrawals возвращает заявки с указанным статусом или все, если статус пуст.
func (r *PostgresRepository) ListWithdrawals(ctx context.Context, status model.WithdrawalStatus) ([]model.Withdrawal, error) {
	if status == "" {
		return r.listWithdrawals(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals ORDER BY created_at DESC`)
	}
	return r.listWithdrawals(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE status = $1 ORDER BY created_at DESC`, string(status))
}

func (r *PostgresRepository) listWithdrawals(ctx context.Context, query string, args ...any) ([]model.Withdrawal, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable("select withdrawals", err)
	}
	defer rows.Close()

	var res []model.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, unavailable("scan withdrawal", err)
		}
		res = append(res, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("rows error", err)
	}
	return res, nil
}

// DeleteWithdrawals удаляет все заявки пользователя.
func (r *PostgresRepository) DeleteWithdrawals(ctx context.Context, userID int64) (int64, error) {
	return r.deleteByUser(ctx, `DELETE FROM withdrawals WHERE user_id = $1`, userID)
}

// InsertNotification сохраняет уведомление.
func (r *PostgresRepository) InsertNotification(ctx context.Context, n *model.Notification) error {
	err := r.q.QueryRow(ctx,
		`INSERT INTO notifications (user_id, type, title, description, read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		n.UserID, string(n.Type), n.Title, n.Description, n.Read, n.CreatedAt,
	).Scan(&n.ID)
	if err != nil {
		return unavailable("insert notification", err)
	}
	return nil
}

// ListNotifications возвращает уведомления пользователя, новые первыми.
func (r *PostgresRepository) ListNotifications(ctx context.Context, userID int64) ([]model.Notification, error) {
	rows, err := r.q.Query(ctx,
		`SELECT id, user_id, type, title, description, read, created_at
		 FROM notifications WHERE user_id = $1 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, unavailable("select notifications", err)
	}
	defer rows.Close()

	var res []model.Notification
	for rows.Next() {
		var (
			n   model.Notification
			typ string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Description, &n.Read, &n.CreatedAt); err != nil {
			return nil, unavailable("scan notification", err)
		}
		n.Type = model.NotificationType(typ)
		res = append(res, n)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("rows error", err)
	}
	return res, nil
}

// MarkNotificationsRead помечает прочитанными все непрочитанные уведомления пользователя одним запросом.
func (r *PostgresRepository) MarkNotificationsRead(ctx context.Context, userID int64) (int64, error) {
	tag, err := r.q.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE user_id = $1 AND NOT read`, userID)
	if err != nil {
		return 0, unavailable("mark notifications read", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteNotifications удаляет все уведомления пользователя.
func (r *PostgresRepository) DeleteNotifications(ctx context.Context, userID int64) (int64, error) {
	return r.deleteByUser(ctx, `DELETE FROM notifications WHERE user_id = $1`, userID)
}

// GetPaymentMethod возвращает способ выплаты по идентификатору.
func (r *PostgresRepository) GetPaymentMethod(ctx context.Context, id string) (*model.PaymentMethod, error) {
	var m model.PaymentMethod
	err := r.q.QueryRow(ctx,
		`SELECT id, label, placeholder, enabled FROM payment_methods WHERE id = $1`, id,
	).Scan(&m.ID, &m.Label, &m.Placeholder, &m.Enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrPaymentMethodNotFound
		}
		return nil, unavailable("get payment method", err)
	}
	return &m, nil
}

// ListPaymentMethods возвращает все способы выплаты.
func (r *PostgresRepository) ListPaymentMethods(ctx context.Context) ([]model.PaymentMethod, error) {
	rows, err := r.q.Query(ctx, `SELECT id, label, placeholder, enabled FROM payment_methods ORDER BY id`)
	if err != nil {
		return nil, unavailable("select payment methods", err)
	}
	defer rows.Close()

	var res []model.PaymentMethod
	for rows.Next() {
		var m model.PaymentMethod
		if err := rows.Scan(&m.ID, &m.Label, &m.Placeholder, &m.Enabled); err != nil {
			return nil, unavailable("scan payment method", err)
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("rows error", err)
	}
	return res, nil
}

// UpsertPaymentMethod создаёт или обновляет способ выплаты.
func (r *PostgresRepository) UpsertPaymentMethod(ctx context.Context, m *model.PaymentMethod) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO payment_methods (id, label, placeholder, enabled) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET label = EXCLUDED.label, placeholder = EXCLUDED.placeholder, enabled = EXCLUDED.enabled`,
		m.ID, m.Label, m.Placeholder, m.Enabled,
	)
	if err != nil {
		return unavailable("upsert payment method", err)
	}
	return nil
}

// SetPaymentMethodEnabled включает или выключает способ выплаты.
func (r *PostgresRepository) SetPaymentMethodEnabled(ctx context.Context, id string, enabled bool) error {
	tag, err := r.q.Exec(ctx, `UPDATE payment_methods SET enabled = $2 WHERE id = $1`, id, enabled)
	if err != nil {
		return unavailable("update payment method", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrPaymentMethodNotFound
	}
	return nil
}

// GetSetting возвращает значение настройки; второй результат false, если она не задана.
func (r *PostgresRepository) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.q.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, unavailable("get setting", err)
	}
	return value, true, nil
}

// SetSetting сохраняет значение настройки.
func (r *PostgresRepository) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	if err != nil {
		return unavailable("set setting", err)
	}
	return nil
}
