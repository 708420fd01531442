package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/mmeshcher/moneytoflows/internal/model"
)

const (
	pgLoginConstraint        = "users_login_key"
	pgReferralCodeConstraint = "users_referral_code_key"
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
	opts options
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string, opts ...Option) (*PostgresRepository, error) {
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

	r := &PostgresRepository{pool: pool, opts: buildOptions(opts)}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := runMigrations(ctx, db, "postgres", "migrations/postgres"); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(delays) {
			break
		}

		timer := time.NewTimer(delays[i])
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

func isPgUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == constraint
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт пользователя, назначает ему реферальный код и, если указан код пригласившего,
// записывает ребро реферального графа. Всё выполняется в одной транзакции.
func (r *PostgresRepository) CreateUser(ctx context.Context, nu model.NewUser) (*model.User, error) {
	var user *model.User
	err := r.withRetry(ctx, func() error {
		var err error
		user, err = r.createUser(ctx, nu)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *PostgresRepository) createUser(ctx context.Context, nu model.NewUser) (*model.User, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	u := model.User{
		Login:        nu.Login,
		PasswordHash: nu.PasswordHash,
		Email:        nu.Email,
		Country:      nu.Country,
		Mobile:       nu.Mobile,
		Provider:     nu.Provider,
		ReferrerCode: nullableString(nu.ReferrerCode),
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, email, country, mobile, provider, referrer_code)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		u.Login, u.PasswordHash, u.Email, u.Country, u.Mobile, u.Provider, u.ReferrerCode,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if isPgUniqueViolation(err, pgLoginConstraint) {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, nu.Login)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	code, err := r.assignReferralCode(ctx, tx, u.ID)
	if err != nil {
		return nil, err
	}
	u.ReferralCode = code

	if nu.ReferrerCode != "" {
		if err := r.recordReferral(ctx, tx, nu.ReferrerCode, u.ID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &u, nil
}

// assignReferralCode сохраняет сгенерированный код; при коллизии откатывает savepoint и пробует снова.
func (r *PostgresRepository) assignReferralCode(ctx context.Context, tx pgx.Tx, userID int64) (string, error) {
	for attempt := 0; attempt < maxReferralCodeAttempts; attempt++ {
		code, err := r.opts.generateCode(userID)
		if err != nil {
			return "", fmt.Errorf("generate referral code: %w", err)
		}

		sp, err := tx.Begin(ctx)
		if err != nil {
			return "", fmt.Errorf("begin savepoint: %w", err)
		}

		_, err = sp.Exec(ctx, `UPDATE users SET referral_code = $1 WHERE id = $2`, code, userID)
		if err == nil {
			if err := sp.Commit(ctx); err != nil {
				return "", fmt.Errorf("release savepoint: %w", err)
			}
			return code, nil
		}

		_ = sp.Rollback(ctx)
		if !isPgUniqueViolation(err, pgReferralCodeConstraint) {
			return "", fmt.Errorf("set referral code: %w", err)
		}
	}

	return "", fmt.Errorf("%w: gave up after %d attempts for user %d", ErrReferralCodeExists, maxReferralCodeAttempts, userID)
}

func (r *PostgresRepository) recordReferral(ctx context.Context, tx pgx.Tx, referrerCode string, referredUserID int64) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO referrals (referrer_code, referred_user_id) VALUES ($1, $2)`,
		referrerCode, referredUserID,
	)
	if err != nil {
		return fmt.Errorf("insert referral: %w", err)
	}
	return nil
}

const pgUserColumns = `id, login, password_hash, email, country, mobile, provider,
	COALESCE(referral_code, ''), referrer_code, purchases, created_at`

func scanUser(row scanner) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.Email, &u.Country, &u.Mobile, &u.Provider,
		&u.ReferralCode, &u.ReferrerCode, &u.Purchases, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *PostgresRepository) getUser(ctx context.Context, where string, arg any) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+pgUserColumns+` FROM users WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	return r.getUser(ctx, `login = $1`, login)
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return r.getUser(ctx, `id = $1`, id)
}

// GetUserByReferralCode возвращает пользователя по его реферальному коду.
func (r *PostgresRepository) GetUserByReferralCode(ctx context.Context, code string) (*model.User, error) {
	return r.getUser(ctx, `referral_code = $1`, code)
}

// ListUsers возвращает всех пользователей, новые первыми.
func (r *PostgresRepository) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+pgUserColumns+` FROM users ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return users, nil
}

// CountReferrals возвращает число приглашённых по коду пользователей.
func (r *PostgresRepository) CountReferrals(ctx context.Context, referrerCode string) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM referrals WHERE referrer_code = $1`,
		referrerCode,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count referrals: %w", err)
	}
	return n, nil
}

// CountBuyers возвращает число приглашённых по коду пользователей хотя бы с одной подтверждённой покупкой.
func (r *PostgresRepository) CountBuyers(ctx context.Context, referrerCode string) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM referrals r
		 JOIN users u ON u.id = r.referred_user_id
		 WHERE r.referrer_code = $1 AND u.purchases > 0`,
		referrerCode,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count buyers: %w", err)
	}
	return n, nil
}

// CreatePurchaseClaim сохраняет заявленную покупку в статусе «не подтверждена».
func (r *PostgresRepository) CreatePurchaseClaim(ctx context.Context, userID int64, reference string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO purchases (user_id, reference) VALUES ($1, $2) RETURNING id`,
		userID, reference,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert purchase: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) listClaims(ctx context.Context, query string, args ...any) ([]model.PurchaseClaim, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select purchases: %w", err)
	}
	defer rows.Close()

	var res []model.PurchaseClaim
	for rows.Next() {
		var c model.PurchaseClaim
		if err := rows.Scan(&c.ID, &c.UserID, &c.Login, &c.Reference, &c.Validated, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		res = append(res, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListPendingClaims возвращает неподтверждённые покупки вместе с логином покупателя.
func (r *PostgresRepository) ListPendingClaims(ctx context.Context) ([]model.PurchaseClaim, error) {
	return r.listClaims(ctx,
		`SELECT p.id, p.user_id, u.login, p.reference, p.validated, p.created_at
		 FROM purchases p
		 JOIN users u ON u.id = p.user_id
		 WHERE NOT p.validated
		 ORDER BY p.created_at, p.id`,
	)
}

// ListClaimsByUser возвращает покупки пользователя, новые первыми.
func (r *PostgresRepository) ListClaimsByUser(ctx context.Context, userID int64) ([]model.PurchaseClaim, error) {
	return r.listClaims(ctx,
		`SELECT p.id, p.user_id, u.login, p.reference, p.validated, p.created_at
		 FROM purchases p
		 JOIN users u ON u.id = p.user_id
		 WHERE p.user_id = $1
		 ORDER BY p.created_at DESC, p.id DESC`,
		userID,
	)
}

// ValidatePurchaseClaim подтверждает покупку и увеличивает счётчик покупок её автора в одной транзакции.
// Возвращает идентификатор автора покупки.
func (r *PostgresRepository) ValidatePurchaseClaim(ctx context.Context, claimID int64) (int64, error) {
	var userID int64
	err := r.withRetry(ctx, func() error {
		var err error
		userID, err = r.validatePurchaseClaim(ctx, claimID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return userID, nil
}

func (r *PostgresRepository) validatePurchaseClaim(ctx context.Context, claimID int64) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID int64
	err = tx.QueryRow(ctx,
		`UPDATE purchases SET validated = TRUE WHERE id = $1 AND NOT validated RETURNING user_id`,
		claimID,
	).Scan(&userID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("validate purchase: %w", err)
		}

		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM purchases WHERE id = $1)`, claimID).Scan(&exists); err != nil {
			return 0, fmt.Errorf("check purchase: %w", err)
		}
		if exists {
			return 0, ErrClaimAlreadyValidated
		}
		return 0, ErrClaimNotFound
	}

	if err := r.incrementPurchaseCount(ctx, tx, userID); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return userID, nil
}

// incrementPurchaseCount безусловно увеличивает счётчик покупок; идемпотентность обеспечивает вызывающий.
func (r *PostgresRepository) incrementPurchaseCount(ctx context.Context, tx pgx.Tx, userID int64) error {
	tag, err := tx.Exec(ctx, `UPDATE users SET purchases = purchases + 1 WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("increment purchases: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("increment purchases: %w", ErrUserNotFound)
	}
	return nil
}

// CreateWithdrawal создаёт заявку на вывод в статусе pending.
func (r *PostgresRepository) CreateWithdrawal(ctx context.Context, nw model.NewWithdrawal) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO withdrawals (user_id, provider, mobile_number, status) VALUES ($1, $2, $3, $4) RETURNING id`,
		nw.UserID, nw.Provider, nw.MobileNumber, string(model.WithdrawalStatusPending),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert withdrawal: %w", err)
	}
	return id, nil
}

func scanWithdrawal(row scanner) (model.Withdrawal, error) {
	var (
		w      model.Withdrawal
		status string
	)
	if err := row.Scan(&w.ID, &w.UserID, &w.Login, &w.Provider, &w.MobileNumber, &status, &w.CreatedAt); err != nil {
		return w, err
	}
	w.Status = model.WithdrawalStatus(status)
	if !w.Status.IsValid() {
		return w, fmt.Errorf("withdrawal %d: unknown status %q", w.ID, status)
	}
	return w, nil
}

func (r *PostgresRepository) listWithdrawals(ctx context.Context, query string, args ...any) ([]model.Withdrawal, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select withdrawals: %w", err)
	}
	defer rows.Close()

	var res []model.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan withdrawal: %w", err)
		}
		res = append(res, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListOutstandingWithdrawals возвращает заявки в статусе, отличном от validated, вместе с логином автора.
func (r *PostgresRepository) ListOutstandingWithdrawals(ctx context.Context) ([]model.Withdrawal, error) {
	return r.listWithdrawals(ctx,
		`SELECT w.id, w.user_id, u.login, w.provider, w.mobile_number, w.status, w.created_at
		 FROM withdrawals w
		 JOIN users u ON u.id = w.user_id
		 WHERE w.status <> $1
		 ORDER BY w.created_at, w.id`,
		string(model.WithdrawalStatusValidated),
	)
}

// ListWithdrawalsByUser возвращает историю заявок пользователя.
func (r *PostgresRepository) ListWithdrawalsByUser(ctx context.Context, userID int64) ([]model.Withdrawal, error) {
	return r.listWithdrawals(ctx,
		`SELECT w.id, w.user_id, u.login, w.provider, w.mobile_number, w.status, w.created_at
		 FROM withdrawals w
		 JOIN users u ON u.id = w.user_id
		 WHERE w.user_id = $1
		 ORDER BY w.created_at DESC, w.id DESC`,
		userID,
	)
}

// TransitionWithdrawal переводит заявку в статус to. Строка блокируется на время проверки перехода.
func (r *PostgresRepository) TransitionWithdrawal(ctx context.Context, id int64, to model.WithdrawalStatus) error {
	return r.withRetry(ctx, func() error {
		return r.transitionWithdrawal(ctx, id, to)
	})
}

func (r *PostgresRepository) transitionWithdrawal(ctx context.Context, id int64, to model.WithdrawalStatus) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM withdrawals WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrWithdrawalNotFound
		}
		return fmt.Errorf("lock withdrawal: %w", err)
	}

	next, err := model.WithdrawalStatus(current).Transition(to)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `UPDATE withdrawals SET status = $2 WHERE id = $1`, id, string(next)); err != nil {
		return fmt.Errorf("update withdrawal: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}
