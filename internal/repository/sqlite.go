package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mmeshcher/moneytoflows/internal/model"
)

// SQLiteRepository хранит данные во встроенной базе SQLite (локальный запуск, тесты).
type SQLiteRepository struct {
	db   *sql.DB
	opts options
}

// NewSQLiteRepository открывает базу SQLite по пути или DSN и применяет миграции.
func NewSQLiteRepository(dsn string, opts ...Option) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(ctx, db, "sqlite3", "migrations/sqlite"); err != nil {
		db.Close()
		return nil, err
	}

	// SQLite допускает одного писателя: сериализуем доступ на уровне пула.
	db.SetMaxOpenConns(1)

	return newSQLiteRepository(db, opts...), nil
}

func newSQLiteRepository(db *sql.DB, opts ...Option) *SQLiteRepository {
	return &SQLiteRepository{db: db, opts: buildOptions(opts)}
}

func isSQLiteUniqueViolation(err error, column string) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	if sqliteErr.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return false
	}
	msg := sqliteErr.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, column)
}

// Close закрывает базу.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// CreateUser создаёт пользователя, назначает реферальный код и записывает ребро реферального графа
// в одной транзакции.
func (r *SQLiteRepository) CreateUser(ctx context.Context, nu model.NewUser) (*model.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	u := model.User{
		Login:        nu.Login,
		PasswordHash: nu.PasswordHash,
		Email:        nu.Email,
		Country:      nu.Country,
		Mobile:       nu.Mobile,
		Provider:     nu.Provider,
		ReferrerCode: nullableString(nu.ReferrerCode),
		CreatedAt:    time.Now().UTC(),
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO users (login, password_hash, email, country, mobile, provider, referrer_code, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Login, u.PasswordHash, u.Email, u.Country, u.Mobile, u.Provider, u.ReferrerCode, u.CreatedAt,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err, "users.login") {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, nu.Login)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	u.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	code, err := r.assignReferralCode(ctx, tx, u.ID)
	if err != nil {
		return nil, err
	}
	u.ReferralCode = code

	if nu.ReferrerCode != "" {
		if err := r.recordReferral(ctx, tx, nu.ReferrerCode, u.ID, u.CreatedAt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &u, nil
}

func (r *SQLiteRepository) assignReferralCode(ctx context.Context, tx *sql.Tx, userID int64) (string, error) {
	for attempt := 0; attempt < maxReferralCodeAttempts; attempt++ {
		code, err := r.opts.generateCode(userID)
		if err != nil {
			return "", fmt.Errorf("generate referral code: %w", err)
		}

		_, err = tx.ExecContext(ctx, `UPDATE users SET referral_code = ? WHERE id = ?`, code, userID)
		if err == nil {
			return code, nil
		}
		if !isSQLiteUniqueViolation(err, "users.referral_code") {
			return "", fmt.Errorf("set referral code: %w", err)
		}
	}

	return "", fmt.Errorf("%w: gave up after %d attempts for user %d", ErrReferralCodeExists, maxReferralCodeAttempts, userID)
}

func (r *SQLiteRepository) recordReferral(ctx context.Context, tx *sql.Tx, referrerCode string, referredUserID int64, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO referrals (referrer_code, referred_user_id, created_at) VALUES (?, ?, ?)`,
		referrerCode, referredUserID, at,
	)
	if err != nil {
		return fmt.Errorf("insert referral: %w", err)
	}
	return nil
}

const sqliteUserColumns = `id, login, password_hash, email, country, mobile, provider,
	COALESCE(referral_code, ''), referrer_code, purchases, created_at`

func (r *SQLiteRepository) getUser(ctx context.Context, where string, arg any) (*model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+sqliteUserColumns+` FROM users WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *SQLiteRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	return r.getUser(ctx, `login = ?`, login)
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *SQLiteRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return r.getUser(ctx, `id = ?`, id)
}

// GetUserByReferralCode возвращает пользователя по его реферальному коду.
func (r *SQLiteRepository) GetUserByReferralCode(ctx context.Context, code string) (*model.User, error) {
	return r.getUser(ctx, `referral_code = ?`, code)
}

// ListUsers возвращает всех пользователей, новые первыми.
func (r *SQLiteRepository) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sqliteUserColumns+` FROM users ORDER BY created_at DESC, id DESC`)
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
func (r *SQLiteRepository) CountReferrals(ctx context.Context, referrerCode string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM referrals WHERE referrer_code = ?`, referrerCode).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count referrals: %w", err)
	}
	return n, nil
}

// CountBuyers возвращает число приглашённых по коду пользователей хотя бы с одной подтверждённой покупкой.
func (r *SQLiteRepository) CountBuyers(ctx context.Context, referrerCode string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*)
		 FROM referrals r
		 JOIN users u ON u.id = r.referred_user_id
		 WHERE r.referrer_code = ? AND u.purchases > 0`,
		referrerCode,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count buyers: %w", err)
	}
	return n, nil
}

// CreatePurchaseClaim сохраняет заявленную покупку в статусе «не подтверждена».
func (r *SQLiteRepository) CreatePurchaseClaim(ctx context.Context, userID int64, reference string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO purchases (user_id, reference, validated, created_at) VALUES (?, ?, 0, ?)`,
		userID, reference, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert purchase: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) listClaims(ctx context.Context, query string, args ...any) ([]model.PurchaseClaim, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
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
func (r *SQLiteRepository) ListPendingClaims(ctx context.Context) ([]model.PurchaseClaim, error) {
	return r.listClaims(ctx,
		`SELECT p.id, p.user_id, u.login, p.reference, p.validated, p.created_at
		 FROM purchases p
		 JOIN users u ON u.id = p.user_id
		 WHERE p.validated = 0
		 ORDER BY p.created_at, p.id`,
	)
}

// ListClaimsByUser возвращает покупки пользователя, новые первыми.
func (r *SQLiteRepository) ListClaimsByUser(ctx context.Context, userID int64) ([]model.PurchaseClaim, error) {
	return r.listClaims(ctx,
		`SELECT p.id, p.user_id, u.login, p.reference, p.validated, p.created_at
		 FROM purchases p
		 JOIN users u ON u.id = p.user_id
		 WHERE p.user_id = ?
		 ORDER BY p.created_at DESC, p.id DESC`,
		userID,
	)
}

// ValidatePurchaseClaim подтверждает покупку и увеличивает счётчик покупок её автора в одной транзакции.
func (r *SQLiteRepository) ValidatePurchaseClaim(ctx context.Context, claimID int64) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var userID int64
	err = tx.QueryRowContext(ctx,
		`UPDATE purchases SET validated = 1 WHERE id = ? AND validated = 0 RETURNING user_id`,
		claimID,
	).Scan(&userID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("validate purchase: %w", err)
		}

		var n int64
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM purchases WHERE id = ?`, claimID).Scan(&n); err != nil {
			return 0, fmt.Errorf("check purchase: %w", err)
		}
		if n > 0 {
			return 0, ErrClaimAlreadyValidated
		}
		return 0, ErrClaimNotFound
	}

	if err := r.incrementPurchaseCount(ctx, tx, userID); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return userID, nil
}

func (r *SQLiteRepository) incrementPurchaseCount(ctx context.Context, tx *sql.Tx, userID int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE users SET purchases = purchases + 1 WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("increment purchases: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment purchases: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("increment purchases: %w", ErrUserNotFound)
	}
	return nil
}

// CreateWithdrawal создаёт заявку на вывод в статусе pending.
func (r *SQLiteRepository) CreateWithdrawal(ctx context.Context, nw model.NewWithdrawal) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO withdrawals (user_id, provider, mobile_number, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		nw.UserID, nw.Provider, nw.MobileNumber, string(model.WithdrawalStatusPending), time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert withdrawal: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) listWithdrawals(ctx context.Context, query string, args ...any) ([]model.Withdrawal, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
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

// ListOutstandingWithdrawals возвращает заявки в статусе, отличном от validated.
func (r *SQLiteRepository) ListOutstandingWithdrawals(ctx context.Context) ([]model.Withdrawal, error) {
	return r.listWithdrawals(ctx,
		`SELECT w.id, w.user_id, u.login, w.provider, w.mobile_number, w.status, w.created_at
		 FROM withdrawals w
		 JOIN users u ON u.id = w.user_id
		 WHERE w.status <> ?
		 ORDER BY w.created_at, w.id`,
		string(model.WithdrawalStatusValidated),
	)
}

// ListWithdrawalsByUser возвращает историю заявок пользователя.
func (r *SQLiteRepository) ListWithdrawalsByUser(ctx context.Context, userID int64) ([]model.Withdrawal, error) {
	return r.listWithdrawals(ctx,
		`SELECT w.id, w.user_id, u.login, w.provider, w.mobile_number, w.status, w.created_at
		 FROM withdrawals w
		 JOIN users u ON u.id = w.user_id
		 WHERE w.user_id = ?
		 ORDER BY w.created_at DESC, w.id DESC`,
		userID,
	)
}

// TransitionWithdrawal переводит заявку в статус to; обновление условно по прочитанному статусу.
func (r *SQLiteRepository) TransitionWithdrawal(ctx context.Context, id int64, to model.WithdrawalStatus) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM withdrawals WHERE id = ?`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrWithdrawalNotFound
		}
		return fmt.Errorf("select withdrawal: %w", err)
	}

	next, err := model.WithdrawalStatus(current).Transition(to)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE withdrawals SET status = ? WHERE id = ? AND status = ?`,
		string(next), id, current,
	)
	if err != nil {
		return fmt.Errorf("update withdrawal: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update withdrawal: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: withdrawal %d changed concurrently", model.ErrInvalidTransition, id)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}
