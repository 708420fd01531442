// Package service реализует бизнес-логику реферального сервиса MoneyToFlows.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/moneytoflows/internal/metrics"
	"github.com/mmeshcher/moneytoflows/internal/model"
	"github.com/mmeshcher/moneytoflows/internal/repository"
	"github.com/mmeshcher/moneytoflows/internal/validation"
)

var (
	// ErrInvalidCredentials возвращается при неверном логине или пароле.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidRegistration возвращается при пустом логине, пустом или слишком длинном пароле.
	ErrInvalidRegistration = errors.New("invalid registration data")
	// ErrBelowThreshold возвращается, если число покупателей меньше порога вывода.
	ErrBelowThreshold = errors.New("referral threshold not reached")
	// ErrInvalidWithdrawal возвращается при неизвестном операторе или некорректном номере.
	ErrInvalidWithdrawal = errors.New("invalid withdrawal request")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, nu model.NewUser) (*model.User, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	CountReferrals(ctx context.Context, referrerCode string) (int64, error)
	CountBuyers(ctx context.Context, referrerCode string) (int64, error)
	CreatePurchaseClaim(ctx context.Context, userID int64, reference string) (int64, error)
	ListPendingClaims(ctx context.Context) ([]model.PurchaseClaim, error)
	ListClaimsByUser(ctx context.Context, userID int64) ([]model.PurchaseClaim, error)
	ValidatePurchaseClaim(ctx context.Context, claimID int64) (int64, error)
	CreateWithdrawal(ctx context.Context, nw model.NewWithdrawal) (int64, error)
	ListOutstandingWithdrawals(ctx context.Context) ([]model.Withdrawal, error)
	ListWithdrawalsByUser(ctx context.Context, userID int64) ([]model.Withdrawal, error)
	TransitionWithdrawal(ctx context.Context, id int64, to model.WithdrawalStatus) error
}

// Config содержит параметры бизнес-логики.
type Config struct {
	RewardPerReferral decimal.Decimal
	Threshold         int64
	AdminLogin        string
	Providers         []string
	Policy            ReferrerPolicy
	Metrics           *metrics.Metrics
}

// Service содержит бизнес-логику реферального сервиса.
type Service struct {
	repo      Repository
	reward    decimal.Decimal
	threshold int64
	admin     string
	providers []string
	policy    ReferrerPolicy
	metrics   *metrics.Metrics
}

// NewService создаёт новый сервис с указанным репозиторием и параметрами.
func NewService(repo Repository, cfg Config) *Service {
	policy := cfg.Policy
	if policy == nil {
		policy = LenientReferrerPolicy{}
	}

	return &Service{
		repo:      repo,
		reward:    cfg.RewardPerReferral,
		threshold: cfg.Threshold,
		admin:     normalizeLogin(cfg.AdminLogin),
		providers: cfg.Providers,
		policy:    policy,
		metrics:   cfg.Metrics,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Registration содержит данные формы регистрации.
type Registration struct {
	Login        string
	Password     string
	Email        string
	Country      string
	Mobile       string
	Provider     string
	ReferrerCode string
}

// Identity описывает аутентифицированного пользователя.
type Identity struct {
	UserID int64
	Login  string
	Admin  bool
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, reg Registration) (*model.User, error) {
	login := strings.TrimSpace(reg.Login)
	if login == "" || reg.Password == "" {
		return nil, ErrInvalidRegistration
	}

	referrer, err := s.policy.Resolve(ctx, reg.ReferrerCode)
	if err != nil {
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, fmt.Errorf("%w: password too long", ErrInvalidRegistration)
		}
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.repo.CreateUser(ctx, model.NewUser{
		Login:        login,
		PasswordHash: hashed,
		Email:        strings.TrimSpace(reg.Email),
		Country:      strings.TrimSpace(reg.Country),
		Mobile:       strings.TrimSpace(reg.Mobile),
		Provider:     strings.TrimSpace(reg.Provider),
		ReferrerCode: referrer,
	})
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return nil, repository.ErrUserExists
		}
		return nil, err
	}

	s.metrics.UserRegistered()
	return u, nil
}

// AuthenticateUser проверяет логин и пароль пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (*Identity, error) {
	u, err := s.repo.GetUserByLogin(ctx, strings.TrimSpace(login))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return &Identity{UserID: u.ID, Login: u.Login, Admin: s.IsAdmin(u.Login)}, nil
}

// IsAdmin сообщает, является ли логин администраторским. Ведущий '@' и регистр не учитываются.
func (s *Service) IsAdmin(login string) bool {
	return s.admin != "" && normalizeLogin(login) == s.admin
}

func normalizeLogin(login string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(login), "@"))
}

// GetProfile возвращает пользователя по идентификатору.
func (s *Service) GetProfile(ctx context.Context, userID int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, userID)
}

// ListUsers возвращает всех пользователей.
func (s *Service) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.repo.ListUsers(ctx)
}

// Providers возвращает список разрешённых операторов мобильных денег.
func (s *Service) Providers() []string {
	return s.providers
}

// SubmitClaim сохраняет заявленную пользователем покупку.
func (s *Service) SubmitClaim(ctx context.Context, userID int64, reference string) (int64, error) {
	id, err := s.repo.CreatePurchaseClaim(ctx, userID, strings.TrimSpace(reference))
	if err != nil {
		return 0, err
	}

	s.metrics.ClaimSubmitted()
	return id, nil
}

// ListClaimsByUser возвращает покупки пользователя.
func (s *Service) ListClaimsByUser(ctx context.Context, userID int64) ([]model.PurchaseClaim, error) {
	return s.repo.ListClaimsByUser(ctx, userID)
}

// ListPendingClaims возвращает покупки, ожидающие проверки.
func (s *Service) ListPendingClaims(ctx context.Context) ([]model.PurchaseClaim, error) {
	return s.repo.ListPendingClaims(ctx)
}

// ValidateClaim подтверждает покупку и возвращает идентификатор покупателя.
func (s *Service) ValidateClaim(ctx context.Context, claimID int64) (int64, error) {
	userID, err := s.repo.ValidatePurchaseClaim(ctx, claimID)
	if err != nil {
		return 0, err
	}

	s.metrics.ClaimValidated()
	return userID, nil
}

// ComputeReward считает рефералов, покупателей и вознаграждение пользователя.
func (s *Service) ComputeReward(ctx context.Context, userID int64) (*model.Reward, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	referrals, err := s.repo.CountReferrals(ctx, u.ReferralCode)
	if err != nil {
		return nil, err
	}

	buyers, err := s.repo.CountBuyers(ctx, u.ReferralCode)
	if err != nil {
		return nil, err
	}

	return &model.Reward{
		Referrals: referrals,
		Buyers:    buyers,
		Amount:    s.reward.Mul(decimal.NewFromInt(buyers)),
		Threshold: s.threshold,
		Eligible:  buyers >= s.threshold,
	}, nil
}

// MeetsThreshold сообщает, достиг ли пользователь порога вывода. Вычисляется при каждом вызове.
func (s *Service) MeetsThreshold(ctx context.Context, userID int64) (bool, error) {
	buyers, err := s.countBuyers(ctx, userID)
	if err != nil {
		return false, err
	}
	return buyers >= s.threshold, nil
}

func (s *Service) countBuyers(ctx context.Context, userID int64) (int64, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	return s.repo.CountBuyers(ctx, u.ReferralCode)
}

// RequestWithdrawal создаёт заявку на вывод, если пользователь достиг порога.
func (s *Service) RequestWithdrawal(ctx context.Context, userID int64, provider, mobileNumber string) (int64, error) {
	// Порог проверяется до разбора полей заявки.
	buyers, err := s.countBuyers(ctx, userID)
	if err != nil {
		return 0, err
	}
	if buyers < s.threshold {
		return 0, fmt.Errorf("%w: %d of %d buyers", ErrBelowThreshold, buyers, s.threshold)
	}

	canonical, ok := s.canonicalProvider(provider)
	if !ok {
		return 0, fmt.Errorf("%w: unknown provider %q", ErrInvalidWithdrawal, provider)
	}
	if !validation.IsValidMobileNumber(mobileNumber) {
		return 0, fmt.Errorf("%w: invalid mobile number", ErrInvalidWithdrawal)
	}

	id, err := s.repo.CreateWithdrawal(ctx, model.NewWithdrawal{
		UserID:       userID,
		Provider:     canonical,
		MobileNumber: strings.TrimSpace(mobileNumber),
	})
	if err != nil {
		return 0, err
	}

	s.metrics.Withdrawal(string(model.WithdrawalStatusPending))
	return id, nil
}

func (s *Service) canonicalProvider(provider string) (string, bool) {
	if !validation.IsKnownProvider(provider, s.providers) {
		return "", false
	}

	provider = strings.TrimSpace(provider)
	for _, p := range s.providers {
		if strings.EqualFold(p, provider) {
			return p, true
		}
	}
	return provider, true
}

// ListOutstanding возвращает заявки на вывод, ещё не подтверждённые администратором.
func (s *Service) ListOutstanding(ctx context.Context) ([]model.Withdrawal, error) {
	return s.repo.ListOutstandingWithdrawals(ctx)
}

// ListWithdrawalsByUser возвращает историю заявок пользователя.
func (s *Service) ListWithdrawalsByUser(ctx context.Context, userID int64) ([]model.Withdrawal, error) {
	return s.repo.ListWithdrawalsByUser(ctx, userID)
}

// ApproveWithdrawal подтверждает заявку на вывод.
func (s *Service) ApproveWithdrawal(ctx context.Context, id int64) error {
	return s.transition(ctx, id, model.WithdrawalStatusValidated)
}

// RefuseWithdrawal отклоняет заявку на вывод.
func (s *Service) RefuseWithdrawal(ctx context.Context, id int64) error {
	return s.transition(ctx, id, model.WithdrawalStatusRefused)
}

func (s *Service) transition(ctx context.Context, id int64, to model.WithdrawalStatus) error {
	if err := s.repo.TransitionWithdrawal(ctx, id, to); err != nil {
		return err
	}

	s.metrics.Withdrawal(string(to))
	return nil
}
