// Package config содержит логику чтения конфигурации сервиса MoneyToFlows.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Значения по умолчанию.
const (
	DefaultRunAddress    = "localhost:8080"
	DefaultDatabaseURI   = "moneytoflows.db"
	DefaultAdminUsername = "@RUBENHRM777"
	DefaultRewardPerRef  = "1000"
	DefaultThreshold     = 5
	DefaultProductName   = "Pack Formations Business 2026"
	DefaultAchatLink     = "https://sgzxfbtn.mychariow.shop/prd_8ind83"
	DefaultPolicy        = "lenient"
	DefaultLogLevel      = "info"
)

// DefaultProviders перечисляет операторов мобильных денег, доступных для вывода.
var DefaultProviders = []string{"MTN MoMo", "Airtel Money", "Orange Money", "Moov Money", "Wave"}

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS" yaml:"run_address"`
	DatabaseURI string `env:"DATABASE_URI" yaml:"database_uri"`
	SecretKey   string `env:"SECRET_KEY" yaml:"secret_key"`
	ConfigFile  string `env:"CONFIG_FILE" yaml:"-"`

	AdminUsername string   `env:"ADMIN_USERNAME" yaml:"admin_username"`
	RewardPerRef  string   `env:"REWARD_PER_REF" yaml:"reward_per_ref"`
	Threshold     int64    `env:"SEUIL_RECOMPENSE" yaml:"seuil_recompense"`
	ProductName   string   `env:"PRODUCT_NAME" yaml:"product_name"`
	AchatLink     string   `env:"ACHAT_LINK" yaml:"achat_link"`
	PublicBaseURL string   `env:"PUBLIC_BASE_URL" yaml:"public_base_url"`
	Policy        string   `env:"REFERRAL_POLICY" yaml:"referral_policy"`
	Providers     []string `env:"WITHDRAWAL_PROVIDERS" envSeparator:"," yaml:"withdrawal_providers"`

	RedisAddr     string `env:"REDIS_ADDR" yaml:"redis_addr"`
	RedisPassword string `env:"REDIS_PASSWORD" yaml:"redis_password"`

	LogLevel string `env:"LOG_LEVEL" yaml:"log_level"`
	LogFile  string `env:"LOG_FILE" yaml:"log_file"`

	AuthRateLimit float64 `env:"AUTH_RATE_LIMIT" yaml:"auth_rate_limit"`
	AuthRateBurst int     `env:"AUTH_RATE_BURST" yaml:"auth_rate_burst"`
	TrustProxy    bool    `env:"TRUST_PROXY" yaml:"trust_proxy"`

	reward decimal.Decimal
}

func defaults() *Config {
	return &Config{
		RunAddress:    DefaultRunAddress,
		DatabaseURI:   DefaultDatabaseURI,
		AdminUsername: DefaultAdminUsername,
		RewardPerRef:  DefaultRewardPerRef,
		Threshold:     DefaultThreshold,
		ProductName:   DefaultProductName,
		AchatLink:     DefaultAchatLink,
		Policy:        DefaultPolicy,
		Providers:     append([]string(nil), DefaultProviders...),
		LogLevel:      DefaultLogLevel,
		AuthRateLimit: 5,
		AuthRateBurst: 10,
	}
}

// Parse считывает конфигурацию: значения по умолчанию, YAML-файл, флаги командной строки
// и переменные окружения (в порядке возрастания приоритета). Файл .env загружается, если есть.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var (
		runAddress  string
		databaseURI string
		secretKey   string
		configFile  string
	)

	flag.StringVar(&runAddress, "a", DefaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&databaseURI, "d", DefaultDatabaseURI, "database URI (postgres:// DSN or SQLite file)")
	flag.StringVar(&secretKey, "k", "", "session signing key")
	flag.StringVar(&configFile, "c", "", "path to YAML config file")

	flag.Parse()

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		configFile = path
	}
	if configFile != "" {
		if err := cfg.loadFile(configFile); err != nil {
			return nil, err
		}
		cfg.ConfigFile = configFile
	}

	if set["a"] {
		cfg.RunAddress = runAddress
	}
	if set["d"] {
		cfg.DatabaseURI = databaseURI
	}
	if set["k"] {
		cfg.SecretKey = secretKey
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.RunAddress == "" {
		c.RunAddress = DefaultRunAddress
	}
	if c.DatabaseURI == "" {
		c.DatabaseURI = DefaultDatabaseURI
	}

	reward, err := decimal.NewFromString(strings.TrimSpace(c.RewardPerRef))
	if err != nil {
		return fmt.Errorf("invalid REWARD_PER_REF %q: %w", c.RewardPerRef, err)
	}
	if reward.IsNegative() {
		return fmt.Errorf("REWARD_PER_REF must be non-negative, got %s", reward)
	}
	c.reward = reward

	if c.Threshold < 0 {
		return fmt.Errorf("SEUIL_RECOMPENSE must be non-negative, got %d", c.Threshold)
	}

	c.Policy = strings.ToLower(strings.TrimSpace(c.Policy))
	switch c.Policy {
	case "":
		c.Policy = DefaultPolicy
	case "lenient", "strict":
	default:
		return fmt.Errorf("REFERRAL_POLICY must be lenient or strict, got %q", c.Policy)
	}

	providers := make([]string, 0, len(c.Providers))
	for _, p := range c.Providers {
		if p = strings.TrimSpace(p); p != "" {
			providers = append(providers, p)
		}
	}
	if len(providers) == 0 {
		return errors.New("WITHDRAWAL_PROVIDERS must list at least one provider")
	}
	c.Providers = providers

	c.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/")

	return nil
}

// Reward возвращает вознаграждение за одного покупателя.
func (c *Config) Reward() decimal.Decimal {
	return c.reward
}
