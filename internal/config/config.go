package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/ini.v1"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/chatrelay.ini"
	envPrefix        = "CHATRELAY_"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// Config describes runtime options for chatd.
type Config struct {
	Environment string
	HTTPAddress string `validate:"required"`
	LogFile     string
	LogLevel    string `validate:"oneof=debug info warn error"`
	LogMaxMB    int    `validate:"gte=0"`

	// Upstream selects the provider unmatched models are routed to.
	Upstream         string `validate:"oneof=groq loopback"`
	GroqAPIKey       string
	GroqBaseURL      string        `validate:"omitempty,url"`
	DefaultModel     string        `validate:"required"`
	DefaultMaxTokens int           `validate:"gt=0"`
	ModelsFile       string        `validate:"omitempty,file"`
	RequestTimeout   time.Duration `validate:"gt=0"`
	Models           Catalog       `validate:"-"`

	// DatabaseURL and LedgerURL are SQLite paths or postgres:// DSNs.
	DatabaseURL string `validate:"required"`
	LedgerURL   string `validate:"required"`

	AuthSecret           string `validate:"required"`
	AuthJWTPublicKeyFile string `validate:"omitempty,file"`
	AuthJWTSecret        string
	AuthJWTIssuer        string
	AuthRequired         bool
	DefaultBalance       int64 `validate:"gt=0"`

	UploadLimitBytes   int64  `validate:"gt=0"`
	UploadStore        string `validate:"oneof=local gcs"`
	UploadDir          string `validate:"required_if=UploadStore local"`
	GCSBucket          string `validate:"required_if=UploadStore gcs"`
	GCSCredentialsFile string

	RateLimitRPS   float64 `validate:"gte=0"`
	RateLimitBurst int     `validate:"gte=0"`

	HookScript  string        `validate:"omitempty,file"`
	HookTimeout time.Duration `validate:"gte=0"`

	Tracing           string `validate:"oneof=none stdout"`
	PlaygroundEnabled bool
}

// Load reads the current environment, merges config/setting.ini with the environment's
// chatrelay.ini and applies CHATRELAY_* overrides.
func Load(root string) (Config, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return Config{}, err
	}
	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
		envValues = map[string]string{}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}
	get := func(key string, fallback ...string) string {
		values := append([]string{os.Getenv(envPrefix + strings.ToUpper(key)), merged[key]}, fallback...)
		return strings.TrimSpace(firstNonEmpty(values...))
	}

	cfg := Config{
		Environment:          s.Environment,
		HTTPAddress:          get("http_address", ":8080"),
		LogFile:              get("log_file"),
		LogLevel:             strings.ToLower(get("log_level", "info")),
		LogMaxMB:             parseOptionalInt(get("log_max_mb"), 100),
		Upstream:             strings.ToLower(get("upstream", "groq")),
		GroqAPIKey:           firstNonEmpty(os.Getenv(envPrefix+"GROQ_API_KEY"), os.Getenv("GROQ_API_KEY"), merged["groq_api_key"]),
		GroqBaseURL:          get("groq_base_url", "https://api.groq.com/openai/v1"),
		DefaultModel:         get("default_model", "llama-3.1-8b-instant"),
		DefaultMaxTokens:     parseOptionalInt(get("default_max_tokens"), 1024),
		ModelsFile:           get("models_file"),
		RequestTimeout:       parseOptionalDuration(get("request_timeout"), 60*time.Second),
		DatabaseURL:          get("database_url", DefaultDataPath("identity.db")),
		LedgerURL:            get("ledger_url", DefaultDataPath("ledger.db")),
		AuthSecret:           get("auth_secret", "chatrelay-dev-secret"),
		AuthJWTPublicKeyFile: get("auth_jwt_public_key_file"),
		AuthJWTSecret:        get("auth_jwt_secret"),
		AuthJWTIssuer:        get("auth_jwt_issuer"),
		AuthRequired:         parseOptionalBool(get("auth_required"), false),
		DefaultBalance:       int64(parseOptionalInt(get("default_balance"), 100)),
		UploadLimitBytes:     int64(parseOptionalInt(get("upload_limit_bytes"), 5_000_000)),
		UploadStore:          strings.ToLower(get("upload_store", "local")),
		UploadDir:            get("upload_dir", DefaultDataPath("uploads")),
		GCSBucket:            get("gcs_bucket"),
		GCSCredentialsFile:   get("gcs_credentials_file"),
		RateLimitRPS:         parseOptionalFloat(get("rate_limit_rps"), 5),
		RateLimitBurst:       parseOptionalInt(get("rate_limit_burst"), 10),
		HookScript:           get("hook_script"),
		HookTimeout:          parseOptionalDuration(get("hook_timeout"), 10*time.Second),
		Tracing:              strings.ToLower(get("tracing", "none")),
		PlaygroundEnabled:    parseOptionalBool(get("playground_enabled"), s.Environment == "dev"),
	}
	if cfg.ModelsFile != "" && !filepath.IsAbs(cfg.ModelsFile) {
		cfg.ModelsFile = filepath.Join(root, cfg.ModelsFile)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}

	if cfg.ModelsFile != "" {
		catalog, err := LoadCatalog(cfg.ModelsFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Models = catalog
	} else {
		cfg.Models = Catalog{{ID: cfg.DefaultModel, MaxTokens: cfg.DefaultMaxTokens, Default: true}}
	}
	if d, ok := cfg.Models.Default(); ok && get("default_model") == "" {
		cfg.DefaultModel = d.ID
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and reports every violation.
func Validate(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("config: invalid configuration: %s", strings.Join(msgs, "; "))
}

// UsesPostgres reports whether url is a Postgres DSN rather than a SQLite path.
func UsesPostgres(url string) bool {
	lower := strings.ToLower(strings.TrimSpace(url))
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://")
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: firstNonEmpty(os.Getenv(envPrefix+"ENV"), defaultEnv), Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := firstNonEmpty(os.Getenv(envPrefix+"ENV"), values["environment"], defaultEnv)
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

// parseINI flattens every section of an INI file into lower-cased keys.
func parseINI(path string) (map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	f, err := ini.LoadSources(ini.LoadOptions{Insensitive: true}, path)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	values := make(map[string]string)
	for _, section := range f.Sections() {
		for _, key := range section.Keys() {
			values[key.Name()] = strings.TrimSpace(key.String())
		}
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(v), "_", "")); err == nil {
		return parsed
	}
	return fallback
}

func parseOptionalFloat(v string, fallback float64) float64 {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
		return parsed
	}
	return fallback
}

func parseOptionalDuration(v string, fallback time.Duration) time.Duration {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// DefaultDataPath returns name under ~/.chatrelay, or name itself when no home exists.
func DefaultDataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".chatrelay", name)
}
