// Package bootstrap scaffolds the configuration tree chatd reads at startup.
package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/tokligence/chatrelay/internal/config"
)

// InitOptions configures the generated files.
type InitOptions struct {
	Root        string
	Environment string
	HTTPAddress string
	Upstream    string
	DataDir     string
	Models      config.Catalog
	Force       bool
}

// DefaultModels is the catalog written when none is supplied.
var DefaultModels = config.Catalog{
	{ID: "llama-3.1-8b-instant", MaxTokens: 8192, Default: true},
	{ID: "llama-3.3-70b-versatile", MaxTokens: 32768},
	{ID: "loopback", MaxTokens: 1024},
}

// Init writes config/setting.ini, config/<env>/chatrelay.ini and config/models.yaml.
func Init(opts InitOptions) error {
	if err := Validate(opts); err != nil {
		return err
	}
	applyDefaults(&opts)
	if err := os.MkdirAll(filepath.Join(opts.Root, "config", opts.Environment), 0o755); err != nil {
		return err
	}

	models, err := modelsYAML(opts.Models)
	if err != nil {
		return err
	}
	files := []struct {
		path     string
		contents string
	}{
		{filepath.Join(opts.Root, "config", "setting.ini"), settingTemplate(opts)},
		{filepath.Join(opts.Root, "config", opts.Environment, "chatrelay.ini"), envTemplate(opts)},
		{filepath.Join(opts.Root, "config", "models.yaml"), models},
	}
	for _, f := range files {
		if err := writeFile(f.path, f.contents, opts.Force); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks options without touching the filesystem.
func Validate(opts InitOptions) error {
	switch strings.ToLower(strings.TrimSpace(opts.Upstream)) {
	case "", "groq", "loopback":
	default:
		return fmt.Errorf("unknown upstream %q", opts.Upstream)
	}
	if strings.ContainsAny(opts.Environment, `/\`) {
		return errors.New("environment must be a plain name")
	}
	return nil
}

func applyDefaults(opts *InitOptions) {
	if strings.TrimSpace(opts.Root) == "" {
		opts.Root = "."
	}
	if strings.TrimSpace(opts.Environment) == "" {
		opts.Environment = "dev"
	}
	if strings.TrimSpace(opts.HTTPAddress) == "" {
		opts.HTTPAddress = ":8080"
	}
	opts.Upstream = strings.ToLower(strings.TrimSpace(opts.Upstream))
	if opts.Upstream == "" {
		opts.Upstream = "groq"
	}
	if strings.TrimSpace(opts.DataDir) == "" {
		opts.DataDir = filepath.Dir(config.DefaultDataPath("x"))
	}
	if len(opts.Models) == 0 {
		opts.Models = DefaultModels
	}
}

func writeFile(path, contents string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("file already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(contents), 0o600)
}

func settingTemplate(opts InitOptions) string {
	return fmt.Sprintf(`# chatrelay settings shared by every environment
environment=%s
log_level=info
models_file=config/models.yaml
`, opts.Environment)
}

func envTemplate(opts InitOptions) string {
	return fmt.Sprintf(`# Environment specific overrides for %s
[server]
http_address=%s
# Dash '-' disables file output.
log_file=%s

[upstream]
upstream=%s
# groq_api_key is read from GROQ_API_KEY when unset

[storage]
database_url=%s
ledger_url=%s
upload_store=local
upload_dir=%s

[auth]
auth_secret=%s
auth_required=false
`, opts.Environment,
		opts.HTTPAddress,
		filepath.Join(opts.DataDir, "logs", "chatd.log"),
		opts.Upstream,
		filepath.Join(opts.DataDir, "identity.db"),
		filepath.Join(opts.DataDir, "ledger.db"),
		filepath.Join(opts.DataDir, "uploads"),
		uuid.NewString())
}

func modelsYAML(models config.Catalog) (string, error) {
	type entry struct {
		ID        string `yaml:"id"`
		MaxTokens int    `yaml:"max_tokens"`
		Default   bool   `yaml:"default,omitempty"`
	}
	out := struct {
		Models []entry `yaml:"models"`
	}{}
	for _, m := range models {
		out.Models = append(out.Models, entry{ID: m.ID, MaxTokens: m.MaxTokens, Default: m.Default})
	}
	data, err := yaml.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode models: %w", err)
	}
	return "# Models clients may request; max_tokens caps maxTokens per request.\n" + string(data), nil
}
