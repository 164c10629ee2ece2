package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	boterrors "github.com/perpscalp/engine/internal/errors"
)

// Load reads configPath as YAML into an EngineConfig, overlays exchange
// credentials from the environment (loading envFile first if it exists,
// same as the teacher's cmd entrypoints do with godotenv.Load), and
// validates the result before returning it. Credentials are never read
// from configPath itself so a committed config.yml can't leak a key.
func Load(configPath, envFile string) (*EngineConfig, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, boterrors.Wrap(err, boterrors.KindConfig, "config", "Load", "env_load_failed")
			}
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, boterrors.Wrap(err, boterrors.KindConfig, "config", "Load", "read_file_failed")
	}

	var cfg EngineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, boterrors.Wrap(err, boterrors.KindConfig, "config", "Load", "parse_yaml_failed")
	}

	cfg.Exchange.ApiKey = os.Getenv("OKX_API_KEY")
	cfg.Exchange.ApiSecret = os.Getenv("OKX_API_SECRET")
	cfg.Exchange.Passphrase = os.Getenv("OKX_PASSPHRASE")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Redact renders a value safe for logging: secrets never appear in logs,
// matching the rule that any field named key/secret/passphrase is
// redacted wherever config is echoed back (startup banners, debug dumps).
func Redact(fieldName, value string) string {
	if value == "" {
		return ""
	}
	lower := strings.ToLower(fieldName)
	for _, marker := range []string{"key", "secret", "passphrase", "token"} {
		if strings.Contains(lower, marker) {
			return "***redacted***"
		}
	}
	return value
}

// Summary returns a one-line startup banner, grounded on the teacher's
// session-header logging style, with credentials redacted.
func Summary(cfg *EngineConfig) string {
	return fmt.Sprintf("exchange=%s rest=%s symbols=%d", cfg.Exchange.Name, cfg.Exchange.RESTURL, len(cfg.Symbols))
}
