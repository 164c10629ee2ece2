package config

import (
	boterrors "github.com/perpscalp/engine/internal/errors"
	"github.com/perpscalp/engine/internal/safety"
)

var validator = safety.NewValidator()

// Validate performs startup validation of an EngineConfig. Failures here
// are ConfigErrors: fatal at startup, since there is no safe failsafe for
// a malformed exchange or symbol section.
func (c *EngineConfig) Validate() error {
	if c.Exchange.Name == "" {
		return boterrors.New(boterrors.KindConfig, "config", "Validate", "missing_exchange_name", "exchange.name is required")
	}
	if c.Exchange.RESTURL == "" {
		return boterrors.New(boterrors.KindConfig, "config", "Validate", "missing_rest_url", "exchange.rest_url is required")
	}
	if c.Exchange.ApiKey == "" || c.Exchange.ApiSecret == "" || c.Exchange.Passphrase == "" {
		return boterrors.New(boterrors.KindConfig, "config", "Validate", "missing_credentials",
			"OKX_API_KEY, OKX_API_SECRET and OKX_PASSPHRASE must all be set")
	}

	if len(c.Symbols) == 0 {
		return boterrors.New(boterrors.KindConfig, "config", "Validate", "no_symbols", "symbols list is empty")
	}
	enabled := 0
	for _, s := range c.Symbols {
		if result := validator.ValidateSymbol(s.Symbol); !result.Valid {
			return boterrors.New(boterrors.KindConfig, "config", "Validate", "blank_symbol", result.Message)
		}
		if s.Enabled {
			enabled++
		}
		if result := validator.ValidatePercentageRange(s.MaxPositionPct, 0, 1, "symbols["+s.Symbol+"].max_position_pct"); !result.Valid {
			return boterrors.New(boterrors.KindConfig, "config", "Validate", "bad_max_position_pct", result.Message)
		}
	}
	if enabled == 0 {
		return boterrors.New(boterrors.KindConfig, "config", "Validate", "no_enabled_symbols", "at least one symbol must be enabled")
	}

	if c.Safety.CircuitBreakerFailureThreshold <= 0 {
		return boterrors.New(boterrors.KindConfig, "config", "Validate", "bad_cb_threshold", "safety.circuit_breaker_failure_threshold must be positive")
	}
	if c.Safety.RESTConcurrencyLimit <= 0 {
		return boterrors.New(boterrors.KindConfig, "config", "Validate", "bad_rest_limit", "safety.rest_concurrency_limit must be positive")
	}
	if c.Safety.MaxTotalExposurePct <= 0 || c.Safety.MaxTotalExposurePct > 1 {
		return boterrors.New(boterrors.KindConfig, "config", "Validate", "bad_exposure_cap", "safety.max_total_exposure_pct must be in (0,1]")
	}

	// Every money-critical parameter field must resolve for every enabled
	// symbol across every regime we classify into, or trading must not
	// start. This mirrors Provider.Resolve's own fail-closed rule but
	// catches the misconfiguration at startup instead of on first cycle.
	provider := NewProvider(c.Parameters)
	for _, s := range c.Symbols {
		if !s.Enabled {
			continue
		}
		for _, regime := range []string{"trending", "ranging", "choppy"} {
			rec, err := provider.Resolve(s.Symbol, regime)
			if err != nil {
				return err
			}
			if result := validator.ValidateTPPercentage(rec.TPPercent / 100); !result.Valid {
				return boterrors.New(boterrors.KindConfig, "config", "Validate", "bad_tp_percent",
					"symbols["+s.Symbol+"]["+regime+"].tp_percent: "+result.Message)
			}
		}
	}

	return nil
}
