package config

import (
	"strconv"
	"strings"

	boterrors "github.com/perpscalp/engine/internal/errors"
)

// ParameterRecord is the flat, fully-resolved set of tunables the engine
// reads for a (symbol, regime) pair. Every field is a named float so
// downstream code never walks a map[string]interface{} at decision time.
type ParameterRecord struct {
	TPPercent                  float64
	SLPercent                  float64
	TPATRMultiplier             float64
	SLATRMultiplier             float64
	MaxHoldingMinutes           float64
	MinHoldingMinutes           float64
	PHThresholdPercent          float64
	PHMinAbsolute               float64
	PHTimeLimitSeconds          float64
	LossCutPercent              float64
	TrailingInitial             float64
	TrailingMax                 float64
	TrailingMinProfitToActivate float64
	MinScoreThreshold           float64
	ADXThreshold                float64
	MinSignalStrength           float64
	RegimeSizeMultiplier        float64
	Leverage                    float64
	LimitOffsetPercent          float64
	StaleSignalPercent          float64
	MarketOrderVolatilityPct    float64
	MaxWaitSeconds              float64
	ReplacementThresholdPercent float64
}

// moneyCriticalFields must resolve to a value at some precedence level or
// the whole lookup fails closed.
var moneyCriticalFields = []string{"tp_percent", "sl_percent", "leverage"}

// failsafes are the code-level constants used when nothing in the config
// tree supplies a field. Chosen conservative: tight profit target, tight
// stop, minimum leverage.
var failsafes = map[string]float64{
	"tp_percent":                      0.8,
	"sl_percent":                      0.6,
	"tp_atr_multiplier":               2.0,
	"sl_atr_multiplier":               1.5,
	"max_holding_minutes":             45,
	"min_holding_minutes":             0.5,
	"ph_threshold_percent":            0.3,
	"ph_min_absolute":                 0.15,
	"ph_time_limit_s":                 20,
	"loss_cut_percent":                1.5,
	"trailing_initial":                0.3,
	"trailing_max":                    1.5,
	"trailing_min_profit_to_activate": 0.4,
	"min_score_threshold":             0.5,
	"adx_threshold":                   20,
	"min_signal_strength":             0.4,
	"regime_size_multiplier":          1.0,
	"leverage":                        3,
	"limit_offset_percent":            0.02,
	"stale_signal_pct":                1.0,
	"market_order_volatility_pct":     0.8,
	"max_wait_seconds":                5,
	"replacement_threshold_percent":   0.05,
}

// RawParams is the YAML shape of the parameters block: a global default, a
// per-regime override, and per-symbol overrides that may themselves carry a
// nested per-regime override. Numeric leaves are left as interface{}
// because the spec requires accepting string-encoded numbers defensively.
type RawParams struct {
	Global   map[string]interface{}            `yaml:"global"`
	ByRegime map[string]map[string]interface{} `yaml:"by_regime"`
	BySymbol map[string]SymbolParams           `yaml:"by_symbol"`
}

// SymbolParams is one entry of by_symbol: direct field overrides plus an
// optional nested by_regime override, both at the same YAML level.
type SymbolParams struct {
	ByRegime map[string]map[string]interface{} `yaml:"by_regime"`
	Fields   map[string]interface{}            `yaml:",inline"`
}

// Provider resolves ParameterRecords from a loaded RawParams tree.
type Provider struct {
	raw RawParams
}

// NewProvider wraps a parsed RawParams for lookups.
func NewProvider(raw RawParams) *Provider {
	return &Provider{raw: raw}
}

// Resolve returns the effective ParameterRecord for (symbol, regime),
// walking the five-level precedence chain:
//  1. by_symbol.{symbol}.by_regime.{regime}.<field>
//  2. by_symbol.{symbol}.<field>
//  3. by_regime.{regime}.<field>
//  4. global.<field>
//  5. code-level failsafe
//
// Regime is normalized to lowercase before lookup, so "Trending" and
// "trending" resolve identically. A missing money-critical field with no
// failsafe returns a ConfigError instead of a half-populated record.
func (p *Provider) Resolve(symbol, regime string) (ParameterRecord, error) {
	regime = strings.ToLower(regime)
	symOverride, hasSymbol := p.raw.BySymbol[symbol]

	field := func(name string) (float64, bool) {
		if hasSymbol {
			if byRegime, ok := symOverride.ByRegime[regime]; ok {
				if v, ok := parseNumeric(byRegime[name]); ok {
					return v, true
				}
			}
			if v, ok := parseNumeric(symOverride.Fields[name]); ok {
				return v, true
			}
		}
		if byRegime, ok := p.raw.ByRegime[regime]; ok {
			if v, ok := parseNumeric(byRegime[name]); ok {
				return v, true
			}
		}
		if v, ok := parseNumeric(p.raw.Global[name]); ok {
			return v, true
		}
		if v, ok := failsafes[name]; ok {
			return v, true
		}
		return 0, false
	}

	for _, name := range moneyCriticalFields {
		if _, ok := field(name); !ok {
			return ParameterRecord{}, boterrors.New(
				boterrors.KindConfig, "params", "Resolve", "missing_money_critical_field",
				"no value at any precedence level for "+name+" (symbol="+symbol+", regime="+regime+")",
			)
		}
	}

	rec := ParameterRecord{}
	get := func(name string) float64 { v, _ := field(name); return v }
	rec.TPPercent = get("tp_percent")
	rec.SLPercent = get("sl_percent")
	rec.TPATRMultiplier = get("tp_atr_multiplier")
	rec.SLATRMultiplier = get("sl_atr_multiplier")
	rec.MaxHoldingMinutes = get("max_holding_minutes")
	rec.MinHoldingMinutes = get("min_holding_minutes")
	rec.PHThresholdPercent = get("ph_threshold_percent")
	rec.PHMinAbsolute = get("ph_min_absolute")
	rec.PHTimeLimitSeconds = get("ph_time_limit_s")
	rec.LossCutPercent = get("loss_cut_percent")
	rec.TrailingInitial = get("trailing_initial")
	rec.TrailingMax = get("trailing_max")
	rec.TrailingMinProfitToActivate = get("trailing_min_profit_to_activate")
	rec.MinScoreThreshold = get("min_score_threshold")
	rec.ADXThreshold = get("adx_threshold")
	rec.MinSignalStrength = get("min_signal_strength")
	rec.RegimeSizeMultiplier = get("regime_size_multiplier")
	rec.Leverage = get("leverage")
	rec.LimitOffsetPercent = get("limit_offset_percent")
	rec.StaleSignalPercent = get("stale_signal_pct")
	rec.MarketOrderVolatilityPct = get("market_order_volatility_pct")
	rec.MaxWaitSeconds = get("max_wait_seconds")
	rec.ReplacementThresholdPercent = get("replacement_threshold_percent")
	return rec, nil
}

// parseNumeric defensively coerces a YAML leaf value into a float64.
// Accepts float64/int (native YAML numeric decode) and numeric strings;
// anything else (including nil, for an absent key) reports ok=false so the
// caller falls through to the next precedence level.
func parseNumeric(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
