package position

import "strings"

// baseAsset extracts the base asset from an exchange symbol such as
// "BTC-USDT-SWAP" -> "BTC".
func baseAsset(symbol string) string {
	parts := strings.SplitN(symbol, "-", 2)
	return parts[0]
}

// staticCorrelation is a precomputed pairwise correlation table for the
// majors this engine is expected to trade, standing in for a rolling
// correlation computed from historical returns. Keyed by the two base
// assets in lexicographic order.
var staticCorrelation = map[[2]string]float64{
	{"BTC", "ETH"}: 0.85,
	{"BTC", "SOL"}: 0.75,
	{"BNB", "BTC"}: 0.70,
	{"BTC", "XRP"}: 0.55,
	{"ETH", "SOL"}: 0.80,
	{"BNB", "ETH"}: 0.70,
	{"ETH", "XRP"}: 0.55,
	{"BNB", "SOL"}: 0.65,
	{"SOL", "XRP"}: 0.50,
	{"BNB", "XRP"}: 0.50,
}

// defaultCrossAssetCorrelation is the fallback for any pair not carried in
// staticCorrelation: perpetual futures on unrelated coins still move
// together through shared market-wide risk sentiment, so an unlisted pair
// is treated as moderately correlated rather than independent.
const defaultCrossAssetCorrelation = 0.4

// Correlation returns a precomputed correlation estimate between two
// symbols' base assets. The same base asset always correlates at 1.0.
func Correlation(symbolA, symbolB string) float64 {
	a, b := baseAsset(symbolA), baseAsset(symbolB)
	if a == b {
		return 1.0
	}
	if a > b {
		a, b = b, a
	}
	if c, ok := staticCorrelation[[2]string{a, b}]; ok {
		return c
	}
	return defaultCrossAssetCorrelation
}
