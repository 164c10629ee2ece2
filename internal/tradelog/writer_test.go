package tradelog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestWriterCreatesSubdirectories(t *testing.T) {
	root := t.TempDir()
	_, err := NewWriter(root)
	require.NoError(t, err)

	for _, kind := range []string{"trades", "signals", "candles_init"} {
		info, err := os.Stat(filepath.Join(root, kind))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestWriteTradeAppendsNDJSONLine(t *testing.T) {
	root := t.TempDir()
	w, err := NewWriter(root)
	require.NoError(t, err)
	defer w.Close()

	rec := TradeRecord{
		Symbol: "BTC-USDT-SWAP", Side: "long", EntryPrice: 60000, ExitPrice: 60600,
		Size: 1, EntryTime: time.Now().Add(-time.Hour), ExitTime: time.Now(),
		Regime: "trending", RealizedPnLUSD: 58.5, FeesUSD: 1.5, ExitReason: "standard_tp",
	}
	require.NoError(t, w.WriteTrade(rec))
	require.NoError(t, w.WriteTrade(rec))

	path := filepath.Join(root, "trades", time.Now().Format("2006-01-02")+".jsonl")
	lines := readLines(t, path)
	require.Len(t, lines, 2)

	var got TradeRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, rec.Symbol, got.Symbol)
	assert.Equal(t, rec.ExitReason, got.ExitReason)
	assert.InDelta(t, rec.RealizedPnLUSD, got.RealizedPnLUSD, 0.0001)
}

func TestWriteSignalCarriesBlockedBy(t *testing.T) {
	root := t.TempDir()
	w, err := NewWriter(root)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.WriteSignal(SignalRecord{
		Symbol: "ETH-USDT-SWAP", Side: "short", Strength: 0.4, Regime: "choppy",
		Time: time.Now(), Executed: false, BlockedBy: "correlation_gate",
	}))

	path := filepath.Join(root, "signals", time.Now().Format("2006-01-02")+".jsonl")
	lines := readLines(t, path)
	require.Len(t, lines, 1)

	var got SignalRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.False(t, got.Executed)
	assert.Equal(t, "correlation_gate", got.BlockedBy)
}

func TestWriteCandlesInitRoundTripsEmptySnapshot(t *testing.T) {
	root := t.TempDir()
	w, err := NewWriter(root)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.WriteCandlesInit(CandlesInitRecord{
		Symbol: "BTC-USDT-SWAP", Timeframe: "1m", CandleCount: 0, Time: time.Now(),
	}))

	path := filepath.Join(root, "candles_init", time.Now().Format("2006-01-02")+".jsonl")
	lines := readLines(t, path)
	require.Len(t, lines, 1)

	var got CandlesInitRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, 0, got.CandleCount)
	assert.Nil(t, got.Candles)
}

func TestFileHandleReusedAcrossWritesSameDay(t *testing.T) {
	root := t.TempDir()
	w, err := NewWriter(root)
	require.NoError(t, err)
	defer w.Close()

	f1, err := w.fileFor("trades")
	require.NoError(t, err)
	f2, err := w.fileFor("trades")
	require.NoError(t, err)
	assert.Same(t, f1, f2)
}

func TestCloseReleasesAllHandles(t *testing.T) {
	root := t.TempDir()
	w, err := NewWriter(root)
	require.NoError(t, err)

	require.NoError(t, w.WriteTrade(TradeRecord{Symbol: "BTC-USDT-SWAP"}))
	require.NoError(t, w.Close())
	assert.Empty(t, w.files)
}

func TestNewWriterDefaultsEmptyRoot(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)
	defer os.RemoveAll(filepath.Join(cwd, "data"))

	w, err := NewWriter("")
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, "data", w.root)
}
