package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalengine/config"
	"signalengine/internal/engine"
	"signalengine/internal/model"
	sigsignal "signalengine/internal/signal"
	"signalengine/internal/store/sqlite"
)

func seedJournal(t *testing.T, path string, assets []string, n int) time.Time {
	t.Helper()
	j, err := sqlite.Open(path)
	require.NoError(t, err)
	defer j.Close()

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range assets {
		for i := 0; i < n; i++ {
			require.NoError(t, j.Append(context.Background(), model.Observation{
				AssetID:    id,
				Price:      1 + float64(i)*0.01,
				Volume:     100,
				BuyCount:   int64(10 * (i + 1)),
				SellCount:  int64(2 * (i + 1)),
				ObservedAt: t0.Add(time.Duration(i) * 15 * time.Second),
			}))
		}
	}
	return t0
}

func decodeLines(t *testing.T, b []byte) []engine.Decision {
	t.Helper()
	var out []engine.Decision
	sc := bufio.NewScanner(bytes.NewReader(b))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var d engine.Decision
		require.NoError(t, json.Unmarshal(sc.Bytes(), &d))
		out = append(out, d)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestReplay_EvaluatesEveryJournaledObservation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obs.db")
	t0 := seedJournal(t, path, []string{"A", "B"}, 6)

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, replay(context.Background(), cfg, replayOptions{
		db:  path,
		all: true,
		out: &out,
	}))

	// Assets interleave in time order; ties keep asset order.
	ds := decodeLines(t, out.Bytes())
	require.Len(t, ds, 12)
	assert.Equal(t, "A", ds[0].AssetID)
	assert.Equal(t, 1, ds[0].Points)
	assert.True(t, ds[0].At.Equal(t0))
	assert.Equal(t, "B", ds[1].AssetID)
	assert.True(t, ds[1].At.Equal(t0))
	assert.Equal(t, "A", ds[10].AssetID)
	assert.Equal(t, 6, ds[10].Points)
	assert.Equal(t, "B", ds[11].AssetID)
	for i := 1; i < len(ds); i++ {
		assert.False(t, ds[i].At.Before(ds[i-1].At), "decision %d out of order", i)
	}
}

func TestReplay_BudgetResetsOnJournaledDay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obs.db")
	j, err := sqlite.Open(path)
	require.NoError(t, err)

	// B is journaled first by id order but trades a day after A.
	day1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	for _, seed := range []struct {
		id    string
		start time.Time
	}{{"A", day1}, {"B", day2}} {
		for i := 0; i < 3; i++ {
			require.NoError(t, j.Append(context.Background(), model.Observation{
				AssetID:    seed.id,
				Price:      1,
				Volume:     10,
				BuyCount:   30,
				ObservedAt: seed.start.Add(time.Duration(i) * 15 * time.Second),
			}))
		}
	}
	require.NoError(t, j.Close())

	cfg, err := config.FromEnv()
	require.NoError(t, err)
	cfg.RSIPeriod = 2
	cfg.MinBuyConfidence = 20
	cfg.MinSellConfidence = 15
	cfg.DailyBuyBudget = 0.5

	var out bytes.Buffer
	require.NoError(t, replay(context.Background(), cfg, replayOptions{
		db:    path,
		all:   true,
		curve: curveFlags{depth: 50, steepness: 1, impact: 1},
		out:   &out,
	}))

	entered := map[string]engine.Decision{}
	for _, d := range decodeLines(t, out.Bytes()) {
		assert.NotEqual(t, sigsignal.ReasonBudgetExhausted, d.Suppressed, "%s at %s", d.AssetID, d.At)
		if d.Risk != nil {
			if _, ok := entered[d.AssetID]; !ok {
				entered[d.AssetID] = d
			}
		}
	}
	require.Contains(t, entered, "A")
	require.Contains(t, entered, "B")
	assert.True(t, entered["A"].At.Before(day2))
	assert.False(t, entered["B"].At.Before(day2))
	assert.Greater(t, entered["B"].Risk.PositionSize, 0.0)
}

func TestReplay_FiltersAssetsAndSince(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obs.db")
	t0 := seedJournal(t, path, []string{"A", "B"}, 6)

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, replay(context.Background(), cfg, replayOptions{
		db:     path,
		assets: []string{"B"},
		since:  t0.Add(30 * time.Second),
		all:    true,
		out:    &out,
	}))

	ds := decodeLines(t, out.Bytes())
	require.Len(t, ds, 4)
	for _, d := range ds {
		assert.Equal(t, "B", d.AssetID)
	}
}

func TestReplay_HoldsOmittedByDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obs.db")
	seedJournal(t, path, []string{"A"}, 3)

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	// No curve reading: buys are blocked, and three points never reach
	// the default sell threshold.
	var out bytes.Buffer
	require.NoError(t, replay(context.Background(), cfg, replayOptions{db: path, out: &out}))
	assert.Empty(t, out.String())
}

func TestCurveFlags(t *testing.T) {
	assert.Nil(t, curveFlags{}.facts())

	f := curveFlags{depth: 10, impact: 2}.facts()
	require.NotNil(t, f)
	assert.Equal(t, 10.0, f.LiquidityDepth)

	c, err := staticCurve{f: f}.Curve(context.Background(), "A")
	require.NoError(t, err)
	c.LiquidityDepth = 0
	assert.Equal(t, 10.0, f.LiquidityDepth, "readings are copies")

	c, err = staticCurve{}.Curve(context.Background(), "A")
	require.NoError(t, err)
	assert.Nil(t, c)
}
