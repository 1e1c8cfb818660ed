package model

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dexhub/planted-dating-app/config"
	"github.com/Dexhub/planted-dating-app/core"
)

func profile(id string, attrs map[string]float64) *core.UserProfile {
	return core.NormalizeProfile(&core.UserProfile{UserID: id, Attributes: attrs})
}

func TestHybridModel(t *testing.T) {
	ctx := context.Background()
	m := NewHybridModel()

	a := profile("a", map[string]float64{"motivation_score": 0.9, "cooking_skill_level": 0.1})
	b := profile("b", map[string]float64{"motivation_score": 0.2, "cooking_skill_level": 0.8})

	t.Run("identical profiles score 1", func(t *testing.T) {
		s, err := m.Compute(ctx, a, a)
		require.NoError(t, err)
		assert.Equal(t, 1.0, s)

		zero := make(map[string]float64)
		for _, name := range core.ProfileSchema() {
			zero[name] = 0
		}
		z := profile("z", zero)
		s, err = m.Compute(ctx, z, z)
		require.NoError(t, err)
		assert.Equal(t, 1.0, s)
	})

	t.Run("symmetric", func(t *testing.T) {
		ab, err := m.Compute(ctx, a, b)
		require.NoError(t, err)
		ba, err := m.Compute(ctx, b, a)
		require.NoError(t, err)
		assert.Equal(t, ab, ba)
		assert.Less(t, ab, 1.0)
		assert.Greater(t, ab, 0.0)
	})

	t.Run("closer profiles score higher", func(t *testing.T) {
		near := profile("n", map[string]float64{"motivation_score": 0.85, "cooking_skill_level": 0.15})
		sNear, _ := m.Compute(ctx, a, near)
		sFar, _ := m.Compute(ctx, a, b)
		assert.Greater(t, sNear, sFar)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := m.Compute(cctx, a, b)
		assert.Error(t, err)
	})
}

func TestPairFeatures_Symmetric(t *testing.T) {
	a := profile("a", map[string]float64{"journey_stage": 0.9})
	b := profile("b", map[string]float64{"journey_stage": 0.3})
	fa, fb := PairFeatures(a, b), PairFeatures(b, a)
	assert.Equal(t, fa, fb)
	assert.InDelta(t, 0.6, fa[FeatureAbsDiff+"journey_stage"], 1e-9)
	assert.InDelta(t, 0.27, fa[FeatureProduct+"journey_stage"], 1e-9)
	assert.Len(t, fa, 2*len(core.ProfileSchema()))
}

func TestLRModel(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "weights.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
bias: 1.0
weights:
  absdiff_motivation_score: -4.0
  prod_activism_level: 2.0
`), 0o600))

	m, err := LoadLRModel(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.Bias)

	ctx := context.Background()
	a := profile("a", map[string]float64{"motivation_score": 1})
	b := profile("b", map[string]float64{"motivation_score": 0})
	same, err := m.Compute(ctx, a, a)
	require.NoError(t, err)
	diff, err := m.Compute(ctx, a, b)
	require.NoError(t, err)
	ba, _ := m.Compute(ctx, b, a)
	assert.Greater(t, same, diff)
	assert.Equal(t, diff, ba)
	assert.InDelta(t, 0.5, m.Predict(map[string]float64{"unknown": 3, FeatureAbsDiff + "motivation_score": 0.25}), 1e-9)

	jsonPath := filepath.Join(dir, "weights.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"bias": 0.5, "weights": {"prod_journey_stage": 1}}`), 0o600))
	m, err = LoadLRModel(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 0.5, m.Bias)

	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"bias": 0.5}`), 0o600))
	_, err = LoadLRModel(jsonPath)
	assert.Error(t, err)
}

func TestRPCModel(t *testing.T) {
	var got struct {
		Pairs []Pair `json:"pairs"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{"scores": []float64{0.42}})
	}))
	defer srv.Close()

	m := NewRPCModel(srv.URL, time.Second)
	s, err := m.Compute(context.Background(), profile("a", nil), profile("b", map[string]float64{"journey_stage": 0.1}))
	require.NoError(t, err)
	assert.Equal(t, 0.42, s)
	require.Len(t, got.Pairs, 1)
	assert.Equal(t, 0.1, got.Pairs[0].B["journey_stage"])
	assert.Len(t, got.Pairs[0].A, len(core.ProfileSchema()))
}

func TestRPCModel_Errors(t *testing.T) {
	ctx := context.Background()
	a, b := profile("a", nil), profile("b", nil)

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer bad.Close()
	_, err := NewRPCModel(bad.URL, time.Second).Compute(ctx, a, b)
	assert.ErrorContains(t, err, "status=500")

	short := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"scores": []}`))
	}))
	defer short.Close()
	_, err = NewRPCModel(short.URL, time.Second).Compute(ctx, a, b)
	assert.ErrorContains(t, err, "mismatch")

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer slow.Close()
	_, err = NewRPCModel(slow.URL, 20*time.Millisecond).Compute(ctx, a, b)
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	s, err := New(config.ScoringConfig{})
	require.NoError(t, err)
	assert.Equal(t, "hybrid", s.Name())

	s, err = New(config.ScoringConfig{Model: "rpc", RPCEndpoint: "http://localhost:1/predict"})
	require.NoError(t, err)
	assert.Equal(t, "rpc", s.Name())

	_, err = New(config.ScoringConfig{Model: "rpc"})
	assert.Error(t, err)

	_, err = New(config.ScoringConfig{Model: "gbdt"})
	assert.ErrorContains(t, err, "supported")
	assert.Contains(t, SupportedTypes(), "lr")
}
