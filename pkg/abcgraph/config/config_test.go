package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("nil map yields empty config", func(t *testing.T) {
		c := New(nil)
		assert.False(t, c.Has("anything"))
		assert.NotNil(t, c.Raw())
	})

	t.Run("values are reachable", func(t *testing.T) {
		c := New(map[string]any{"name": "sim"})
		assert.True(t, c.Has("name"))
		assert.Equal(t, "sim", c.String("name", ""))
	})
}

func TestAccessors(t *testing.T) {
	c := New(map[string]any{
		"name":     "rejection",
		"verbose":  true,
		"n":        1000,
		"large":    int64(7),
		"whole":    float64(20),
		"frac":     1.5,
		"quantile": 0.01,
		"schedule": []any{0.7, 0.2, 0.05},
		"floats":   []float64{1, 2},
	})

	t.Run("string", func(t *testing.T) {
		assert.Equal(t, "rejection", c.String("name", "x"))
		assert.Equal(t, "x", c.String("missing", "x"))
		assert.Equal(t, "x", c.String("n", "x"))
	})

	t.Run("bool", func(t *testing.T) {
		assert.True(t, c.Bool("verbose", false))
		assert.False(t, c.Bool("missing", false))
		assert.True(t, c.Bool("name", true))
	})

	t.Run("int", func(t *testing.T) {
		assert.Equal(t, 1000, c.Int("n", 0))
		assert.Equal(t, 7, c.Int("large", 0))
		assert.Equal(t, 20, c.Int("whole", 0))
		assert.Equal(t, 9, c.Int("frac", 9))
		assert.Equal(t, 9, c.Int("missing", 9))
	})

	t.Run("uint64", func(t *testing.T) {
		assert.Equal(t, uint64(1000), c.Uint64("n", 0))
		assert.Equal(t, uint64(20), c.Uint64("whole", 0))
		assert.Equal(t, uint64(9), c.Uint64("frac", 9))
		neg := New(map[string]any{"seed": -1})
		assert.Equal(t, uint64(9), neg.Uint64("seed", 9))
	})

	t.Run("float", func(t *testing.T) {
		assert.Equal(t, 0.01, c.Float("quantile", 1))
		assert.Equal(t, 1000.0, c.Float("n", 0))
		assert.Equal(t, 1.0, c.Float("missing", 1))
	})

	t.Run("float slice", func(t *testing.T) {
		assert.Equal(t, []float64{0.7, 0.2, 0.05}, c.FloatSlice("schedule", nil))
		assert.Equal(t, []float64{1, 2}, c.FloatSlice("floats", nil))
		assert.Nil(t, c.FloatSlice("missing", nil))
		mixed := New(map[string]any{"s": []any{0.1, "x"}})
		assert.Nil(t, mixed.FloatSlice("s", nil))
	})

	t.Run("any", func(t *testing.T) {
		assert.Equal(t, 1000, c.Any("n", nil))
		assert.Equal(t, "d", c.Any("missing", "d"))
	})
}

func TestEngine(t *testing.T) {
	t.Run("flat keys", func(t *testing.T) {
		c := New(map[string]any{
			"seed":       42,
			"batch_size": 100,
			"workers":    8,
			"store.kind": "sqlite",
			"store.path": "./chunks.db",
		})
		e := c.Engine()
		assert.Equal(t, uint64(42), e.Seed)
		assert.Equal(t, 100, e.BatchSize)
		assert.Equal(t, 8, e.Workers)
		assert.Equal(t, "sqlite", e.StoreKind)
		assert.Equal(t, "./chunks.db", e.StorePath)
	})

	t.Run("nested store section", func(t *testing.T) {
		c := New(map[string]any{
			"store": map[string]any{"kind": "memory"},
		})
		assert.Equal(t, "memory", c.Engine().StoreKind)
	})

	t.Run("defaults", func(t *testing.T) {
		e := New(nil).Engine()
		assert.Equal(t, uint64(0), e.Seed)
		assert.Equal(t, 0, e.BatchSize)
		assert.Equal(t, "", e.StoreKind)
	})
}

func TestFromYAML(t *testing.T) {
	c, err := FromYAML([]byte(`
seed: 42
batch_size: 100
store:
  kind: sqlite
  path: ./chunks.db
`))
	require.NoError(t, err)
	e := c.Engine()
	assert.Equal(t, uint64(42), e.Seed)
	assert.Equal(t, 100, e.BatchSize)
	assert.Equal(t, "sqlite", e.StoreKind)
	assert.Equal(t, "./chunks.db", e.StorePath)

	_, err = FromYAML([]byte("{not yaml"))
	assert.Error(t, err)
}

func TestFromJSON(t *testing.T) {
	c, err := FromJSON([]byte(`{"seed": 7, "workers": 4}`))
	require.NoError(t, err)
	e := c.Engine()
	assert.Equal(t, uint64(7), e.Seed)
	assert.Equal(t, 4, e.Workers)

	_, err = FromJSON([]byte("not json"))
	assert.Error(t, err)
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(dir, "engine.yaml")
		require.NoError(t, os.WriteFile(path, []byte("seed: 5\n"), 0o644))
		c, err := FromFile(path)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), c.Engine().Seed)
	})

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(dir, "engine.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"seed": 6}`), 0o644))
		c, err := FromFile(path)
		require.NoError(t, err)
		assert.Equal(t, uint64(6), c.Engine().Seed)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := filepath.Join(dir, "engine.toml")
		require.NoError(t, os.WriteFile(path, []byte("seed = 5"), 0o644))
		_, err := FromFile(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := FromFile(filepath.Join(dir, "absent.yaml"))
		assert.Error(t, err)
	})
}
