package config

// Config wraps a map[string]any for type-safe value extraction.
// All accessor methods return default values if the key is missing
// or the value cannot be converted to the requested type.
type Config struct {
	data map[string]any
}

// New creates a Config from the given map.
// If data is nil, an empty Config is returned.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

// String returns the string value for key, or defaultVal if missing or not a string.
func (c Config) String(key, defaultVal string) string {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	if s, ok := v.(string); ok {
		return s
	}
	return defaultVal
}

// Bool returns the boolean value for key, or defaultVal if missing or not a bool.
func (c Config) Bool(key string, defaultVal bool) bool {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return defaultVal
}

// Int returns the integer value for key, or defaultVal if missing or not convertible.
//
// Accepts:
//   - int: used directly
//   - int64: converted to int
//   - float64: converted to int (only if no fractional part)
func (c Config) Int(key string, defaultVal int) int {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		if val == float64(int(val)) {
			return int(val)
		}
	}
	return defaultVal
}

// Uint64 returns the unsigned integer value for key, or defaultVal if
// missing, negative, or not convertible. Seeds are read through this.
func (c Config) Uint64(key string, defaultVal uint64) uint64 {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case uint64:
		return val
	case int:
		if val >= 0 {
			return uint64(val)
		}
	case int64:
		if val >= 0 {
			return uint64(val)
		}
	case float64:
		if val >= 0 && val == float64(uint64(val)) {
			return uint64(val)
		}
	}
	return defaultVal
}

// Float returns the float64 value for key, or defaultVal if missing or not convertible.
//
// Accepts:
//   - float64: used directly
//   - int: converted to float64
//   - int64: converted to float64
func (c Config) Float(key string, defaultVal float64) float64 {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	}
	return defaultVal
}

// FloatSlice returns the float slice for key, or defaultVal if missing
// or not convertible. Quantile schedules are read through this.
//
// Accepts:
//   - []float64: used directly
//   - []any: each element converted if possible
func (c Config) FloatSlice(key string, defaultVal []float64) []float64 {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case []float64:
		return val
	case []any:
		result := make([]float64, 0, len(val))
		for _, item := range val {
			switch f := item.(type) {
			case float64:
				result = append(result, f)
			case int:
				result = append(result, float64(f))
			default:
				return defaultVal
			}
		}
		return result
	}
	return defaultVal
}

// Any returns the raw value for key, or defaultVal if missing.
func (c Config) Any(key string, defaultVal any) any {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	return v
}

// Has returns true if the key exists in the config.
func (c Config) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// Raw returns the underlying map.
// The returned map should not be modified.
func (c Config) Raw() map[string]any {
	return c.data
}

// Engine holds the engine-level settings a config file can carry.
type Engine struct {
	// Seed is the session master seed.
	Seed uint64
	// BatchSize caps how many samples a single chunk covers.
	BatchSize int
	// Workers bounds the local backend's worker pool.
	Workers int
	// StoreKind selects a chunk store: "", "memory", or "sqlite".
	StoreKind string
	// StorePath is the database path for the sqlite store.
	StorePath string
}

// Engine extracts the engine settings under their well-known keys:
// seed, batch_size, workers, store.kind, store.path.
func (c Config) Engine() Engine {
	return Engine{
		Seed:      c.Uint64("seed", 0),
		BatchSize: c.Int("batch_size", 0),
		Workers:   c.Int("workers", 0),
		StoreKind: c.String("store.kind", c.nested("store", "kind", "")),
		StorePath: c.String("store.path", c.nested("store", "path", "")),
	}
}

// nested reads key under a one-level map section, the shape yaml
// produces for "store:\n  kind: sqlite".
func (c Config) nested(section, key, defaultVal string) string {
	m, ok := c.data[section].(map[string]any)
	if !ok {
		return defaultVal
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return defaultVal
}
