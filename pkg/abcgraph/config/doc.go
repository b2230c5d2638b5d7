// Package config provides map-backed configuration with type-safe
// accessors and yaml/json file loading.
//
// Accessors never fail: a missing key or a value of the wrong type
// yields the caller's default. Engine extracts the settings the
// inference engine itself understands (seed, batch size, worker count,
// store selection); everything else stays reachable through the typed
// accessors for application use.
package config
