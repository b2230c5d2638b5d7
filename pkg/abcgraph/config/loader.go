package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FromFile reads an engine config from disk, picking the decoder by the
// file extension (.yaml, .yml or .json).
func FromFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FromYAML(raw)
	case ".json":
		return FromJSON(raw)
	}
	return Config{}, fmt.Errorf("config %s: unrecognized extension", path)
}

// FromYAML decodes a YAML document, the usual format for run files
// carrying seed, batch_size, workers and a store section.
func FromYAML(raw []byte) (Config, error) {
	return decode("yaml", raw, yaml.Unmarshal)
}

// FromJSON decodes a JSON document.
func FromJSON(raw []byte) (Config, error) {
	return decode("json", raw, json.Unmarshal)
}

func decode(format string, raw []byte, unmarshal func([]byte, any) error) (Config, error) {
	var m map[string]any
	if err := unmarshal(raw, &m); err != nil {
		return Config{}, fmt.Errorf("parse %s config: %w", format, err)
	}
	return New(m), nil
}
