package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// readConfig builds a Config from the file at path with the environment
// overlaid. A missing or empty file counts as an empty document, so a bot
// configured purely through BOT_TOKEN/ADMIN_ID/GROUP_ID still starts.
func readConfig(path string, getenv func(string) string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := decodeDocument(path, raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if err := applyEnv(cfg, getenv); err != nil {
		return nil, fmt.Errorf("env: %w", err)
	}
	return cfg, nil
}

// decodeDocument decodes JSON, or YAML for .yaml/.yml paths. Both go through
// the strict JSON decoder, so an unknown key is an error in either format.
func decodeDocument(path string, raw []byte) (*Config, error) {
	body := bytes.TrimSpace(raw)
	if len(body) == 0 {
		body = []byte("{}")
	}
	if isYAML(path) {
		var doc map[string]any
		if err := yaml.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
		j, err := json.Marshal(doc)
		if err != nil {
			// nested mappings with non-string keys decode as map[any]any
			return nil, fmt.Errorf("yaml: keys must be strings: %w", err)
		}
		body = j
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after config document")
	}
	return &cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
