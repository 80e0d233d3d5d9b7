// Package config loads and validates the per-interpreter
// configuration document (spec Section 6: recognized configuration
// options, "[ADDED] Config file format": YAML on disk, one per
// interpreter, validated at load time against a JSON Schema).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// DedupPolicy mirrors pkg/bubble.DedupPolicy's on-disk representation.
type DedupPolicy struct {
	NativeExtensions []string `yaml:"native_extensions,omitempty" json:"native_extensions,omitempty"`
	RefKind          string   `yaml:"ref_kind,omitempty" json:"ref_kind,omitempty"`
}

// WorkerConfig mirrors pkg/worker.Config's on-disk representation.
type WorkerConfig struct {
	MaxDaemons             int     `yaml:"max_daemons,omitempty" json:"max_daemons,omitempty"`
	IdleTimeoutSeconds     int     `yaml:"idle_timeout_seconds,omitempty" json:"idle_timeout_seconds,omitempty"`
	MaxDispatchesPerSecond float64 `yaml:"max_dispatches_per_second,omitempty" json:"max_dispatches_per_second,omitempty"`
}

// Config is one interpreter's bubblepkg.yaml document.
type Config struct {
	InterpreterVersion string       `yaml:"interpreter_version" json:"interpreter_version"`
	KBBackend          string       `yaml:"kb_backend" json:"kb_backend"`
	DedupPolicy        DedupPolicy  `yaml:"dedup_policy,omitempty" json:"dedup_policy,omitempty"`
	InstallRoot        string       `yaml:"install_root,omitempty" json:"install_root,omitempty"`
	LanguageCode       string       `yaml:"language_code,omitempty" json:"language_code,omitempty"`
	Worker             WorkerConfig `yaml:"worker,omitempty" json:"worker,omitempty"`
	LockTimeoutSeconds int          `yaml:"lock_timeout_seconds,omitempty" json:"lock_timeout_seconds,omitempty"`
}

var compiledSchema *jsonschema.Schema

func schema() (*jsonschema.Schema, error) {
	if compiledSchema != nil {
		return compiledSchema, nil
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const schemaURL = "https://bubblepkg.dev/schemas/bubblepkg.schema.json"
	if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("load config schema: %w", err)
	}
	s, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	compiledSchema = s
	return s, nil
}

// Load reads, parses, and schema-validates the YAML document at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	return Parse(data)
}

// Parse validates and unmarshals a bubblepkg.yaml document's raw
// bytes. YAML is decoded twice on purpose: once into a generic
// map[string]any for schema validation (the jsonschema library
// operates on plain Go values, not YAML nodes) and once into the
// typed Config the caller actually uses.
func Parse(data []byte) (*Config, error) {
	var generic map[string]any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	s, err := schema()
	if err != nil {
		return nil, err
	}
	if err := s.Validate(toJSONCompatible(generic)); err != nil {
		return nil, fmt.Errorf("config failed schema validation: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// toJSONCompatible round-trips v through encoding/json so
// map[interface{}]interface{} values yaml.v3 may produce for nested
// maps become map[string]any, which jsonschema requires.
func toJSONCompatible(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
