package config

// schemaJSON is the JSON Schema (2020-12) every bubblepkg.yaml document
// is validated against at load time, catching a malformed dedup_policy
// or kb_backend value before it reaches runtime code (spec Section 6,
// "[ADDED] Config file format").
const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://bubblepkg.dev/schemas/bubblepkg.schema.json",
  "type": "object",
  "required": ["interpreter_version", "kb_backend"],
  "properties": {
    "interpreter_version": {"type": "string", "minLength": 1},
    "kb_backend": {"type": "string", "enum": ["auto", "fast", "embedded"]},
    "dedup_policy": {
      "type": "object",
      "properties": {
        "native_extensions": {
          "type": "array",
          "items": {"type": "string"}
        },
        "ref_kind": {"type": "string", "enum": ["symlink", "hardlink", "dedup-ref"]}
      },
      "additionalProperties": false
    },
    "install_root": {"type": "string"},
    "language_code": {"type": "string"},
    "worker": {
      "type": "object",
      "properties": {
        "max_daemons": {"type": "integer", "minimum": 1},
        "idle_timeout_seconds": {"type": "integer", "minimum": 0},
        "max_dispatches_per_second": {"type": "number", "minimum": 0}
      },
      "additionalProperties": false
    },
    "lock_timeout_seconds": {"type": "integer", "minimum": 0}
  },
  "additionalProperties": true
}`
