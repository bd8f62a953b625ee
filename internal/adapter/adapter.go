// Package adapter maps foreign memory exports onto the local observation
// schema. A YAML mapping names, per target field, a dot-path into the
// source record plus an optional transform; unmapped fields get safe
// defaults so partially described sources still import.
package adapter

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bpd1069/claude-mem/internal/embedding"
	"github.com/bpd1069/claude-mem/internal/models"
)

// Defaults for fields the mapping leaves unbound or the record omits.
const (
	DefaultType    = string(models.ObservationDiscovery)
	DefaultProject = "unknown"
)

// FieldSpec binds one target field to a source location.
type FieldSpec struct {
	// Path is a dot-path into the source record ("metadata.session.id").
	Path string `yaml:"path"`

	// Transform names a decoder for the raw value. Recognized per field:
	// created_at_epoch: epoch_ms, epoch_s, iso8601
	// facts/concepts:   array, json, csv
	// embedding:        array, json_array, base64, binary
	Transform string `yaml:"transform,omitempty"`

	// Default substitutes when the path resolves to nothing.
	Default string `yaml:"default,omitempty"`
}

// Mapping is one source format description, loaded from YAML.
type Mapping struct {
	Name   string               `yaml:"name"`
	Fields map[string]FieldSpec `yaml:"fields"`
}

// targetFields are the recognized mapping keys.
var targetFields = map[string]bool{
	"content_session_id": true,
	"memory_session_id":  true,
	"project":            true,
	"type":               true,
	"title":              true,
	"subtitle":           true,
	"narrative":          true,
	"facts":              true,
	"concepts":           true,
	"files_read":         true,
	"files_modified":     true,
	"prompt_number":      true,
	"created_at_epoch":   true,
	"embedding":          true,
}

// LoadMapping reads and validates a mapping file.
func LoadMapping(path string) (*Mapping, error) {
	b, err := os.ReadFile(path) //nolint:gosec // G304: user-supplied mapping path
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping: %w", err)
	}
	var m Mapping
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to parse mapping: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate rejects unknown target fields and missing essentials.
func (m *Mapping) Validate() error {
	for field := range m.Fields {
		if !targetFields[field] {
			return fmt.Errorf("mapping %q: unknown target field %q", m.Name, field)
		}
	}
	if _, ok := m.Fields["title"]; !ok {
		return fmt.Errorf("mapping %q: a title mapping is required", m.Name)
	}
	return nil
}

// ImportedRecord is one adapted source record. Embedding is non-nil only
// when the source carries pre-computed vectors; the importer hands it to
// the vector backend unchanged instead of re-embedding.
type ImportedRecord struct {
	Observation *models.Observation
	Embedding   []float32
}

// Adapt maps one decoded source record. Missing optional fields default;
// a missing or empty title is an error since it anchors the dedup key.
func (m *Mapping) Adapt(record map[string]any) (*ImportedRecord, error) {
	out := &ImportedRecord{Observation: &models.Observation{}}
	obs := out.Observation

	str := func(field string) string {
		spec, ok := m.Fields[field]
		if !ok {
			return ""
		}
		v, found := lookupPath(record, spec.Path)
		if !found || v == nil {
			return spec.Default
		}
		return stringify(v)
	}

	obs.Title = str("title")
	if obs.Title == "" {
		return nil, fmt.Errorf("record has no title (path %q)", m.Fields["title"].Path)
	}
	obs.Subtitle = str("subtitle")
	obs.Narrative = str("narrative")
	obs.ContentSessionID = str("content_session_id")
	obs.MemorySessionID = str("memory_session_id")

	obs.Project = str("project")
	if obs.Project == "" {
		obs.Project = DefaultProject
	}

	typ := models.ObservationType(str("type"))
	if !typ.Valid() {
		typ = models.ObservationType(DefaultType)
	}
	obs.Type = typ

	if n := str("prompt_number"); n != "" {
		if parsed, err := strconv.Atoi(n); err == nil {
			obs.PromptNumber = parsed
		}
	}

	var err error
	if obs.Facts, err = m.stringList(record, "facts"); err != nil {
		return nil, err
	}
	if obs.Concepts, err = m.stringList(record, "concepts"); err != nil {
		return nil, err
	}
	if obs.FilesRead, err = m.stringList(record, "files_read"); err != nil {
		return nil, err
	}
	if obs.FilesModified, err = m.stringList(record, "files_modified"); err != nil {
		return nil, err
	}

	if obs.CreatedAtEpoch, err = m.timestamp(record); err != nil {
		return nil, err
	}
	if out.Embedding, err = m.embedding(record); err != nil {
		return nil, err
	}
	return out, nil
}

// lookupPath walks a dot-path through nested maps. Numeric segments index
// into arrays.
func lookupPath(record map[string]any, dotPath string) (any, bool) {
	if dotPath == "" {
		return nil, false
	}
	var cur any = record
	for _, seg := range strings.Split(dotPath, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers decode as float64; render integers without decimals.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// timestamp resolves created_at_epoch, defaulting to now.
func (m *Mapping) timestamp(record map[string]any) (int64, error) {
	spec, ok := m.Fields["created_at_epoch"]
	if !ok {
		return time.Now().Unix(), nil
	}
	v, found := lookupPath(record, spec.Path)
	if !found || v == nil {
		if spec.Default != "" {
			v = spec.Default
		} else {
			return time.Now().Unix(), nil
		}
	}

	switch spec.Transform {
	case "", "epoch_s":
		n, err := toInt64(v)
		if err != nil {
			return 0, fmt.Errorf("created_at_epoch: %w", err)
		}
		return n, nil
	case "epoch_ms":
		n, err := toInt64(v)
		if err != nil {
			return 0, fmt.Errorf("created_at_epoch: %w", err)
		}
		return n / 1000, nil
	case "iso8601":
		s := stringify(v)
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return 0, fmt.Errorf("created_at_epoch: failed to parse %q: %w", s, err)
		}
		return t.Unix(), nil
	default:
		return 0, fmt.Errorf("created_at_epoch: unknown transform %q", spec.Transform)
	}
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", t)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

// stringList resolves a list-valued field under its transform.
func (m *Mapping) stringList(record map[string]any, field string) ([]string, error) {
	spec, ok := m.Fields[field]
	if !ok {
		return nil, nil
	}
	v, found := lookupPath(record, spec.Path)
	if !found || v == nil {
		return nil, nil
	}

	switch spec.Transform {
	case "", "array":
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%s: expected array, got %T", field, v)
		}
		out := make([]string, 0, len(items))
		for _, it := range items {
			if s := stringify(it); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	case "json":
		var out []string
		if err := json.Unmarshal([]byte(stringify(v)), &out); err != nil {
			return nil, fmt.Errorf("%s: failed to parse JSON list: %w", field, err)
		}
		return out, nil
	case "csv":
		var out []string
		for _, part := range strings.Split(stringify(v), ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s: unknown transform %q", field, spec.Transform)
	}
}

// embedding decodes a pre-computed vector when mapped.
func (m *Mapping) embedding(record map[string]any) ([]float32, error) {
	spec, ok := m.Fields["embedding"]
	if !ok {
		return nil, nil
	}
	v, found := lookupPath(record, spec.Path)
	if !found || v == nil {
		return nil, nil
	}

	switch spec.Transform {
	case "", "array":
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("embedding: expected array, got %T", v)
		}
		out := make([]float32, len(items))
		for i, it := range items {
			f, ok := it.(float64)
			if !ok {
				return nil, fmt.Errorf("embedding: element %d is %T, not a number", i, it)
			}
			out[i] = float32(f)
		}
		return out, nil
	case "json_array":
		var floats []float64
		if err := json.Unmarshal([]byte(stringify(v)), &floats); err != nil {
			return nil, fmt.Errorf("embedding: failed to parse JSON array: %w", err)
		}
		out := make([]float32, len(floats))
		for i, f := range floats {
			out[i] = float32(f)
		}
		return out, nil
	case "base64", "binary":
		// Both carry the little-endian float32 blob; base64 wraps it in text.
		var raw []byte
		if spec.Transform == "base64" {
			decoded, err := base64.StdEncoding.DecodeString(stringify(v))
			if err != nil {
				return nil, fmt.Errorf("embedding: failed to decode base64: %w", err)
			}
			raw = decoded
		} else {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("embedding: binary transform expects string, got %T", v)
			}
			raw = []byte(s)
		}
		vec, err := embedding.DecodeBlob(raw)
		if err != nil {
			return nil, fmt.Errorf("embedding: %w", err)
		}
		return vec, nil
	default:
		return nil, fmt.Errorf("embedding: unknown transform %q", spec.Transform)
	}
}
