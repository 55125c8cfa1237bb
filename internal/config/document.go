package config

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Schema names accepted by DecodeDocument.
const (
	SchemaScenario = "scenario"
	SchemaParams   = "params"
	SchemaSuite    = "suite"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var (
	schemaMu    sync.Mutex
	schemaCache = map[string]*jsonschema.Schema{}
)

// #region load
// ReadDocument reads a YAML or JSON file and returns it re-encoded as JSON.
// YAML is detected by extension; everything else is treated as JSON.
func ReadDocument(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, invalid(path, "", "read file: %v", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yamlToJSON(path, raw)
	default:
		return raw, nil
	}
}

// DecodeDocument validates a JSON document against the named embedded schema and
// strictly decodes it into out. out should already hold defaults; absent fields keep them.
func DecodeDocument(source, schemaName string, doc []byte, out any) error {
	schema, err := compiledSchema(schemaName)
	if err != nil {
		return err
	}

	var payload any
	if err := json.Unmarshal(doc, &payload); err != nil {
		return invalid(source, "", "parse json: %v", err)
	}
	if err := schema.Validate(payload); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			leaf := deepestCause(verr)
			return invalid(source, leaf.InstanceLocation, "%s", leaf.Message)
		}
		return invalid(source, "", "schema validation: %v", err)
	}

	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return invalid(source, "", "decode: %v", err)
	}
	return nil
}

// #endregion load

// #region helpers
func yamlToJSON(source string, raw []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, invalid(source, "", "parse yaml: %v", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, invalid(source, "", "convert yaml to json: %v", err)
	}
	return out, nil
}

func compiledSchema(name string) (*jsonschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()
	if s, ok := schemaCache[name]; ok {
		return s, nil
	}

	file := fmt.Sprintf("schemas/%s.schema.json", name)
	data, err := schemaFS.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read embedded schema %s: %w", name, err)
	}
	url := "mem://" + file
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", name, err)
	}
	s, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	schemaCache[name] = s
	return s, nil
}

func deepestCause(e *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(e.Causes) > 0 {
		e = e.Causes[0]
	}
	return e
}

// #endregion helpers
