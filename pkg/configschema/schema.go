// Package configschema derives a JSON Schema for the transfers configuration
// file from config.Config and its defaults.
package configschema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/nimburion/transfers/pkg/config"
)

// constraints narrow generated properties, keyed by dotted config key.
var constraints = map[string]func(*jsonschema.Schema){
	"database.url":               describe("PostgreSQL connection URL; usually supplied by TRANSFERS_DATABASE_URL"),
	"database.max_open_conns":    minimum(0),
	"database.max_idle_conns":    minimum(0),
	"database.facet_concurrency": minimum(1),
	"observability.log_level":    enum("debug", "info", "warn", "error"),
	"observability.log_format":   enum("json", "text"),
	"observability.tracing_sample_rate": func(s *jsonschema.Schema) {
		minimum(0)(s)
		maxVal := 1.0
		s.Maximum = &maxVal
	},
	"transfers.module":         pattern(`^[a-z][a-z0-9_]*$`),
	"transfers.table":          pattern(`^[a-z][a-z0-9_]*$`),
	"transfers.default_tenant": pattern(`^[a-z][a-z0-9_]{0,30}$`),
	"transfers.default_limit":  minimum(1),
	"transfers.max_limit":      minimum(1),
}

// Build returns the schema with built-in defaults injected. No property is
// required since every key has a default.
func Build() (*jsonschema.Schema, error) {
	schema, err := jsonschema.ForType(reflect.TypeOf(config.Config{}), &jsonschema.ForOptions{
		IgnoreInvalidTypes: true,
		TypeSchemas: map[reflect.Type]*jsonschema.Schema{
			reflect.TypeOf(time.Duration(0)): {Type: "string", Pattern: `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build config schema: %w", err)
	}

	rename(schema, reflect.TypeOf(config.Config{}))
	injectDefaults(schema, reflect.ValueOf(*config.DefaultConfig()))
	for key, apply := range constraints {
		prop := lookup(schema, key)
		if prop == nil {
			return nil, fmt.Errorf("constraint for unknown config key %q", key)
		}
		apply(prop)
	}
	clearRequired(schema)

	schema.Schema = "https://json-schema.org/draft/2020-12/schema"
	schema.Title = "transfers configuration"
	schema.Description = "Configuration file for the transfers service. Environment variables prefixed TRANSFERS_ override every key."
	return schema, nil
}

// JSON renders the schema indented.
func JSON() ([]byte, error) {
	schema, err := Build()
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(schema, "", "  ")
}

// rename replaces Go field names with their mapstructure keys.
func rename(schema *jsonschema.Schema, t reflect.Type) {
	if schema == nil || t.Kind() != reflect.Struct || len(schema.Properties) == 0 {
		return
	}
	names := make(map[string]string, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		key := keyName(field)
		names[field.Name] = key
		if prop, ok := schema.Properties[field.Name]; ok {
			delete(schema.Properties, field.Name)
			schema.Properties[key] = prop
			rename(prop, field.Type)
		}
	}
	for i, name := range schema.PropertyOrder {
		if key, ok := names[name]; ok {
			schema.PropertyOrder[i] = key
		}
	}
}

func injectDefaults(schema *jsonschema.Schema, value reflect.Value) {
	if schema == nil {
		return
	}
	if value.Kind() == reflect.Struct {
		t := value.Type()
		for i := 0; i < t.NumField(); i++ {
			if prop, ok := schema.Properties[keyName(t.Field(i))]; ok {
				injectDefaults(prop, value.Field(i))
			}
		}
		return
	}

	var v any = value.Interface()
	if d, ok := v.(time.Duration); ok {
		v = d.String()
	}
	if raw, err := json.Marshal(v); err == nil {
		schema.Default = raw
	}
}

func clearRequired(schema *jsonschema.Schema) {
	schema.Required = nil
	for _, prop := range schema.Properties {
		clearRequired(prop)
	}
}

func lookup(schema *jsonschema.Schema, key string) *jsonschema.Schema {
	for _, part := range strings.Split(key, ".") {
		if schema == nil {
			return nil
		}
		schema = schema.Properties[part]
	}
	return schema
}

func keyName(field reflect.StructField) string {
	if name, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ","); name != "" {
		return name
	}
	return strings.ToLower(field.Name)
}

func describe(text string) func(*jsonschema.Schema) {
	return func(s *jsonschema.Schema) { s.Description = text }
}

func minimum(v float64) func(*jsonschema.Schema) {
	return func(s *jsonschema.Schema) { s.Minimum = &v }
}

func enum(values ...string) func(*jsonschema.Schema) {
	return func(s *jsonschema.Schema) {
		s.Enum = make([]any, len(values))
		for i, v := range values {
			s.Enum[i] = v
		}
	}
}

func pattern(p string) func(*jsonschema.Schema) {
	return func(s *jsonschema.Schema) { s.Pattern = p }
}
