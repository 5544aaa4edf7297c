// SPDX-License-Identifier: Apache-2.0

package definition

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON []byte

// Schema returns the JSON Schema that definitions are validated against.
func Schema() []byte {
	return append([]byte(nil), schemaJSON...)
}

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
})

// ValidationError lists every schema violation found in a definition.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid definition: " + strings.Join(e.Problems, "; ")
}

// Validate checks a YAML (or JSON) definition against the schema.
func Validate(data []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}

	doc, err := yaml.YAMLToJSON(data)
	if err != nil {
		return fmt.Errorf("parse definition: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("validate definition: %w", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		problems = append(problems, re.String())
	}
	return &ValidationError{Problems: problems}
}
