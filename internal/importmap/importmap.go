// Package importmap derives the browser import map for the std: namespace
// from a build manifest.
package importmap

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ben-ranford/stdmod/internal/builtin"
	"github.com/ben-ranford/stdmod/internal/manifest"
)

var ErrInvalidImportMap = errors.New("invalid import map")

//go:embed schema.json
var schemaJSON []byte

var loadSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
})

type ImportMap struct {
	Imports map[string]string `json:"imports"`
}

// Generate keeps only manifest entries in the virtual namespace. Ordinary
// bundles are loaded by URL and never need a mapping.
func Generate(m manifest.Manifest) ImportMap {
	imports := make(map[string]string)
	for name, url := range m {
		if builtin.IsVirtual(name) {
			imports[name] = url
		}
	}
	return ImportMap{Imports: imports}
}

func (im ImportMap) normalized() ImportMap {
	if im.Imports == nil {
		return ImportMap{Imports: map[string]string{}}
	}
	return im
}

// Marshal encodes the import map with two-space indentation.
func (im ImportMap) Marshal() ([]byte, error) {
	return json.MarshalIndent(im.normalized(), "", "  ")
}

// ScriptTag renders the import map as an inline script element. The JSON
// encoder escapes '<', '>' and '&', so the payload cannot close the element.
func (im ImportMap) ScriptTag() (template.HTML, error) {
	payload, err := im.Marshal()
	if err != nil {
		return "", err
	}
	// #nosec G203 -- payload is JSON with HTML-significant characters escaped.
	return template.HTML(`<script type="importmap">` + "\n" + string(payload) + "\n</script>"), nil
}

// Validate checks raw against the import map schema.
func Validate(raw []byte) error {
	schema, err := loadSchema()
	if err != nil {
		return fmt.Errorf("load import map schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImportMap, err)
	}
	if result.Valid() {
		return nil
	}
	messages := make([]string, 0, len(result.Errors()))
	for _, item := range result.Errors() {
		messages = append(messages, item.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidImportMap, strings.Join(messages, "; "))
}

// Build generates, encodes and validates the import map for m.
func Build(m manifest.Manifest) (ImportMap, []byte, error) {
	im := Generate(m)
	payload, err := im.Marshal()
	if err != nil {
		return ImportMap{}, nil, fmt.Errorf("encode import map: %w", err)
	}
	if err := Validate(payload); err != nil {
		return ImportMap{}, nil, err
	}
	return im, payload, nil
}
