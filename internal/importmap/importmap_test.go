package importmap

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/ben-ranford/stdmod/internal/manifest"
)

func TestGenerateExcludesOrdinaryEntries(t *testing.T) {
	im := Generate(manifest.Manifest{
		"std:kv-storage": "/kv-1.mjs",
		"main":           "/main-1.mjs",
	})
	want := map[string]string{"std:kv-storage": "/kv-1.mjs"}
	if !reflect.DeepEqual(im.Imports, want) {
		t.Fatalf("unexpected imports %v", im.Imports)
	}
}

func TestBuildScenarioOutput(t *testing.T) {
	_, payload, err := Build(manifest.Manifest{"std:kv-storage": "/kv-hash123.mjs"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := "{\n  \"imports\": {\n    \"std:kv-storage\": \"/kv-hash123.mjs\"\n  }\n}"
	if string(payload) != want {
		t.Fatalf("unexpected payload:\n%s", payload)
	}
}

func TestMarshalEmptyManifest(t *testing.T) {
	payload, err := Generate(nil).Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(payload) != "{\n  \"imports\": {}\n}" {
		t.Fatalf("unexpected payload %q", payload)
	}
	if err := Validate(payload); err != nil {
		t.Fatalf("empty import map should validate: %v", err)
	}
	if payload, _ := (ImportMap{}).Marshal(); !strings.Contains(string(payload), `"imports": {}`) {
		t.Fatalf("zero value should encode an empty imports object, got %s", payload)
	}
}

func TestValidateRejectsWrongShapes(t *testing.T) {
	cases := map[string]string{
		"missing imports": `{}`,
		"extra field":     `{"imports": {}, "scopes": {}}`,
		"array value":     `{"imports": {"std:kv-storage": ["std:kv-storage", "/kv.mjs"]}}`,
		"not an object":   `[]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if err := Validate([]byte(raw)); !errors.Is(err, ErrInvalidImportMap) {
				t.Fatalf("expected ErrInvalidImportMap, got %v", err)
			}
		})
	}
}

func TestScriptTagEscapesMarkup(t *testing.T) {
	tag, err := Generate(manifest.Manifest{"std:x": "/x</script><b>.mjs"}).ScriptTag()
	if err != nil {
		t.Fatalf("script tag: %v", err)
	}
	html := string(tag)
	if !strings.HasPrefix(html, `<script type="importmap">`) || !strings.HasSuffix(html, "</script>") {
		t.Fatalf("unexpected tag %q", html)
	}
	if strings.Count(html, "</script>") != 1 {
		t.Fatalf("payload was not escaped: %q", html)
	}
}
