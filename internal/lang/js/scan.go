package js

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	tsxlang "github.com/smacker/go-tree-sitter/typescript/tsx"
	tslang "github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/ben-ranford/stdmod/internal/report"
	"github.com/ben-ranford/stdmod/internal/safeio"
)

type ReferenceKind string

const (
	ReferenceImport        ReferenceKind = "import"
	ReferenceExport        ReferenceKind = "export"
	ReferenceDynamicImport ReferenceKind = "dynamic-import"
	ReferenceRequire       ReferenceKind = "require"
)

type ModuleReference struct {
	Specifier string
	Kind      ReferenceKind
	Location  report.Location
}

type FileScan struct {
	Path       string
	References []ModuleReference
}

type ScanResult struct {
	Files    []FileScan
	Warnings []string
}

type scanState struct {
	parser          *sourceParser
	root            string
	exclude         map[string]bool
	result          *ScanResult
	parseErrorCount int
	parseErrorFiles []string
}

var supportedExtensions = map[string]bool{
	".js":  true,
	".cjs": true,
	".mjs": true,
	".jsx": true,
	".ts":  true,
	".mts": true,
	".cts": true,
	".tsx": true,
}

var skipDirectories = map[string]bool{
	".git":         true,
	"node_modules": true,
	"dist":         true,
	"build":        true,
	"out":          true,
	"coverage":     true,
	"vendor":       true,
	".next":        true,
	".turbo":       true,
	".stdmod":      true,
}

// SkipsDir reports whether directories named name are never scanned.
func SkipsDir(name string) bool {
	return skipDirectories[name]
}

// IsSourceFile reports whether path has an extension the scanner parses.
func IsSourceFile(path string) bool {
	return isSupportedFile(path)
}

// ScanSpecifiers collects every module specifier referenced by the JS and TS
// sources under root. Directories in exclude (absolute paths, usually the
// build output) are skipped along with the usual vendored and generated ones.
func ScanSpecifiers(ctx context.Context, root string, exclude ...string) (ScanResult, error) {
	result := ScanResult{}
	if strings.TrimSpace(root) == "" {
		return result, errors.New("root path is empty")
	}

	state := scanState{
		parser:  newSourceParser(),
		root:    root,
		exclude: make(map[string]bool, len(exclude)),
		result:  &result,
	}
	for _, dir := range exclude {
		state.exclude[filepath.Clean(dir)] = true
	}

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return scanEntry(ctx, &state, path, entry)
	})
	if err != nil {
		return result, err
	}

	if len(result.Files) == 0 {
		result.Warnings = append(result.Warnings, "no JS/TS files found to check")
	}
	if state.parseErrorCount > 0 {
		warning := fmt.Sprintf("parse errors in %d file(s)", state.parseErrorCount)
		if len(state.parseErrorFiles) > 0 {
			warning = fmt.Sprintf("%s: %s", warning, strings.Join(state.parseErrorFiles, ", "))
		}
		result.Warnings = append(result.Warnings, warning)
	}
	return result, nil
}

func scanEntry(ctx context.Context, state *scanState, path string, entry fs.DirEntry) error {
	if entry.IsDir() {
		if path != state.root && (skipDirectories[entry.Name()] || state.exclude[filepath.Clean(path)]) {
			return fs.SkipDir
		}
		return nil
	}
	if !isSupportedFile(path) {
		return nil
	}

	content, tree, relPath, err := readAndParseFile(ctx, state.parser, state.root, path)
	if err != nil {
		return err
	}
	if tree.RootNode().HasError() {
		state.parseErrorCount++
		if len(state.parseErrorFiles) < 5 {
			state.parseErrorFiles = append(state.parseErrorFiles, relPath)
		}
	}
	state.result.Files = append(state.result.Files, FileScan{
		Path:       relPath,
		References: collectReferences(tree, content, relPath),
	})
	return nil
}

func readAndParseFile(ctx context.Context, parser *sourceParser, root string, path string) ([]byte, *sitter.Tree, string, error) {
	content, err := safeio.ReadFileUnder(root, path)
	if err != nil {
		return nil, nil, "", err
	}
	tree, err := parser.Parse(ctx, path, content)
	if err != nil {
		return nil, nil, "", err
	}
	if tree == nil {
		return nil, nil, "", fmt.Errorf("tree-sitter returned nil tree for %s", path)
	}
	relPath, relErr := filepath.Rel(root, path)
	if relErr != nil {
		relPath = path
	}
	return content, tree, filepath.ToSlash(relPath), nil
}

func isSupportedFile(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

type sourceParser struct {
	js  *sitter.Language
	ts  *sitter.Language
	tsx *sitter.Language
}

func newSourceParser() *sourceParser {
	return &sourceParser{
		js:  javascript.GetLanguage(),
		ts:  tslang.GetLanguage(),
		tsx: tsxlang.GetLanguage(),
	}
}

func (p *sourceParser) Parse(ctx context.Context, path string, content []byte) (*sitter.Tree, error) {
	lang, err := p.languageForPath(path)
	if err != nil {
		return nil, err
	}
	parser := sitter.NewParser()
	parser.SetLanguage(lang)
	return parser.ParseCtx(ctx, nil, content)
}

func (p *sourceParser) languageForPath(path string) (*sitter.Language, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".js", ".cjs", ".mjs", ".jsx":
		return p.js, nil
	case ".ts", ".mts", ".cts":
		return p.ts, nil
	case ".tsx":
		return p.tsx, nil
	default:
		return nil, fmt.Errorf("unsupported extension: %s", ext)
	}
}

func collectReferences(tree *sitter.Tree, content []byte, relPath string) []ModuleReference {
	refs := make([]ModuleReference, 0)
	walkNode(tree.RootNode(), func(node *sitter.Node) {
		switch node.Type() {
		case "import_statement":
			if ref, ok := sourceReference(node, content, relPath, ReferenceImport); ok {
				refs = append(refs, ref)
			}
		case "export_statement":
			if ref, ok := sourceReference(node, content, relPath, ReferenceExport); ok {
				refs = append(refs, ref)
			}
		case "call_expression":
			if ref, ok := callReference(node, content, relPath); ok {
				refs = append(refs, ref)
			}
		}
	})
	sort.SliceStable(refs, func(i, j int) bool {
		if refs[i].Location.Line != refs[j].Location.Line {
			return refs[i].Location.Line < refs[j].Location.Line
		}
		return refs[i].Location.Column < refs[j].Location.Column
	})
	return refs
}

func walkNode(node *sitter.Node, visit func(*sitter.Node)) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		visit(child)
		walkNode(child, visit)
	}
}

// sourceReference reads the "source" field of import and re-export
// statements. Plain exports have no source and are ignored.
func sourceReference(node *sitter.Node, content []byte, relPath string, kind ReferenceKind) (ModuleReference, bool) {
	sourceNode := node.ChildByFieldName("source")
	if sourceNode == nil {
		sourceNode = firstNamedChildOfType(node, "string")
	}
	specifier, ok := extractStringLiteral(sourceNode, content)
	if !ok {
		return ModuleReference{}, false
	}
	return makeReference(specifier, kind, relPath, sourceNode), true
}

// callReference handles import("x") and require("x") with a literal
// argument. Computed specifiers cannot be checked statically.
func callReference(node *sitter.Node, content []byte, relPath string) (ModuleReference, bool) {
	functionNode := node.ChildByFieldName("function")
	if functionNode == nil {
		return ModuleReference{}, false
	}
	var kind ReferenceKind
	switch {
	case functionNode.Type() == "import":
		kind = ReferenceDynamicImport
	case functionNode.Type() == "identifier" && nodeText(functionNode, content) == "require":
		kind = ReferenceRequire
	default:
		return ModuleReference{}, false
	}

	argumentsNode := node.ChildByFieldName("arguments")
	if argumentsNode == nil || argumentsNode.NamedChildCount() == 0 {
		return ModuleReference{}, false
	}
	argument := argumentsNode.NamedChild(0)
	specifier, ok := extractStringLiteral(argument, content)
	if !ok {
		return ModuleReference{}, false
	}
	return makeReference(specifier, kind, relPath, argument), true
}

func makeReference(specifier string, kind ReferenceKind, relPath string, node *sitter.Node) ModuleReference {
	return ModuleReference{
		Specifier: specifier,
		Kind:      kind,
		Location: report.Location{
			File:   relPath,
			Line:   int(node.StartPoint().Row) + 1,
			Column: int(node.StartPoint().Column) + 1,
		},
	}
}

func extractStringLiteral(node *sitter.Node, content []byte) (string, bool) {
	if node == nil {
		return "", false
	}
	switch node.Type() {
	case "string":
	case "template_string":
		if firstNamedChildOfType(node, "template_substitution") != nil {
			return "", false
		}
	default:
		return "", false
	}

	text := nodeText(node, content)
	if len(text) < 2 {
		return "", false
	}
	quote := text[0]
	if (quote != '"' && quote != '\'' && quote != '`') || text[len(text)-1] != quote {
		return "", false
	}
	text = text[1 : len(text)-1]
	if text == "" {
		return "", false
	}
	return text, true
}

func nodeText(node *sitter.Node, content []byte) string {
	if node == nil {
		return ""
	}
	return string(content[node.StartByte():node.EndByte()])
}

func firstNamedChildOfType(node *sitter.Node, types ...string) *sitter.Node {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		for _, typ := range types {
			if child.Type() == typ {
				return child
			}
		}
	}
	return nil
}
