// Package builtin classifies import specifiers against the reserved std:
// namespace and maps virtual module names to their polyfill sources.
package builtin

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const (
	// Marker prefixes every virtual module name.
	Marker = "std:"
	// EncodedMarker replaces Marker in output entry names, since ':' is not
	// safe in file names on every platform.
	EncodedMarker = "std__"
)

var (
	ErrUnknownBuiltinModule = errors.New("unknown builtin module")
	ErrInvalidName          = errors.New("invalid builtin module name")
)

var namePattern = regexp.MustCompile(`^std:[A-Za-z0-9][A-Za-z0-9._-]*$`)

type Kind int

const (
	KindOrdinary Kind = iota
	KindVirtual
)

func (k Kind) String() string {
	if k == KindVirtual {
		return "virtual"
	}
	return "ordinary"
}

type Specifier struct {
	Raw  string
	Kind Kind
}

// Classify splits specifiers into virtual (std:) and ordinary ones. It does
// not consult any module map.
func Classify(specifier string) Specifier {
	if IsVirtual(specifier) {
		return Specifier{Raw: specifier, Kind: KindVirtual}
	}
	return Specifier{Raw: specifier, Kind: KindOrdinary}
}

func IsVirtual(name string) bool {
	return strings.HasPrefix(name, Marker)
}

func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// EncodeEntryName makes a virtual name safe to hand to the bundler as an
// entry name. Ordinary names are returned unchanged.
func EncodeEntryName(name string) string {
	if !IsVirtual(name) {
		return name
	}
	return EncodedMarker + strings.TrimPrefix(name, Marker)
}

// DecodeEntryName reverses EncodeEntryName.
func DecodeEntryName(entry string) string {
	if !strings.HasPrefix(entry, EncodedMarker) {
		return entry
	}
	return Marker + strings.TrimPrefix(entry, EncodedMarker)
}

// ModuleMap maps virtual names to source locators relative to the project
// root.
type ModuleMap map[string]string

type Resolution struct {
	Specifier Specifier
	// Source is the configured locator; empty for ordinary specifiers.
	Source string
}

func (m ModuleMap) Validate() error {
	for _, name := range m.Names() {
		if err := ValidateName(name); err != nil {
			return err
		}
		if strings.TrimSpace(m[name]) == "" {
			return fmt.Errorf("builtin module %s has no source", name)
		}
	}
	return nil
}

func (m ModuleMap) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m ModuleMap) Lookup(name string) (string, error) {
	source, ok := m[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownBuiltinModule, name)
	}
	return source, nil
}

// Resolve classifies specifier and, for virtual specifiers only, looks up
// the configured source.
func (m ModuleMap) Resolve(specifier string) (Resolution, error) {
	spec := Classify(specifier)
	if spec.Kind != KindVirtual {
		return Resolution{Specifier: spec}, nil
	}
	source, err := m.Lookup(spec.Raw)
	if err != nil {
		return Resolution{Specifier: spec}, err
	}
	return Resolution{Specifier: spec, Source: source}, nil
}

func (m ModuleMap) Clone() ModuleMap {
	cloned := make(ModuleMap, len(m))
	for name, source := range m {
		cloned[name] = source
	}
	return cloned
}
