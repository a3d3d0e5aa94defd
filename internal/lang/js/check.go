package js

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ben-ranford/stdmod/internal/builtin"
	"github.com/ben-ranford/stdmod/internal/report"
)

type Usage struct {
	Name       string
	Source     string
	References []report.Location
}

type CheckResult struct {
	Used         []Usage
	Unknown      []ModuleReference
	NodeBuiltins []ModuleReference
}

// CheckBuiltins matches every virtual specifier in scan against modules. The
// result is always populated; the error wraps builtin.ErrUnknownBuiltinModule
// when at least one specifier has no configured source.
func CheckBuiltins(scan ScanResult, modules builtin.ModuleMap) (CheckResult, error) {
	used := make(map[string]*Usage)
	result := CheckResult{}

	for _, file := range scan.Files {
		for _, ref := range file.References {
			switch builtin.Classify(ref.Specifier).Kind {
			case builtin.KindVirtual:
				source, err := modules.Lookup(ref.Specifier)
				if err != nil {
					result.Unknown = append(result.Unknown, ref)
					continue
				}
				usage, ok := used[ref.Specifier]
				if !ok {
					usage = &Usage{Name: ref.Specifier, Source: source}
					used[ref.Specifier] = usage
				}
				usage.References = append(usage.References, ref.Location)
			default:
				if isNodeBuiltin(ref.Specifier) {
					result.NodeBuiltins = append(result.NodeBuiltins, ref)
				}
			}
		}
	}

	names := make([]string, 0, len(used))
	for name := range used {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		result.Used = append(result.Used, *used[name])
	}

	if len(result.Unknown) == 0 {
		return result, nil
	}
	details := make([]string, 0, len(result.Unknown))
	for _, ref := range result.Unknown {
		details = append(details, fmt.Sprintf("%s: %s", ref.Location, ref.Specifier))
	}
	return result, fmt.Errorf("%w: %s", builtin.ErrUnknownBuiltinModule, strings.Join(details, ", "))
}

// Unused lists configured modules that no source references.
func (r CheckResult) Unused(modules builtin.ModuleMap) []string {
	seen := make(map[string]bool, len(r.Used))
	for _, usage := range r.Used {
		seen[usage.Name] = true
	}
	unused := make([]string, 0)
	for _, name := range modules.Names() {
		if !seen[name] {
			unused = append(unused, name)
		}
	}
	return unused
}
