package bundle

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/ben-ranford/stdmod/internal/builtin"
	"github.com/ben-ranford/stdmod/internal/config"
)

// entrySet is the list handed to esbuild plus the reverse lookup from a
// metafile entryPoint (slash path relative to the project root) to every
// entry name built from that input. Each input is bundled once; further
// names for the same input are aliases that share its URL.
type entrySet struct {
	points []api.EntryPoint
	byPath map[string][]string
}

// registerEntries returns the pass's declared entries followed by one entry
// per virtual module. Virtual entries are only added when the pass code
// splits and no declared entry has the same name. A virtual module whose
// source is already an entry becomes an alias of that entry.
func registerEntries(cfg config.Config, pass config.Pass) (entrySet, error) {
	set := entrySet{byPath: make(map[string][]string)}

	for _, name := range pass.EntryNamesSorted() {
		input := cfg.Abs(pass.Entries[name])
		if builtin.IsVirtual(name) {
			source, err := cfg.Modules.Lookup(name)
			if err != nil {
				return entrySet{}, err
			}
			input = cfg.Abs(source)
		}
		if err := set.add(cfg.Root, name, input, input); err != nil {
			return entrySet{}, err
		}
	}

	if !pass.CodeSplit {
		return set, nil
	}
	for _, name := range cfg.Modules.Names() {
		if _, declared := pass.Entries[name]; declared {
			continue
		}
		// The bare specifier goes to esbuild so the resolver plugin maps it.
		if err := set.add(cfg.Root, name, name, cfg.Abs(cfg.Modules[name])); err != nil {
			return entrySet{}, err
		}
	}
	return set, nil
}

func (s *entrySet) add(root, name, inputPath, sourcePath string) error {
	rel, err := filepath.Rel(root, sourcePath)
	if err != nil {
		return fmt.Errorf("entry %s: %w", name, err)
	}
	key := filepath.ToSlash(rel)
	encoded := builtin.EncodeEntryName(name)
	if _, bundled := s.byPath[key]; !bundled {
		s.points = append(s.points, api.EntryPoint{InputPath: inputPath, OutputPath: encoded})
	}
	s.byPath[key] = append(s.byPath[key], encoded)
	return nil
}

// aliases lists the entry names that share an input with another entry.
func (s entrySet) aliases() []string {
	var names []string
	for _, encoded := range s.byPath {
		for _, alias := range encoded[1:] {
			names = append(names, builtin.DecodeEntryName(alias))
		}
	}
	sort.Strings(names)
	return names
}
