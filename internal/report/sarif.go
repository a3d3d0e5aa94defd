package report

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

const (
	sarifSchemaURI = "https://json.schemastore.org/sarif-2.1.0.json"
	sarifVersion   = "2.1.0"

	ruleUnknownBuiltin = "stdmod/builtin/unknown-module"
	ruleNodeBuiltin    = "stdmod/compat/node-builtin"
	ruleUnusedBuiltin  = "stdmod/builtin/unused-module"
)

type sarifLog struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	InformationURI string      `json:"informationUri,omitempty"`
	Version        string      `json:"version,omitempty"`
	Rules          []sarifRule `json:"rules,omitempty"`
}

type sarifRule struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name,omitempty"`
	ShortDescription sarifMessage           `json:"shortDescription"`
	Help             *sarifMessage          `json:"help,omitempty"`
	Properties       map[string]interface{} `json:"properties,omitempty"`
}

type sarifResult struct {
	RuleID     string                 `json:"ruleId"`
	Level      string                 `json:"level,omitempty"`
	Message    sarifMessage           `json:"message"`
	Locations  []sarifLocation        `json:"locations,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           *sarifRegion          `json:"region,omitempty"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	StartLine   int `json:"startLine,omitempty"`
	StartColumn int `json:"startColumn,omitempty"`
}

var sarifRules = map[string]sarifRule{
	ruleUnknownBuiltin: {
		ID:               ruleUnknownBuiltin,
		Name:             "unknown-builtin-module",
		ShortDescription: sarifMessage{Text: "std: specifier has no configured source"},
		Help:             &sarifMessage{Text: "Add the module to the modules table or fix the specifier; the build fails until it resolves."},
		Properties:       map[string]interface{}{"category": "builtin"},
	},
	ruleNodeBuiltin: {
		ID:               ruleNodeBuiltin,
		Name:             "node-builtin-import",
		ShortDescription: sarifMessage{Text: "Browser code imports a Node.js core module"},
		Help:             &sarifMessage{Text: "Node.js core modules are not available on the browser platform."},
		Properties:       map[string]interface{}{"category": "compat"},
	},
	ruleUnusedBuiltin: {
		ID:               ruleUnusedBuiltin,
		Name:             "unused-builtin-module",
		ShortDescription: sarifMessage{Text: "Configured builtin module is never imported"},
		Help:             &sarifMessage{Text: "Unused modules still get an entry and a manifest line; remove them from the modules table if they are not needed."},
		Properties:       map[string]interface{}{"category": "builtin"},
	},
}

func formatSARIF(rep CheckReport) (string, error) {
	results := make([]sarifResult, 0, len(rep.Unknown)+len(rep.NodeBuiltins))
	used := make(map[string]bool)

	for _, finding := range rep.Unknown {
		results = append(results, findingResult(ruleUnknownBuiltin, "error", fmt.Sprintf("%s is not a configured builtin module.", finding.Specifier), finding))
		used[ruleUnknownBuiltin] = true
	}
	for _, finding := range rep.NodeBuiltins {
		results = append(results, findingResult(ruleNodeBuiltin, "warning", fmt.Sprintf("%s is a Node.js core module.", finding.Specifier), finding))
		used[ruleNodeBuiltin] = true
	}
	for _, module := range rep.Modules {
		if module.Used {
			continue
		}
		results = append(results, sarifResult{
			RuleID:     ruleUnusedBuiltin,
			Level:      "note",
			Message:    sarifMessage{Text: fmt.Sprintf("%s is configured but never imported.", module.Name)},
			Locations:  []sarifLocation{toSARIFLocation(Location{File: module.Source})},
			Properties: map[string]interface{}{"specifier": module.Name},
		})
		used[ruleUnusedBuiltin] = true
	}
	sortSARIFResults(results)

	log := sarifLog{
		Schema:  sarifSchemaURI,
		Version: sarifVersion,
		Runs: []sarifRun{
			{
				Tool: sarifTool{
					Driver: sarifDriver{
						Name:           "stdmod",
						InformationURI: "https://github.com/ben-ranford/stdmod",
						Version:        reportVersion(rep.SchemaVersion),
						Rules:          ruleList(used),
					},
				},
				Results: results,
			},
		},
	}

	payload, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return "", err
	}
	return string(payload) + "\n", nil
}

func findingResult(ruleID, level, message string, finding Finding) sarifResult {
	return sarifResult{
		RuleID:    ruleID,
		Level:     level,
		Message:   sarifMessage{Text: message},
		Locations: []sarifLocation{toSARIFLocation(finding.Location)},
		Properties: map[string]interface{}{
			"specifier": finding.Specifier,
			"kind":      finding.Kind,
		},
	}
}

func ruleList(used map[string]bool) []sarifRule {
	ids := make([]string, 0, len(used))
	for id := range used {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rules := make([]sarifRule, 0, len(ids))
	for _, id := range ids {
		rules = append(rules, sarifRules[id])
	}
	return rules
}

func reportVersion(version string) string {
	version = strings.TrimSpace(version)
	if version == "" {
		version = SchemaVersion
	}
	return version
}

func toSARIFLocation(location Location) sarifLocation {
	result := sarifLocation{
		PhysicalLocation: sarifPhysicalLocation{
			ArtifactLocation: sarifArtifactLocation{URI: filepath.ToSlash(location.File)},
		},
	}
	if location.Line > 0 {
		result.PhysicalLocation.Region = &sarifRegion{StartLine: location.Line, StartColumn: location.Column}
	}
	return result
}

func sortSARIFResults(results []sarifResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].RuleID != results[j].RuleID {
			return results[i].RuleID < results[j].RuleID
		}
		return resultLocationKey(results[i]) < resultLocationKey(results[j])
	})
}

func resultLocationKey(result sarifResult) string {
	if len(result.Locations) == 0 {
		return ""
	}
	physical := result.Locations[0].PhysicalLocation
	key := physical.ArtifactLocation.URI
	if physical.Region != nil {
		key = fmt.Sprintf("%s:%08d:%08d", key, physical.Region.StartLine, physical.Region.StartColumn)
	}
	return key
}
