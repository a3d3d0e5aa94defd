package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
)

type Formatter struct{}

func NewFormatter() Formatter {
	return Formatter{}
}

func (f Formatter) Format(doc Document, format Format) (string, error) {
	switch format {
	case FormatTable:
		var buffer bytes.Buffer
		doc.writeTable(&buffer)
		return buffer.String(), nil
	case FormatJSON:
		payload, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return "", err
		}
		return string(payload) + "\n", nil
	case FormatSARIF:
		check, ok := doc.(CheckReport)
		if !ok {
			return "", fmt.Errorf("%w: sarif is only available for check", ErrUnknownFormat)
		}
		return formatSARIF(check)
	default:
		return "", ErrUnknownFormat
	}
}

func (r BuildReport) writeTable(buffer *bytes.Buffer) {
	if len(r.Passes) > 0 {
		buffer.WriteString("Passes:\n")
		for _, pass := range r.Passes {
			_, _ = fmt.Fprintf(buffer, "- %s (%s): %d entries -> %s\n", pass.Name, pass.Format, len(pass.Entries), pass.ManifestPath)
		}
		buffer.WriteString("\n")
	}

	if len(r.Manifest) == 0 {
		buffer.WriteString("Manifest is empty.\n")
	} else {
		writer := tabwriter.NewWriter(buffer, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(writer, "NAME\tURL\tKIND")
		for _, entry := range r.Manifest {
			_, _ = fmt.Fprintf(writer, "%s\t%s\t%s\n", entry.Name, entry.URL, entryKind(entry))
		}
		_ = writer.Flush()
	}
	appendWarnings(buffer, r.Warnings)
}

func (r CheckReport) writeTable(buffer *bytes.Buffer) {
	used := 0
	for _, module := range r.Modules {
		if module.Used {
			used++
		}
	}
	_, _ = fmt.Fprintf(buffer, "Summary: %d files, %d/%d builtin modules used, %d unknown\n\n", r.FilesScanned, used, len(r.Modules), len(r.Unknown))

	if len(r.Modules) > 0 {
		writer := tabwriter.NewWriter(buffer, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(writer, "MODULE\tSOURCE\tREFERENCES")
		for _, module := range r.Modules {
			_, _ = fmt.Fprintf(writer, "%s\t%s\t%s\n", module.Name, module.Source, formatReferences(module.References))
		}
		_ = writer.Flush()
	}

	appendFindings(buffer, "Unknown builtin modules", r.Unknown)
	appendFindings(buffer, "Node.js builtins in browser code", r.NodeBuiltins)
	if r.Cache != nil && r.Cache.Enabled {
		_, _ = fmt.Fprintf(buffer, "\nCache: %d hits, %d misses, %d writes\n", r.Cache.Hits, r.Cache.Misses, r.Cache.Writes)
	}
	appendWarnings(buffer, r.Warnings)
}

func (r KVReport) writeTable(buffer *bytes.Buffer) {
	_, _ = fmt.Fprintf(buffer, "kv-storage: %s\n", r.Status)
	switch r.Operation {
	case "get":
		if !r.Found {
			_, _ = fmt.Fprintf(buffer, "%s: (not set)\n", r.Key)
			return
		}
		payload, err := json.Marshal(r.Value)
		if err != nil {
			payload = []byte(fmt.Sprint(r.Value))
		}
		_, _ = fmt.Fprintf(buffer, "%s: %s\n", r.Key, payload)
	case "keys":
		if len(r.Keys) == 0 {
			buffer.WriteString("(no keys)\n")
			return
		}
		for _, key := range r.Keys {
			buffer.WriteString(key)
			buffer.WriteString("\n")
		}
	default:
		if r.Key == "" {
			_, _ = fmt.Fprintf(buffer, "%s: ok\n", r.Operation)
			return
		}
		_, _ = fmt.Fprintf(buffer, "%s %s: ok\n", r.Operation, r.Key)
	}
}

func entryKind(entry ManifestEntry) string {
	if entry.Builtin {
		return "builtin"
	}
	return "entry"
}

func formatReferences(locations []Location) string {
	if len(locations) == 0 {
		return "-"
	}
	items := make([]string, 0, len(locations))
	for _, location := range locations {
		items = append(items, location.String())
	}
	return strings.Join(items, ", ")
}

func appendFindings(buffer *bytes.Buffer, title string, findings []Finding) {
	if len(findings) == 0 {
		return
	}
	_, _ = fmt.Fprintf(buffer, "\n%s:\n", title)
	for _, finding := range findings {
		_, _ = fmt.Fprintf(buffer, "- %s: %s (%s)\n", finding.Location, finding.Specifier, finding.Kind)
	}
}

func appendWarnings(buffer *bytes.Buffer, warnings []string) {
	if len(warnings) == 0 {
		return
	}
	buffer.WriteString("\nWarnings:\n")
	for _, warning := range warnings {
		buffer.WriteString("- ")
		buffer.WriteString(warning)
		buffer.WriteString("\n")
	}
}
