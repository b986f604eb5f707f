// Package output renders CLI results as tables, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Format represents output format
type Format string

const (
	FormatTable Format = "table"
	FormatWide  Format = "wide"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string
func ParseFormat(s string) Format {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON
	case "yaml", "yml":
		return FormatYAML
	case "wide":
		return FormatWide
	default:
		return FormatTable
	}
}

// Printer handles formatted output
type Printer struct {
	format  Format
	writer  io.Writer
	noColor bool
}

// NewPrinter creates a new printer
func NewPrinter(format Format) *Printer {
	return &Printer{
		format:  format,
		writer:  os.Stdout,
		noColor: os.Getenv("NO_COLOR") != "",
	}
}

// SetWriter sets the output writer
func (p *Printer) SetWriter(w io.Writer) {
	p.writer = w
}

// SetNoColor disables ANSI colors
func (p *Printer) SetNoColor(v bool) {
	p.noColor = v
}

// Print outputs data as JSON or YAML. Table formats fall back to JSON.
func (p *Printer) Print(data any) error {
	if p.format == FormatYAML {
		enc := yaml.NewEncoder(p.writer)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(data)
	}
	enc := json.NewEncoder(p.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// Color codes
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Cyan   = "\033[36m"
	Gray   = "\033[90m"
)

// Colorize adds color to text
func (p *Printer) Colorize(color, text string) string {
	if p.noColor {
		return text
	}
	return color + text + Reset
}

// TableWriter creates a tabwriter for aligned output
func (p *Printer) TableWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(p.writer, 0, 0, 2, ' ', 0)
}

// TenantRow represents a tenant in table output
type TenantRow struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Plan    string `json:"plan" yaml:"plan"`
	Status  string `json:"status" yaml:"status"`
	Created string `json:"created" yaml:"created"`
	Updated string `json:"updated,omitempty" yaml:"updated,omitempty"`
}

// PrintTenants prints the tenant registry
func (p *Printer) PrintTenants(rows []TenantRow) error {
	if p.format == FormatJSON || p.format == FormatYAML {
		return p.Print(rows)
	}

	if len(rows) == 0 {
		fmt.Fprintln(p.writer, "No tenants found")
		return nil
	}

	w := p.TableWriter()
	if p.format == FormatWide {
		fmt.Fprintln(w, p.Colorize(Bold, "ID\tNAME\tPLAN\tSTATUS\tCREATED\tUPDATED"))
	} else {
		fmt.Fprintln(w, p.Colorize(Bold, "ID\tNAME\tPLAN\tSTATUS"))
	}
	for _, row := range rows {
		status := row.Status
		if status == "active" {
			status = p.Colorize(Green, status)
		} else {
			status = p.Colorize(Yellow, status)
		}
		if p.format == FormatWide {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				p.Colorize(Cyan, row.ID), row.Name, row.Plan, status, row.Created, row.Updated)
		} else {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				p.Colorize(Cyan, row.ID), row.Name, row.Plan, status)
		}
	}
	return w.Flush()
}

// ModuleRow represents one module entitlement in table output
type ModuleRow struct {
	ID      string `json:"module_id" yaml:"module_id"`
	Name    string `json:"name" yaml:"name"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// PrintModules prints a tenant's module entitlements
func (p *Printer) PrintModules(tenantID string, rows []ModuleRow) error {
	if p.format == FormatJSON || p.format == FormatYAML {
		return p.Print(map[string]any{"tenant_id": tenantID, "modules": rows})
	}

	w := p.TableWriter()
	fmt.Fprintln(w, p.Colorize(Bold, "MODULE\tNAME\tENABLED"))
	for _, row := range rows {
		enabled := p.Colorize(Gray, "no")
		if row.Enabled {
			enabled = p.Colorize(Green, "yes")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", row.ID, row.Name, enabled)
	}
	return w.Flush()
}

// Success prints a success message
func (p *Printer) Success(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(p.writer, p.Colorize(Green, "✓ ")+msg)
}

// Error prints an error message
func (p *Printer) Error(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(p.writer, p.Colorize(Red, "✗ ")+msg)
}

// Warning prints a warning message
func (p *Printer) Warning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(p.writer, p.Colorize(Yellow, "⚠ ")+msg)
}
