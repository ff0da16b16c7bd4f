package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"

	"github.com/strata-dev/strata/pkg/engine"
	"github.com/strata-dev/strata/pkg/policy"
	"github.com/strata-dev/strata/pkg/stores"
)

// Output formats accepted by --output.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

var (
	colorPrimary = lipgloss.Color("#7C3AED")
	colorMuted   = lipgloss.Color("#6B7280")
	colorSuccess = lipgloss.Color("#10B981")
	colorError   = lipgloss.Color("#EF4444")
	colorWarning = lipgloss.Color("#F59E0B")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorError)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning)

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// newTable returns a table with the shared border and header styling.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// writeStructured encodes v as JSON or YAML.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format %q (want text, json or yaml)", format)
	}
}

func renderProfiles(w io.Writer, profiles []engine.Profile) {
	t := newTable("PROFILE", "UNITS", "DESCRIPTION")
	for _, p := range profiles {
		t.Row(p.Name, strings.Join(p.Units, ", "), p.Description)
	}
	fmt.Fprintln(w, t.String())
}

func renderPlan(w io.Writer, plan *engine.BuildPlan) {
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render("Plan for profile"), plan.Profile)
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("id %s, %d units, depth %d", plan.ID, plan.Len(), plan.Depth)))

	t := newTable("#", "UNIT", "LEVEL", "DEPENDS ON", "PRODUCES")
	for _, s := range plan.Steps {
		t.Row(
			fmt.Sprint(s.Position),
			s.Unit,
			fmt.Sprint(s.Level),
			strings.Join(s.DependsOn, ", "),
			strings.Join(s.Produces, ", "),
		)
	}
	fmt.Fprintln(w, t.String())
}

func renderRun(w io.Writer, run *engine.Run) {
	t := newTable("#", "UNIT", "STATUS", "DURATION", "PRODUCED")
	for _, u := range run.Units {
		t.Row(
			fmt.Sprint(u.Position),
			u.Unit,
			statusStyle(string(u.Status)).Render(string(u.Status)),
			u.Duration.Round(time.Microsecond).String(),
			strings.Join(u.Produced, ", "),
		)
	}
	fmt.Fprintln(w, t.String())

	s := run.Summary()
	line := fmt.Sprintf("run %s: %d succeeded, %d failed, %d skipped, %d capabilities",
		run.ID, s.Succeeded, s.Failed, s.Skipped, s.Capabilities)
	fmt.Fprintln(w, statusStyle(string(run.Status)).Render(line))
}

func renderViolations(w io.Writer, profile string, result *policy.Result) {
	if len(result.Violations) == 0 && len(result.Warnings) == 0 {
		fmt.Fprintf(w, "%s %s: %d policies passed\n", successStyle.Render("✓"), profile, len(result.Evaluated))
		return
	}
	for _, v := range result.Violations {
		style := warningStyle
		if v.Severity.Blocking() {
			style = errorStyle
		}
		subject := profile
		if v.Unit != "" {
			subject += "/" + v.Unit
		}
		fmt.Fprintf(w, "%s %s [%s] %s\n", style.Render(string(v.Severity)), subject, v.Policy, v.Message)
	}
	for _, msg := range result.Warnings {
		fmt.Fprintf(w, "%s %s %s\n", warningStyle.Render("skipped"), profile, msg)
	}
}

func renderHistory(w io.Writer, runs []*stores.Run) {
	t := newTable("RUN", "PROFILE", "STATUS", "STARTED", "DURATION", "ERROR")
	for _, r := range runs {
		errMsg := ""
		if r.Error != nil {
			errMsg = *r.Error
		}
		t.Row(
			r.ID,
			r.Profile,
			statusStyle(string(r.Status)).Render(string(r.Status)),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			fmt.Sprintf("%dms", r.DurationMS),
			errMsg,
		)
	}
	fmt.Fprintln(w, t.String())
}

func renderOutputs(w io.Writer, outputs []*stores.CapabilityOutput) {
	t := newTable("CAPABILITY", "PRODUCER", "VALUE")
	for _, o := range outputs {
		t.Row(o.Name, o.Producer, o.Value)
	}
	fmt.Fprintln(w, t.String())
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case "succeeded":
		return successStyle
	case "failed":
		return errorStyle
	case "skipped", "pending":
		return mutedStyle
	default:
		return lipgloss.NewStyle()
	}
}
