package reconcile

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gookit/color"
	"github.com/mattn/go-runewidth"
	"gopkg.in/yaml.v3"
)

// Report formats accepted by Render.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// maxListedFailures caps the failures printed by the text summary.
const maxListedFailures = 20

type reasonCount struct {
	Reason Reason `json:"reason" yaml:"reason"`
	Count  int    `json:"count" yaml:"count"`
}

type failureView struct {
	Row    int    `json:"row" yaml:"row"`
	Key    string `json:"key,omitempty" yaml:"key,omitempty"`
	Record string `json:"record,omitempty" yaml:"record,omitempty"`
	Stage  Stage  `json:"stage,omitempty" yaml:"stage,omitempty"`
	Error  string `json:"error" yaml:"error"`
}

type reportView struct {
	Job         string        `json:"job" yaml:"job"`
	DryRun      bool          `json:"dry_run" yaml:"dry_run"`
	Total       int           `json:"total" yaml:"total"`
	Resolved    int           `json:"resolved" yaml:"resolved"`
	Skipped     int           `json:"skipped" yaml:"skipped"`
	Failed      int           `json:"failed" yaml:"failed"`
	ExitCode    int           `json:"exit_code" yaml:"exit_code"`
	DurationMS  int64         `json:"duration_ms" yaml:"duration_ms"`
	SkipReasons []reasonCount `json:"skip_reasons" yaml:"skip_reasons"`
	Failures    []failureView `json:"failures" yaml:"failures"`
	Outcomes    []Outcome     `json:"outcomes,omitempty" yaml:"outcomes,omitempty"`
}

func (r *Report) view(withOutcomes bool) reportView {
	v := reportView{
		Job:         r.Job,
		DryRun:      r.DryRun,
		Total:       r.Total,
		Resolved:    r.Resolved,
		Skipped:     r.Skipped,
		Failed:      r.Failed,
		ExitCode:    r.ExitCode(),
		DurationMS:  r.Duration.Milliseconds(),
		SkipReasons: []reasonCount{},
		Failures:    []failureView{},
	}
	for el := r.SkipReasons.Front(); el != nil; el = el.Next() {
		v.SkipReasons = append(v.SkipReasons, reasonCount{Reason: el.Key, Count: el.Value})
	}
	for _, o := range r.Failures() {
		f := failureView{Row: o.Row, Key: o.Key, Record: o.Record, Stage: o.Stage()}
		if o.Err != nil {
			f.Error = o.Err.Error()
		}
		v.Failures = append(v.Failures, f)
	}
	if withOutcomes {
		v.Outcomes = r.Outcomes
	}
	return v
}

// RenderOptions controls Render.
type RenderOptions struct {
	Format   string
	Color    bool
	Outcomes bool
}

// Render writes reports in the requested format.
func Render(w io.Writer, reports []*Report, opts RenderOptions) error {
	switch opts.Format {
	case FormatText, "":
		return renderText(w, reports, opts.Color)
	case FormatJSON:
		views := make([]reportView, len(reports))
		for i, r := range reports {
			views[i] = r.view(opts.Outcomes)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	case FormatYAML:
		views := make([]reportView, len(reports))
		for i, r := range reports {
			views[i] = r.view(opts.Outcomes)
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(views); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown report format %q (expected text, json or yaml)", opts.Format)
	}
}

func renderText(w io.Writer, reports []*Report, colored bool) error {
	paint := func(c color.Color, s string) string {
		if !colored {
			return s
		}
		return c.Sprint(s)
	}

	nameWidth := runewidth.StringWidth("JOB")
	for _, r := range reports {
		if n := runewidth.StringWidth(r.Job); n > nameWidth {
			nameWidth = n
		}
	}

	var b strings.Builder
	header := fmt.Sprintf("%s  %8s  %8s  %8s  %8s  %s",
		runewidth.FillRight("JOB", nameWidth), "TOTAL", "RESOLVED", "SKIPPED", "FAILED", "SKIP REASONS")
	b.WriteString(paint(color.Bold, header) + "\n")
	b.WriteString(strings.Repeat("-", runewidth.StringWidth(header)) + "\n")

	for _, r := range reports {
		var reasons []string
		for el := r.SkipReasons.Front(); el != nil; el = el.Next() {
			reasons = append(reasons, fmt.Sprintf("%s=%d", el.Key, el.Value))
		}
		fmt.Fprintf(&b, "%s  %8d  %s  %s  %s  %s\n",
			runewidth.FillRight(r.Job, nameWidth),
			r.Total,
			paint(color.Green, fmt.Sprintf("%8d", r.Resolved)),
			paint(color.Yellow, fmt.Sprintf("%8d", r.Skipped)),
			paint(color.Red, fmt.Sprintf("%8d", r.Failed)),
			strings.Join(reasons, ", "))
		if r.DryRun {
			fmt.Fprintf(&b, "%s  (dry run: nothing was written)\n", runewidth.FillRight("", nameWidth))
		}
	}

	for _, r := range reports {
		failures := r.Failures()
		if len(failures) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s\n", paint(color.Red, fmt.Sprintf("%s: %d failed", r.Job, len(failures))))
		for i, o := range failures {
			if i == maxListedFailures {
				fmt.Fprintf(&b, "  ... and %d more\n", len(failures)-maxListedFailures)
				break
			}
			fmt.Fprintf(&b, "  row %d key=%s record=%s: %v\n", o.Row, o.Key, o.Record, o.Err)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
