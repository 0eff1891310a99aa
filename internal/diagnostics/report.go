package diagnostics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alnah/go-pdfrender/internal/assets"
	"github.com/alnah/go-pdfrender/internal/pipeline"
)

// Report renders d as a Markdown text report. Non-recoverable errors are
// highlighted with ==text== so the HTML export marks them.
func (c *Collector) Report(d *Data) string {
	if d == nil {
		return ""
	}
	var b strings.Builder
	WriteReport(&b, d, c.IdentifyBottlenecks(d))
	return b.String()
}

// ReportHTML renders d as a standalone HTML document.
func (c *Collector) ReportHTML(ctx context.Context, d *Data) (string, error) {
	if d == nil {
		return "", ErrNotFound
	}
	css, err := c.Stylesheet()
	if err != nil {
		return "", err
	}
	return pipeline.Render(ctx, "Rendering "+d.RenderingID, c.Report(d), css)
}

// Stylesheet returns the CSS applied to HTML reports.
func (c *Collector) Stylesheet() (string, error) {
	if c == nil || c.loader == nil {
		return assets.LoadStyle(assets.DefaultStyleName)
	}
	return c.loader.LoadStyle(assets.DefaultStyleName)
}

// WriteReport writes the Markdown report of d to b.
func WriteReport(b *strings.Builder, d *Data, bottlenecks []string) {
	outcome := "in progress"
	switch {
	case !d.EndTime.IsZero() && d.Success:
		outcome = "succeeded"
	case !d.EndTime.IsZero():
		outcome = "==failed=="
	}

	fmt.Fprintf(b, "## Rendering %s\n\n", d.RenderingID)
	fmt.Fprintf(b, "- URL: %s\n", pipeline.RedactURL(d.URL))
	if d.ParentRenderingID != "" {
		fmt.Fprintf(b, "- Retry of: %s\n", d.ParentRenderingID)
	}
	fmt.Fprintf(b, "- Outcome: %s\n", outcome)
	fmt.Fprintf(b, "- Document type: %s\n", d.DocumentType)
	fmt.Fprintf(b, "- Started: %s\n", d.StartTime.Format(time.RFC3339))
	if !d.EndTime.IsZero() {
		fmt.Fprintf(b, "- Total time: %s\n", d.TotalTime.Round(time.Millisecond))
	}
	fmt.Fprintf(b, "- Platform: %s (%s)\n\n", d.Browser.Platform, d.Browser.Runtime)

	if len(d.Stages) > 0 {
		b.WriteString("### Stages\n\n| Stage | Method | Elapsed |\n|---|---|---|\n")
		for _, s := range d.Stages {
			fmt.Fprintf(b, "| %s | %s | %s |\n", s.Stage, dash(s.Method.String()), s.Elapsed.Round(time.Millisecond))
		}
		b.WriteString("\n")
	}

	if len(d.Methods) > 0 {
		b.WriteString("### Methods\n\n| Method | Result | Duration | Pages |\n|---|---|---|---|\n")
		for _, m := range d.Methods {
			result := "ok"
			if !m.Success {
				result = "failed"
			}
			fmt.Fprintf(b, "| %s | %s | %s | %d |\n", m.Method, result, m.Duration.Round(time.Millisecond), m.Pages)
		}
		b.WriteString("\n")
	}

	p := d.Performance
	b.WriteString("### Performance\n\n")
	fmt.Fprintf(b, "- Network: %s\n", p.NetworkTime.Round(time.Millisecond))
	fmt.Fprintf(b, "- Parse: %s\n", p.ParseTime.Round(time.Millisecond))
	fmt.Fprintf(b, "- Render: %s\n", p.RenderTime.Round(time.Millisecond))
	fmt.Fprintf(b, "- Memory: %.1f MB\n", float64(p.MemoryUsage)/(1<<20))
	fmt.Fprintf(b, "- Pages: %d\n\n", p.PageCount)

	if len(d.Errors) > 0 {
		b.WriteString("### Errors\n\n")
		for _, e := range d.Errors {
			line := fmt.Sprintf("%s at %s: %s", e.Type, e.Stage, escapeMarkdown(e.Message))
			if !e.Recoverable {
				line = "==" + line + "=="
			}
			fmt.Fprintf(b, "- %s\n", line)
		}
		b.WriteString("\n")
	}

	if len(bottlenecks) > 0 {
		b.WriteString("### Bottlenecks\n\n")
		for _, l := range bottlenecks {
			fmt.Fprintf(b, "- %s\n", l)
		}
		b.WriteString("\n")
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

var markdownEscaper = strings.NewReplacer("|", `\|`, "=", `\=`, "`", "\\`", "*", `\*`, "_", `\_`, "[", `\[`, "]", `\]`, "<", "&lt;")

// escapeMarkdown keeps error messages from altering report structure.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(strings.ReplaceAll(s, "\n", " "))
}
