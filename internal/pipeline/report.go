package pipeline

import (
	"context"
	"fmt"
)

// Render converts a Markdown report into a standalone HTML document styled
// with css. Links to remote documents are redacted.
func Render(ctx context.Context, title, markdown, css string) (string, error) {
	return defaultReportRenderer.Render(ctx, title, markdown, css)
}

// ReportRenderer chains the report stages.
type ReportRenderer struct {
	Preprocessor MarkdownPreprocessor
	Converter    HTMLConverter
	Injector     CSSInjector
}

// NewReportRenderer returns a ReportRenderer using the Goldmark stages.
func NewReportRenderer() *ReportRenderer {
	return &ReportRenderer{
		Preprocessor: &CommonMarkPreprocessor{},
		Converter:    NewGoldmarkConverter(),
		Injector:     &CSSInjection{},
	}
}

var defaultReportRenderer = NewReportRenderer()

// Render runs preprocess, convert, mark conversion, redaction and CSS injection.
func (r *ReportRenderer) Render(ctx context.Context, title, markdown, css string) (string, error) {
	content := r.Preprocessor.PreprocessMarkdown(ctx, markdown)

	htmlContent, err := r.Converter.ToHTML(ctx, title, content)
	if err != nil {
		return "", err
	}
	htmlContent = ConvertMarkPlaceholders(htmlContent)

	htmlContent, err = RedactLinks(htmlContent)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrHTMLConversion, err)
	}

	return r.Injector.InjectCSS(ctx, htmlContent, css), nil
}
