// Package pipeline turns Markdown reports into standalone HTML documents.
//
// Diagnostics and monitoring reports are written as Markdown and pass through
// these stages before export:
//   - Markdown preprocessing (line normalization, ==critical== highlight syntax)
//   - Markdown to HTML conversion via Goldmark
//   - Link redaction, which strips query strings from document URLs
//   - CSS injection into the rendered document
//
// Render chains all stages. The individual stages are exported so callers can
// compose them differently.
package pipeline
