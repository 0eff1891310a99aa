package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestCommonMarkPreprocessor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "CRLF normalized",
			input: "a\r\nb\rc",
			want:  "a\nb\nc",
		},
		{
			name:  "blank lines compressed",
			input: "a\n\n\n\n\nb",
			want:  "a\n\nb",
		},
		{
			name:  "highlight replaced by placeholders",
			input: "see ==critical== here",
			want:  "see " + MarkStartPlaceholder + "critical" + MarkEndPlaceholder + " here",
		},
		{
			name:  "unterminated highlight untouched",
			input: "a == b",
			want:  "a == b",
		},
	}

	p := &CommonMarkPreprocessor{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := p.PreprocessMarkdown(context.Background(), tt.input)
			if got != tt.want {
				t.Errorf("PreprocessMarkdown() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPreprocessMarkdown_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &CommonMarkPreprocessor{}
	if got := p.PreprocessMarkdown(ctx, "a\r\n"); got != "a\r\n" {
		t.Errorf("PreprocessMarkdown() = %q, want input unchanged", got)
	}
}

func TestGoldmarkConverter_ToHTML(t *testing.T) {
	t.Parallel()

	c := NewGoldmarkConverter()

	t.Run("escapes title", func(t *testing.T) {
		t.Parallel()

		got, err := c.ToHTML(context.Background(), "<b>x</b>", "# Heading")
		if err != nil {
			t.Fatalf("ToHTML() error = %v", err)
		}
		if !strings.Contains(got, "<title>&lt;b&gt;x&lt;/b&gt;</title>") {
			t.Errorf("title not escaped: %s", got)
		}
		if !strings.Contains(got, `<h1 id="heading">Heading</h1>`) {
			t.Errorf("heading missing: %s", got)
		}
	})

	t.Run("default title", func(t *testing.T) {
		t.Parallel()

		got, err := c.ToHTML(context.Background(), "", "text")
		if err != nil {
			t.Fatalf("ToHTML() error = %v", err)
		}
		if !strings.Contains(got, "<title>"+DefaultTitle+"</title>") {
			t.Errorf("default title missing: %s", got)
		}
	})

	t.Run("tables", func(t *testing.T) {
		t.Parallel()

		got, err := c.ToHTML(context.Background(), "t", "| a | b |\n|---|---|\n| 1 | 2 |\n")
		if err != nil {
			t.Fatalf("ToHTML() error = %v", err)
		}
		if !strings.Contains(got, "<table>") {
			t.Errorf("table missing: %s", got)
		}
	})

	t.Run("raw HTML omitted", func(t *testing.T) {
		t.Parallel()

		got, err := c.ToHTML(context.Background(), "t", "<script>alert(1)</script>")
		if err != nil {
			t.Fatalf("ToHTML() error = %v", err)
		}
		if strings.Contains(got, "<script>") {
			t.Errorf("raw script rendered: %s", got)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := c.ToHTML(ctx, "t", "x")
		if !errors.Is(err, context.Canceled) {
			t.Errorf("ToHTML() error = %v, want context.Canceled", err)
		}
	})
}

func TestInjectCSS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		html string
		css  string
		want string
	}{
		{
			name: "before head close",
			html: "<html><head></head><body></body></html>",
			css:  "p{}",
			want: "<html><head><style>p{}</style></head><body></body></html>",
		},
		{
			name: "after body open",
			html: `<body class="x">hi</body>`,
			css:  "p{}",
			want: `<body class="x"><style>p{}</style>hi</body>`,
		},
		{
			name: "prepended",
			html: "<p>hi</p>",
			css:  "p{}",
			want: "<style>p{}</style><p>hi</p>",
		},
		{
			name: "empty css",
			html: "<p>hi</p>",
			css:  "",
			want: "<p>hi</p>",
		},
		{
			name: "style close escaped",
			html: "<p>hi</p>",
			css:  "</style><script>",
			want: `<style><\/style><script></style><p>hi</p>`,
		},
	}

	inj := &CSSInjection{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := inj.InjectCSS(context.Background(), tt.html, tt.css); got != tt.want {
				t.Errorf("InjectCSS() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRedactURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"https://cdn.example.com/a.pdf?sig=abc&exp=1", "https://cdn.example.com/a.pdf"},
		{"http://example.com/a.pdf#page=2", "http://example.com/a.pdf"},
		{"https://example.com/a.pdf", "https://example.com/a.pdf"},
		{"#section", "#section"},
		{"docs/a.pdf?x=1", "docs/a.pdf?x=1"},
		{"data:image/png;base64,AAAA", "data:image/png;base64,AAAA"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			if got := RedactURL(tt.in); got != tt.want {
				t.Errorf("RedactURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRedactLinks(t *testing.T) {
	t.Parallel()

	t.Run("fragment", func(t *testing.T) {
		t.Parallel()

		got, err := RedactLinks(`<p><a href="https://x.test/d.pdf?token=secret">doc</a><img src="https://x.test/i.png?k=v"/></p>`)
		if err != nil {
			t.Fatalf("RedactLinks() error = %v", err)
		}
		if strings.Contains(got, "secret") || strings.Contains(got, "k=v") {
			t.Errorf("query leaked: %s", got)
		}
		if strings.Contains(got, "<html>") {
			t.Errorf("fragment wrapped in document: %s", got)
		}
	})

	t.Run("full document", func(t *testing.T) {
		t.Parallel()

		got, err := RedactLinks(`<!DOCTYPE html><html><head></head><body><a href="#top">top</a></body></html>`)
		if err != nil {
			t.Fatalf("RedactLinks() error = %v", err)
		}
		if !strings.Contains(got, `href="#top"`) {
			t.Errorf("anchor changed: %s", got)
		}
	})
}

func TestRender(t *testing.T) {
	t.Parallel()

	md := "# Rendering r-1\n\n==failed==\n\n[source](https://x.test/a.pdf?sig=zzz)\n"
	got, err := Render(context.Background(), "Diagnostics", md, "mark{color:red}")
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	for _, want := range []string{"<mark>failed</mark>", "<style>mark{color:red}</style>", "<title>Diagnostics</title>", `href="https://x.test/a.pdf"`} {
		if !strings.Contains(got, want) {
			t.Errorf("Render() missing %q in %s", want, got)
		}
	}
	if strings.Contains(got, "sig=zzz") {
		t.Errorf("Render() leaked query: %s", got)
	}
}
