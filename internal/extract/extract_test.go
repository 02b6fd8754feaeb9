package extract

import (
	"strings"
	"testing"
)

func TestExtract_HTMLMainPrefersMainOverBody(t *testing.T) {
	body := `<!doctype html>
    <html>
      <head><title>Test Page</title></head>
      <body>
        <nav>Nav should be ignored</nav>
        <main>
          <h1>Main Heading</h1>
          <p>This is the main content paragraph, long enough to clear the minimum signal threshold for html_main selection in this test case.</p>
        </main>
        <footer>Footer text</footer>
      </body>
    </html>`

	doc := Extract([]byte(body), Options{ContentType: "text/html", MinSignalChars: 50})
	if doc.Engine != "html_main" {
		t.Fatalf("expected html_main engine, got %q", doc.Engine)
	}
	if doc.Title != "Test Page" {
		t.Fatalf("expected title 'Test Page', got %q", doc.Title)
	}
	if !strings.Contains(doc.Text, "Main Heading") {
		t.Fatalf("expected to contain main heading")
	}
	if strings.Contains(doc.Text, "Nav should be ignored") {
		t.Fatalf("did not expect nav text in extracted content")
	}
	if strings.Contains(doc.Text, "Footer text") {
		t.Fatalf("did not expect footer text in extracted content")
	}
}

func TestExtract_HTMLFallsBackToHTML2Text(t *testing.T) {
	body := `<!doctype html>
    <html>
      <head><title>No Main</title></head>
      <body>
        <h2>Body Heading</h2>
        <p>Body paragraph</p>
      </body>
    </html>`

	doc := Extract([]byte(body), Options{ContentType: "text/html", MinSignalChars: 5000})
	if doc.Engine != "html2text" {
		t.Fatalf("expected html2text fallback engine, got %q", doc.Engine)
	}
	if !strings.Contains(doc.Text, "Body Heading") || !strings.Contains(doc.Text, "Body paragraph") {
		t.Fatalf("expected body content, got %q", doc.Text)
	}
}

func TestExtract_HTMLPreservesCodeAndListItems(t *testing.T) {
	body := `<!doctype html>
    <html>
      <head><title>Code and List</title></head>
      <body>
        <article>
          <h3>Examples</h3>
          <ul>
            <li>First item</li>
            <li>Second item</li>
          </ul>
          <pre><code>print("hello")
print("world")</code></pre>
          <p>Extra paragraph text to clear the minimum signal length requirement for main content extraction.</p>
        </article>
      </body>
    </html>`

	doc := Extract([]byte(body), Options{ContentType: "text/html", MinSignalChars: 50})
	if !strings.Contains(doc.Text, "First item") || !strings.Contains(doc.Text, "Second item") {
		t.Fatalf("expected to contain list items; got: %q", doc.Text)
	}
	if !strings.Contains(doc.Text, `print("hello")`) || !strings.Contains(doc.Text, `print("world")`) {
		t.Fatalf("expected code block content to be preserved; got: %q", doc.Text)
	}
}

func TestExtract_MarkdownEngine(t *testing.T) {
	doc := Extract([]byte("# Title\n\nSome body text."), Options{ContentType: "text/markdown"})
	if doc.Engine != "markdown" {
		t.Fatalf("expected markdown engine, got %q", doc.Engine)
	}
	if !strings.Contains(doc.Text, "Some body text.") {
		t.Fatalf("expected markdown body text, got %q", doc.Text)
	}
}

func TestExtract_JSONEngine(t *testing.T) {
	doc := Extract([]byte(`{"a":1,"b":"two"}`), Options{ContentType: "application/json"})
	if doc.Engine != "json" {
		t.Fatalf("expected json engine, got %q", doc.Engine)
	}
	if !strings.Contains(doc.Text, `"b": "two"`) {
		t.Fatalf("expected pretty-printed json, got %q", doc.Text)
	}
}

func TestExtract_PDFMissingBytesWarns(t *testing.T) {
	doc := Extract([]byte("%PDF-not-really-a-pdf"), Options{ContentType: "application/pdf"})
	if doc.Engine != "pdf" {
		t.Fatalf("expected pdf engine, got %q", doc.Engine)
	}
	found := false
	for _, w := range doc.Warnings {
		if w == WarnTextUnavailableForPDF {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected text_unavailable_for_pdf warning, got %v", doc.Warnings)
	}
}

func TestExtract_MaxCharsTruncates(t *testing.T) {
	doc := Extract([]byte(strings.Repeat("a", 100)), Options{ContentType: "text/plain", MaxChars: 10})
	if len([]rune(doc.Text)) != 10 {
		t.Fatalf("expected 10 chars, got %d", len([]rune(doc.Text)))
	}
	found := false
	for _, w := range doc.Warnings {
		if w == WarnTextTruncatedByMaxChars {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected text_truncated_by_max_chars warning, got %v", doc.Warnings)
	}
}

func TestExtract_EmptyTextWarns(t *testing.T) {
	doc := Extract([]byte(""), Options{ContentType: "text/plain"})
	if len(doc.Warnings) == 0 || doc.Warnings[0] != WarnEmptyExtraction {
		t.Fatalf("expected empty_extraction warning, got %v", doc.Warnings)
	}
}

func TestNormalizeWarning_MapsLegacyCodes(t *testing.T) {
	if got := NormalizeWarning("no_text_extracted"); got != WarnEmptyExtraction {
		t.Fatalf("expected normalized empty_extraction, got %q", got)
	}
	if got := NormalizeWarning("already_canonical"); got != "already_canonical" {
		t.Fatalf("expected passthrough for unknown code, got %q", got)
	}
}

func TestIsUIShell_DetectsListHeavyPage(t *testing.T) {
	s := Structure{
		Blocks: []Block{
			{Kind: "list_item", Text: "a"},
			{Kind: "list_item", Text: "b"},
			{Kind: "list_item", Text: "c"},
			{Kind: "paragraph", Text: "d"},
		},
	}
	if !IsUIShell(s) {
		t.Fatalf("expected list-heavy short-block structure to be flagged as a UI shell")
	}
}
