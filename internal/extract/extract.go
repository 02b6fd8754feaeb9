// Package extract dispatches fetched bytes to a content-type-specific
// engine and produces readable text plus a canonical warning list.
package extract

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// Warning codes, normalized per the canonical taxonomy.
const (
	WarnBodyTruncatedByMaxBytes          = "body_truncated_by_max_bytes"
	WarnTextTruncatedByMaxChars          = "text_truncated_by_max_chars"
	WarnEmptyExtraction                  = "empty_extraction"
	WarnMainContentLowSignal             = "main_content_low_signal"
	WarnChunksFilteredLowSignal          = "chunks_filtered_low_signal"
	WarnBlockedByJSChallenge             = "blocked_by_js_challenge"
	WarnRetriedDueToTruncation           = "retried_due_to_truncation"
	WarnTruncationRetryFailed            = "truncation_retry_failed"
	WarnLinksUnavailable                 = "links_unavailable"
	WarnHeadersUnavailable               = "headers_unavailable"
	WarnCacheOnly                        = "cache_only"
	WarnPartialResults                   = "partial_results"
	WarnProviderFailover                 = "provider_failover"
	WarnTavilyUsed                       = "tavily_used"
	WarnFirecrawlFallbackOnEmpty         = "firecrawl_fallback_on_empty_extraction"
	WarnFirecrawlFallbackOnLowSignal     = "firecrawl_fallback_on_low_signal"
	WarnFirecrawlAgentic                 = "firecrawl_agentic"
	WarnUnsafeRequestHeadersDropped      = "unsafe_request_headers_dropped"
	WarnTextUnavailableForPDF            = "text_unavailable_for_pdf"
)

// legacyWarningAliases maps older/looser warning spellings onto the
// canonical static codes above, so callers that still emit the legacy form
// (e.g. from a half-migrated caller) normalize on the way into a result.
var legacyWarningAliases = map[string]string{
	"truncated_by_max_bytes": WarnBodyTruncatedByMaxBytes,
	"truncated_by_max_chars": WarnTextTruncatedByMaxChars,
	"no_text_extracted":      WarnEmptyExtraction,
	"low_signal":             WarnMainContentLowSignal,
	"js_challenge":           WarnBlockedByJSChallenge,
}

// NormalizeWarning maps a possibly-legacy warning string onto its canonical
// code, leaving already-canonical and unknown codes unchanged.
func NormalizeWarning(code string) string {
	if canon, ok := legacyWarningAliases[code]; ok {
		return canon
	}
	return code
}

// Document is the extracted text plus the engine that produced it and the
// warnings raised while producing it.
type Document struct {
	Engine    string
	Title     string
	Text      string
	Warnings  []string
	Truncated bool // true when Text was clipped to MaxChars
}

// Outline is a single heading captured by structure extraction.
type Outline struct {
	Level int
	Text  string
}

// Block is one paragraph/list-item/code/heading unit of structured content.
type Block struct {
	Kind string // paragraph, list_item, code, heading
	Text string
}

// Structure is the optional {title?, outline, blocks} shape used by higher
// layers to detect "UI shell" pages via shape ratios.
type Structure struct {
	Title   string
	Outline []Outline
	Blocks  []Block
}

// Options bounds and configures a single extraction call.
type Options struct {
	ContentType      string
	URL              string
	MaxChars         int
	MinSignalChars   int // minimum text length an HTML engine's output must clear to "pass"
	VisionEnabled    bool
	VisionHook       func(body []byte) (text string, ok bool)
	MaxOutlineItems  int
}

// Extract dispatches body+content-type to an engine per the priority chain:
// pdf, markdown, json/xml, html (html_main -> html_hint -> html2text),
// image, then plain text.
func Extract(body []byte, opt Options) Document {
	ct := strings.ToLower(strings.TrimSpace(opt.ContentType))
	url := strings.ToLower(opt.URL)

	switch {
	case looksLikePDF(ct, url, body):
		return extractPDF(body)
	case ct == "text/markdown" || ct == "text/x-markdown" || strings.HasSuffix(url, ".md"):
		return extractMarkdown(body, opt)
	case ct == "application/json":
		return extractJSON(body, opt)
	case ct == "application/xml" || ct == "text/xml":
		return extractXML(body, opt)
	case ct == "text/html" || strings.HasPrefix(ct, "text/html") || looksLikeHTMLShell(body):
		return extractHTML(body, opt)
	case looksLikeImage(ct):
		return extractImage(body, opt)
	default:
		return extractPlainText(body, opt)
	}
}

func looksLikePDF(ct, url string, body []byte) bool {
	if strings.Contains(ct, "pdf") || strings.HasSuffix(url, ".pdf") {
		return true
	}
	return bytes.HasPrefix(body, []byte("%PDF-"))
}

func looksLikeHTMLShell(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) < 6 {
		return false
	}
	head := bytes.ToLower(trimmed[:minInt(256, len(trimmed))])
	return bytes.Contains(head, []byte("<html")) || bytes.Contains(head, []byte("<!doctype html"))
}

func looksLikeImage(ct string) bool {
	return strings.HasPrefix(ct, "image/")
}

func extractPDF(body []byte) Document {
	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return Document{Engine: "pdf", Warnings: []string{WarnTextUnavailableForPDF}}
	}
	var b strings.Builder
	numPages := reader.NumPage()
	const maxPages = 200 // bounded page count
	for i := 1; i <= numPages && i <= maxPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	text := normalizeWhitespace(b.String())
	if text == "" {
		return Document{Engine: "pdf", Warnings: []string{WarnTextUnavailableForPDF, WarnEmptyExtraction}}
	}
	return Document{Engine: "pdf", Text: text}
}

func extractMarkdown(body []byte, opt Options) Document {
	text := normalizeWhitespace(decodeUTF8Lossy(body))
	doc := Document{Engine: "markdown", Text: text}
	if text == "" {
		doc.Warnings = append(doc.Warnings, WarnEmptyExtraction)
	}
	return applyMaxChars(doc, opt.MaxChars)
}

func extractJSON(body []byte, opt Options) Document {
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return applyMaxChars(Document{Engine: "json", Warnings: []string{WarnEmptyExtraction}}, opt.MaxChars)
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return applyMaxChars(Document{Engine: "json", Warnings: []string{WarnEmptyExtraction}}, opt.MaxChars)
	}
	doc := Document{Engine: "json", Text: string(pretty)}
	return applyMaxChars(doc, opt.MaxChars)
}

func extractXML(body []byte, opt Options) Document {
	node, err := html.Parse(bytes.NewReader(body))
	if err != nil || node == nil {
		return applyMaxChars(Document{Engine: "xml", Warnings: []string{WarnEmptyExtraction}}, opt.MaxChars)
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			t := strings.TrimSpace(n.Data)
			if t != "" {
				b.WriteString(t)
				b.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	text := normalizeWhitespace(b.String())
	doc := Document{Engine: "xml", Text: text}
	if text == "" {
		doc.Warnings = append(doc.Warnings, WarnEmptyExtraction)
	}
	return applyMaxChars(doc, opt.MaxChars)
}

func extractHTML(body []byte, opt Options) Document {
	node, err := html.Parse(bytes.NewReader(body))
	if err != nil || node == nil {
		return Document{Engine: "html2text", Warnings: []string{WarnEmptyExtraction}}
	}

	title := strings.TrimSpace(findTitle(node))
	minSignal := opt.MinSignalChars
	if minSignal <= 0 {
		minSignal = 200
	}

	if mainDoc, ok := tryHTMLMain(node, title, minSignal); ok {
		return applyMaxChars(mainDoc, opt.MaxChars)
	}
	if hintDoc, ok := tryHTMLHint(node, title, minSignal); ok {
		return applyMaxChars(hintDoc, opt.MaxChars)
	}
	// html2text last resort: whole-document flatten.
	var b strings.Builder
	if body2 := findFirst(node, "body"); body2 != nil {
		collectText(&b, body2, false)
	}
	text := normalizeWhitespace(b.String())
	doc := Document{Engine: "html2text", Title: title, Text: text}
	if text == "" {
		doc.Warnings = append(doc.Warnings, WarnEmptyExtraction)
	} else if len(text) < minSignal {
		doc.Warnings = append(doc.Warnings, WarnMainContentLowSignal)
	}
	if isBlockedByJSChallenge(text) {
		doc.Warnings = append(doc.Warnings, WarnBlockedByJSChallenge)
	}
	return applyMaxChars(doc, opt.MaxChars)
}

func tryHTMLMain(node *html.Node, title string, minSignal int) (Document, bool) {
	var content *html.Node
	content = findFirst(node, "main")
	if content == nil {
		content = findFirst(node, "article")
	}
	if content == nil {
		return Document{}, false
	}
	var b strings.Builder
	collectText(&b, content, false)
	text := normalizeWhitespace(b.String())
	if len(text) < minSignal {
		return Document{}, false
	}
	return Document{Engine: "html_main", Title: title, Text: text}, true
}

func tryHTMLHint(node *html.Node, title string, minSignal int) (Document, bool) {
	var b strings.Builder
	if title != "" {
		b.WriteString(title)
		b.WriteString("\n\n")
	}
	if h1 := findFirst(node, "h1"); h1 != nil {
		collectText(&b, h1, false)
		b.WriteString("\n\n")
	}
	paragraphs := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if paragraphs >= 3 {
			return
		}
		if n.Type == html.ElementNode && strings.EqualFold(n.Data, "p") {
			var pb strings.Builder
			collectText(&pb, n, false)
			if strings.TrimSpace(pb.String()) != "" {
				b.WriteString(normalizeWhitespace(pb.String()))
				b.WriteString("\n\n")
				paragraphs++
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	text := normalizeWhitespace(b.String())
	if len(text) < minSignal {
		return Document{}, false
	}
	return Document{Engine: "html_hint", Title: title, Text: text}, true
}

func isBlockedByJSChallenge(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range []string{"enable javascript", "checking your browser", "just a moment", "captcha"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func extractImage(body []byte, opt Options) Document {
	if opt.VisionEnabled && opt.VisionHook != nil {
		if text, ok := opt.VisionHook(body); ok {
			return applyMaxChars(Document{Engine: "image_ocr", Text: normalizeWhitespace(text)}, opt.MaxChars)
		}
	}
	return Document{Engine: "image", Warnings: []string{WarnEmptyExtraction}}
}

func extractPlainText(body []byte, opt Options) Document {
	text := normalizeWhitespace(decodeUTF8Lossy(body))
	doc := Document{Engine: "text", Text: text}
	if text == "" {
		doc.Warnings = append(doc.Warnings, WarnEmptyExtraction)
	}
	return applyMaxChars(doc, opt.MaxChars)
}

// applyMaxChars truncates Text to MaxChars on a rune boundary, recording
// text_truncated_by_max_chars when clipped.
func applyMaxChars(doc Document, maxChars int) Document {
	if maxChars <= 0 {
		return doc
	}
	runes := []rune(doc.Text)
	if len(runes) <= maxChars {
		return doc
	}
	doc.Text = string(runes[:maxChars])
	doc.Truncated = true
	doc.Warnings = append(doc.Warnings, WarnTextTruncatedByMaxChars)
	return doc
}

func decodeUTF8Lossy(body []byte) string {
	if utf8.Valid(body) {
		return string(body)
	}
	// Lossy-decode invalid UTF-8 by replacing bad runs with the replacement rune.
	var b strings.Builder
	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		b.WriteRune(r)
		body = body[size:]
	}
	return b.String()
}

func findTitle(n *html.Node) string {
	head := findFirst(n, "head")
	if head == nil {
		return ""
	}
	t := findFirst(head, "title")
	if t == nil || t.FirstChild == nil {
		return ""
	}
	return t.FirstChild.Data
}

func findFirst(n *html.Node, tag string) *html.Node {
	var res *html.Node
	var dfs func(*html.Node)
	dfs = func(cur *html.Node) {
		if res != nil {
			return
		}
		if cur.Type == html.ElementNode && strings.EqualFold(cur.Data, tag) {
			res = cur
			return
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			dfs(c)
			if res != nil {
				return
			}
		}
	}
	dfs(n)
	return res
}

func collectText(b *strings.Builder, n *html.Node, inPre bool) {
	if n.Type == html.ElementNode {
		if isBoilerplateContainer(n) {
			return
		}
		name := strings.ToLower(n.Data)
		switch name {
		case "script", "style", "noscript", "nav", "footer", "aside", "iframe":
			return
		case "pre", "code":
			inPre = true
		case "br", "hr":
			b.WriteString("\n")
		case "p", "h1", "h2", "h3", "h4", "h5", "h6", "li":
			b.WriteString("\n")
		case "ul", "ol":
			b.WriteString("\n")
		}
	}

	if n.Type == html.TextNode {
		data := n.Data
		if !inPre {
			data = strings.ReplaceAll(data, "\t", " ")
			data = strings.ReplaceAll(data, "\r", " ")
		}
		b.WriteString(data)
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(b, c, inPre)
	}

	if n.Type == html.ElementNode {
		name := strings.ToLower(n.Data)
		switch name {
		case "p", "h1", "h2", "h3", "h4", "h5", "h6":
			b.WriteString("\n\n")
		case "li":
			b.WriteString("\n")
		case "pre", "code":
			inPre = false
			b.WriteString("\n")
		}
	}
}

// isBoilerplateContainer returns true if the element looks like a cookie/consent banner.
func isBoilerplateContainer(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for _, attr := range n.Attr {
		key := strings.ToLower(attr.Key)
		if key != "id" && key != "class" && !strings.HasPrefix(key, "data-") && key != "aria-label" && key != "role" {
			continue
		}
		val := strings.ToLower(attr.Val)
		if containsAny(val, []string{"cookie", "consent", "gdpr", "cookie-banner", "cookiebar", "consent-banner", "consent-manager"}) {
			return true
		}
	}
	return false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if len(out) > 0 && out[len(out)-1] == "" {
				continue
			}
			out = append(out, "")
			continue
		}
		out = append(out, collapseSpaces(trimmed))
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

func collapseSpaces(s string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return b.String()
}

// ExtractStructure produces the optional {title, outline, blocks} shape used
// to detect "UI shell" pages via shape ratios.
func ExtractStructure(body []byte, maxOutlineItems int) Structure {
	node, err := html.Parse(bytes.NewReader(body))
	if err != nil || node == nil {
		return Structure{}
	}
	title := strings.TrimSpace(findTitle(node))
	var outline []Outline
	var blocks []Block
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			name := strings.ToLower(n.Data)
			switch name {
			case "h1", "h2", "h3", "h4", "h5", "h6":
				level := int(name[1] - '0')
				var b strings.Builder
				collectText(&b, n, false)
				text := normalizeWhitespace(b.String())
				if text != "" && (maxOutlineItems <= 0 || len(outline) < maxOutlineItems) {
					outline = append(outline, Outline{Level: level, Text: text})
				}
				blocks = append(blocks, Block{Kind: "heading", Text: text})
				return
			case "p":
				var b strings.Builder
				collectText(&b, n, false)
				text := normalizeWhitespace(b.String())
				if text != "" {
					blocks = append(blocks, Block{Kind: "paragraph", Text: text})
				}
				return
			case "li":
				var b strings.Builder
				collectText(&b, n, false)
				text := normalizeWhitespace(b.String())
				if text != "" {
					blocks = append(blocks, Block{Kind: "list_item", Text: text})
				}
				return
			case "pre", "code":
				var b strings.Builder
				collectText(&b, n, true)
				text := normalizeWhitespace(b.String())
				if text != "" {
					blocks = append(blocks, Block{Kind: "code", Text: text})
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	return Structure{Title: title, Outline: outline, Blocks: blocks}
}

// ShapeRatios computes the list_ratio and short_ratio used for "UI shell"
// page detection (spec.md §4.4).
func ShapeRatios(s Structure) (listRatio, shortRatio float64) {
	if len(s.Blocks) == 0 {
		return 0, 0
	}
	var lists, shorts int
	for _, b := range s.Blocks {
		if b.Kind == "list_item" {
			lists++
		}
		if utf8.RuneCountInString(b.Text) < 40 {
			shorts++
		}
	}
	n := float64(len(s.Blocks))
	return float64(lists) / n, float64(shorts) / n
}

// IsUIShell applies the spec's shape-ratio rules and a keyword check for
// auth/consent pages to the structure's ratios.
func IsUIShell(s Structure) bool {
	listRatio, shortRatio := ShapeRatios(s)
	if listRatio >= 0.60 && shortRatio >= 0.60 {
		return true
	}
	if listRatio >= 0.85 {
		return true
	}
	if listRatio >= 0.60 && hasAuthOrConsentKeywords(s) {
		return true
	}
	return false
}

func hasAuthOrConsentKeywords(s Structure) bool {
	haystack := strings.ToLower(s.Title)
	for _, b := range s.Blocks {
		haystack += " " + strings.ToLower(b.Text)
	}
	for _, kw := range []string{"sign in", "log in", "accept cookies", "consent", "subscribe to continue"} {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
