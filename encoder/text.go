package encoder

import (
	"strings"
	"unicode/utf8"

	"articlerec/repository"

	"github.com/PuerkitoBio/goquery"
	"github.com/tmc/langchaingo/textsplitter"
	"golang.org/x/net/html"
)

const fieldSeparator = "\n\n"

// Body returns the article body as plain text, falling back to the
// description when the body is empty.
func Body(a *repository.Article) string {
	body := StripHTML(a.Text)
	if body == "" {
		body = StripHTML(a.Description)
	}
	return body
}

// ComposeText joins title, tag and body in a fixed order.
func ComposeText(a *repository.Article) string {
	return strings.Join([]string{
		strings.TrimSpace(a.Title),
		strings.TrimSpace(a.Tag),
		Body(a),
	}, fieldSeparator)
}

// Prepare returns the encoder input for an article and whether the body is
// long enough to be worth encoding.
func Prepare(a *repository.Article, minChars int) (string, bool) {
	if utf8.RuneCountInString(Body(a)) < minChars {
		return "", false
	}
	return ComposeText(a), true
}

func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return collapseSpace(s)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return collapseSpace(s)
	}
	doc.Find("script, style, noscript").Remove()

	var b strings.Builder
	for _, n := range doc.Nodes {
		writeText(n, &b)
	}
	return collapseSpace(b.String())
}

func writeText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(c, b)
	}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate cuts text to at most maxChars runes, preferring paragraph,
// sentence and word boundaries.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithSeparators([]string{"\n\n", "\n", ". ", " ", ""}),
		textsplitter.WithChunkSize(maxChars),
		textsplitter.WithChunkOverlap(0),
	)
	chunks, err := splitter.SplitText(text)
	if err == nil && len(chunks) > 0 && chunks[0] != "" {
		text = chunks[0]
	}

	// the splitter may still emit an oversized chunk
	if utf8.RuneCountInString(text) > maxChars {
		text = string([]rune(text)[:maxChars])
	}
	return text
}
