// Package textfmt converts authored Markdown into the HTML subset accepted by
// Telegram's parse_mode=HTML.
package textfmt

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// MaxMessageLength is Telegram's limit for a text message
const MaxMessageLength = 4096

// AllowedTags are the tags Telegram renders in HTML mode
var AllowedTags = []string{
	"b", "strong", "i", "em", "u", "ins", "s", "strike", "del",
	"a", "code", "pre", "tg-spoiler", "tg-emoji", "blockquote",
}

var (
	markdown = goldmark.New(
		goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			// Raw inline HTML (<u>, <tg-spoiler>) is kept here and filtered by the policy.
			html.WithUnsafe(),
		),
	)

	policy = newPolicy()

	headingOpen  = regexp.MustCompile(`<h[1-6][^>]*>`)
	headingClose = regexp.MustCompile(`</h[1-6]>`)
	listItemOpen = regexp.MustCompile(`<li[^>]*>\s*`)
	lineBreak    = regexp.MustCompile(`<br\s*/?>\n?`)
	spoiler      = regexp.MustCompile(`\|\|(.+?)\|\|`)
	quoteOpen    = regexp.MustCompile(`<blockquote>\s*`)
	quoteClose   = regexp.MustCompile(`\s*</blockquote>`)
	manyNewlines = regexp.MustCompile(`\n{3,}`)

	tagRewrites = strings.NewReplacer(
		"<strong>", "<b>", "</strong>", "</b>",
		"<em>", "<i>", "</em>", "</i>",
		"<ins>", "<u>", "</ins>", "</u>",
		"<strike>", "<s>", "</strike>", "</s>",
		"<del>", "<s>", "</del>", "</s>",
		"<p>", "", "</p>", "\n\n",
	)

	htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
)

func newPolicy() *bluemonday.Policy {
	bare := []string{
		"b", "strong", "i", "em", "u", "ins", "s", "strike", "del",
		"code", "pre", "tg-spoiler", "blockquote", "p", "br",
	}
	p := bluemonday.NewPolicy()
	p.AllowElements(bare...)
	p.AllowNoAttrs().OnElements(bare...)
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https", "mailto", "tg")
	p.RequireParseableURLs(true)
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^language-[\w+#-]+$`)).OnElements("code")
	p.AllowAttrs("emoji-id").Matching(regexp.MustCompile(`^\d+$`)).OnElements("tg-emoji")
	return p
}

// ToTelegramHTML converts Markdown to sanitized Telegram HTML. It is a pure
// function; empty input yields an empty string.
func ToTelegramHTML(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		// goldmark only fails on writer errors; fall back to escaped text.
		return EscapeHTML(strings.TrimSpace(text))
	}

	out := buf.String()
	out = headingOpen.ReplaceAllString(out, "<b>")
	out = headingClose.ReplaceAllString(out, "</b>\n\n")
	out = listItemOpen.ReplaceAllString(out, "• ")
	out = spoiler.ReplaceAllString(out, "<tg-spoiler>$1</tg-spoiler>")

	out = policy.Sanitize(out)

	out = tagRewrites.Replace(out)
	out = lineBreak.ReplaceAllString(out, "\n")
	out = quoteOpen.ReplaceAllString(out, "<blockquote>")
	out = quoteClose.ReplaceAllString(out, "</blockquote>")
	out = manyNewlines.ReplaceAllString(out, "\n\n")

	return strings.TrimSpace(out)
}

// EscapeHTML escapes the characters Telegram treats as markup in HTML mode
func EscapeHTML(text string) string {
	return htmlEscaper.Replace(text)
}

// Truncate shortens text to at most maxLen runes, cutting at a word boundary
// when one exists in the second half, and appends suffix.
func Truncate(text string, maxLen int, suffix string) string {
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	keep := maxLen - utf8.RuneCountInString(suffix)
	if keep <= 0 {
		return string([]rune(suffix)[:maxLen])
	}
	truncated := string([]rune(text)[:keep])
	if i := strings.LastIndex(truncated, " "); i > len(truncated)/2 {
		truncated = truncated[:i]
	}
	return truncated + suffix
}
