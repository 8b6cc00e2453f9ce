package extract

import (
	"strings"

	"golang.org/x/net/html"
)

// entities is the closed set of references StripHTML unescapes. Any other
// reference stays literal.
var entities = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
)

// StripHTML returns the visible text of an HTML document on a single line.
// Tags become spaces, script and style content is dropped and runs of
// whitespace collapse to one space. Only the references in entities are
// unescaped, after the collapse, so a run of &nbsp; keeps its width.
func StripHTML(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return entities.Replace(strings.Join(strings.Fields(b.String()), " "))
		case html.StartTagToken, html.EndTagToken:
			name, _ := z.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				if tt == html.StartTagToken {
					skip++
				} else if skip > 0 {
					skip--
				}
			}
			b.WriteByte(' ')
		case html.SelfClosingTagToken:
			b.WriteByte(' ')
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Raw())
			}
		}
	}
}
