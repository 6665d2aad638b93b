package extract

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// noiseSelector lists elements that never carry article text.
const noiseSelector = `script, style, noscript, iframe, svg, canvas, img, video, header, footer, nav, aside, [hidden], [aria-hidden="true"]`

// HTMLToMarkdown strips noise from a document snapshot, isolates the main
// article when readability finds one, and converts the result to markdown.
func HTMLToMarkdown(html, pageURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("extract: parse html: %w", err)
	}
	doc.Find(noiseSelector).Remove()

	cleaned, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("extract: render html: %w", err)
	}

	parsed, _ := url.Parse(pageURL)
	if parsed == nil {
		parsed = &url.URL{}
	}

	body := ""
	article, err := readability.FromReader(strings.NewReader(cleaned), parsed)
	if err != nil {
		slog.Debug("extract readability failed", "url", pageURL, "error", err)
	} else {
		body = strings.TrimSpace(article.Content)
	}
	if body == "" {
		body, err = doc.Find("body").Html()
		if err != nil {
			return "", fmt.Errorf("extract: body html: %w", err)
		}
	}

	out, err := newConverter(parsed.Host).ConvertString(body)
	if err != nil {
		return "", fmt.Errorf("extract: convert: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func newConverter(domain string) *md.Converter {
	conv := md.NewConverter(domain, true, &md.Options{
		HeadingStyle:     "atx",
		HorizontalRule:   "---",
		BulletListMarker: "-",
		CodeBlockStyle:   "fenced",
		Fence:            "```",
		EmDelimiter:      "*",
		StrongDelimiter:  "**",
		LinkStyle:        "inlined",
	})
	conv.Use(plugin.GitHubFlavored())
	conv.AddRules(md.Rule{
		Filter: []string{"p"},
		Replacement: func(content string, selec *goquery.Selection, opt *md.Options) *string {
			if strings.TrimSpace(selec.Text()) == "" && selec.Find("img").Length() == 0 {
				return md.String("")
			}
			return nil
		},
	})
	return conv
}
