package pipeline

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	kgerrors "kgraph/backend/pkg/errors"
)

// Input formats accepted by Start
const (
	FormatText = "text"
	FormatHTML = "html"
)

// Preprocess reduces the submitted input to the plain text that gets
// extracted. HTML keeps only visible text from the body.
func Preprocess(input, format string) (string, error) {
	switch format {
	case "", FormatText:
		return strings.TrimSpace(input), nil
	case FormatHTML:
		return htmlText(input)
	}
	return "", kgerrors.InvalidInput("pipeline.Preprocess", "unsupported format "+format)
}

func htmlText(input string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(input))
	if err != nil {
		return "", kgerrors.InvalidInput("pipeline.Preprocess", "unreadable html: "+err.Error())
	}

	doc.Find("script, style, noscript, template, head").Remove()

	// text nodes are joined with spaces so adjacent blocks do not run together
	var b strings.Builder
	var walk func(*goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, c *goquery.Selection) {
			if goquery.NodeName(c) == "#text" {
				b.WriteString(c.Text())
				b.WriteByte(' ')
				return
			}
			walk(c)
		})
	}
	walk(doc.Selection)

	return strings.Join(strings.Fields(b.String()), " "), nil
}
