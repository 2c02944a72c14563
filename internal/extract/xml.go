package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/antchfx/xmlquery"
)

// XML extracts the href attribute of every element, falling back to the
// element text when no href is present. Text containing spaces is skipped.
type XML struct{}

// Extract implements Extractor.
func (XML) Extract(ctx context.Context, base *url.URL, body []byte) (Result, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("parse xml: %w", err)
	}
	var res Result
	for _, el := range xmlquery.Find(doc, "//*") {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		candidate := el.SelectAttr("href")
		if candidate == "" {
			// Element text runs together child text, so only a single token can be a URL.
			candidate = strings.TrimSpace(el.InnerText())
			if hasSpace(candidate) {
				continue
			}
		}
		if link, ok := resolve(base, candidate); ok {
			res.Links = append(res.Links, link)
		}
	}
	return res, nil
}
