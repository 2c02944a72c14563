package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"
)

const hiddenSelector = "[style*='display:none'],[hidden]"

// HTML extracts anchor targets and reports hidden elements and meta tags.
type HTML struct{}

// Extract implements Extractor.
func (HTML) Extract(ctx context.Context, base *url.URL, body []byte) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("parse html: %w", err)
	}
	var res Result
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if ctx.Err() != nil {
			return false
		}
		href, _ := sel.Attr("href")
		if link, ok := resolve(base, href); ok {
			res.Links = append(res.Links, link)
		}
		return true
	})
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	doc.Find(hiddenSelector).Each(func(_ int, sel *goquery.Selection) {
		id, _ := sel.Attr("id")
		class, _ := sel.Attr("class")
		res.Observations = append(res.Observations, Observation{
			Kind:   KindHiddenElement,
			Detail: fmt.Sprintf("Tag: %s, ID: %s, Class: %s", goquery.NodeName(sel), id, class),
		})
	})
	doc.Find("meta").Each(func(_ int, sel *goquery.Selection) {
		outer, err := goquery.OuterHtml(sel)
		if err != nil {
			return
		}
		res.Observations = append(res.Observations, Observation{Kind: KindMetaTag, Detail: outer})
	})
	return res, nil
}
