// Package category partitions harvested URLs by the file extension of their path.
package category

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// ErrUnknownCategory is returned when a selection names no known category.
var ErrUnknownCategory = errors.New("unknown category")

// Category names a bucket of URLs. The value doubles as the store name prefix.
type Category string

// Known categories.
const (
	PDF           Category = "PDF"
	CSV           Category = "CSV"
	Images        Category = "Images"
	JSON          Category = "JSON"
	DBSQL         Category = "DBSQL"
	XML           Category = "XML"
	HTML          Category = "HTML"
	PHP           Category = "PHP"
	JS            Category = "JS"
	Archives      Category = "Archives"
	Videos        Category = "Videos"
	TXT           Category = "TXT"
	DOCX          Category = "DOCX"
	PPTX          Category = "PPTX"
	XLS           Category = "XLS"
	Miscellaneous Category = "Miscellaneous"
)

// All lists every category in display order.
var All = []Category{
	PDF, CSV, Images, JSON, DBSQL, XML, HTML, PHP, JS,
	Archives, Videos, TXT, DOCX, PPTX, XLS, Miscellaneous,
}

var extensions = map[string]Category{
	".pdf":    PDF,
	".csv":    CSV,
	".jpg":    Images,
	".jpeg":   Images,
	".png":    Images,
	".svg":    Images,
	".gif":    Images,
	".json":   JSON,
	".db":     DBSQL,
	".sql":    DBSQL,
	".sqlite": DBSQL,
	".frm":    DBSQL,
	".ibd":    DBSQL,
	".myd":    DBSQL,
	".myi":    DBSQL,
	".ns":     DBSQL,
	".0":      DBSQL,
	".1":      DBSQL,
	".db3":    DBSQL,
	".rdb":    DBSQL,
	".plocal": DBSQL,
	".couch":  DBSQL,
	".hfile":  DBSQL,
	".xml":    XML,
	".css":    XML,
	".html":   HTML,
	".htm":    HTML,
	".xhtml":  HTML,
	".php":    PHP,
	".js":     JS,
	".docx":   DOCX,
	".pptx":   PPTX,
	".xls":    XLS,
	".xlsx":   XLS,
	".zip":    Archives,
	".gz":     Archives,
	".tar":    Archives,
	".mp3":    Videos,
	".mp4":    Videos,
	".mkv":    Videos,
	".wav":    Videos,
	".txt":    TXT,
}

// ForURL returns the category of rawURL based on its path extension.
// Unparseable URLs and unknown extensions map to Miscellaneous.
func ForURL(rawURL string) Category {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Miscellaneous
	}
	if c, ok := extensions[strings.ToLower(path.Ext(u.Path))]; ok {
		return c
	}
	return Miscellaneous
}

// Partition maps every category to its URLs in input order.
type Partition map[Category][]string

// Classify buckets urls. The result has a (possibly empty) entry for every
// category and does not modify urls.
func Classify(urls []string) Partition {
	p := make(Partition, len(All))
	for _, c := range All {
		p[c] = []string{}
	}
	for _, u := range urls {
		c := ForURL(u)
		p[c] = append(p[c], u)
	}
	return p
}

// Counts reports the number of URLs per category.
func (p Partition) Counts() map[Category]int {
	out := make(map[Category]int, len(p))
	for c, urls := range p {
		out[c] = len(urls)
	}
	return out
}

// Parse resolves a single category name case-insensitively.
func Parse(name string) (Category, error) {
	name = strings.TrimSpace(name)
	for _, c := range All {
		if strings.EqualFold(string(c), name) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, name)
}

// ParseSelection resolves user supplied names into a deduplicated selection in
// display order. "all" selects every category and Miscellaneous is always
// included.
func ParseSelection(names []string) ([]Category, error) {
	chosen := map[Category]bool{Miscellaneous: true}
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(name), "all") {
			return append([]Category(nil), All...), nil
		}
		c, err := Parse(name)
		if err != nil {
			return nil, err
		}
		chosen[c] = true
	}
	out := make([]Category, 0, len(chosen))
	for _, c := range All {
		if chosen[c] {
			out = append(out, c)
		}
	}
	return out, nil
}
