package detect

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DOM heuristics, tried in order of decreasing confidence. The first
// positive match wins; none matching resolves to not found. These scan
// the page the host application rendered, so everything here is
// best-effort.

var (
	stashdbSceneRe   = regexp.MustCompile(`stashdb\.org/scenes/([0-9a-fA-F-]{36})`)
	theporndbSceneRe = regexp.MustCompile(`(?:theporndb\.net|metadataapi\.net)/(?:scenes|api/scenes)/([\w-]+)`)
)

func (d *Detector) domFallback(ctx context.Context, source string) Result {
	if d.reader == nil {
		return notFound()
	}
	html, err := d.reader.HTML(ctx)
	if err != nil {
		d.logger.Debug().Err(err).Msg("DOM read failed")
		return notFound()
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return notFound()
	}

	// 1. Explicit marker attributes some UI plugins stamp on the page.
	if res, ok := markerAttribute(doc, source); ok {
		return res
	}
	// 2. CSS class conventions: external link badges in the details panel.
	if res, ok := linkConvention(doc, source); ok {
		return res
	}
	// 3. Free-text pattern over the whole document.
	if res, ok := textPattern(html, source); ok {
		return res
	}
	return notFound()
}

func markerAttribute(doc *goquery.Document, source string) (Result, bool) {
	attr := "data-" + source + "-id"
	var id string
	doc.Find("[" + attr + "]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v, ok := s.Attr(attr); ok && v != "" {
			id = v
			return false
		}
		return true
	})
	if id == "" {
		return Result{}, false
	}
	return Result{
		Found:      true,
		Confidence: ConfidenceMarker,
		Strategy:   "dom_marker_attribute",
		Data:       map[string]string{"id": id},
	}, true
}

func linkConvention(doc *goquery.Document, source string) (Result, bool) {
	var href string
	doc.Find(".scene-file-info a[href], .detail-item a[href], .external-links a[href]").
		EachWithBreak(func(_ int, s *goquery.Selection) bool {
			h, _ := s.Attr("href")
			if endpointMatches(h, source) {
				href = h
				return false
			}
			return true
		})
	if href == "" {
		return Result{}, false
	}
	return Result{
		Found:      true,
		Confidence: ConfidenceCSS,
		Strategy:   "dom_link_convention",
		Data:       map[string]string{"url": href},
	}, true
}

func textPattern(html, source string) (Result, bool) {
	var re *regexp.Regexp
	switch source {
	case SourceStashDB:
		re = stashdbSceneRe
	case SourceThePornDB:
		re = theporndbSceneRe
	default:
		return Result{}, false
	}
	m := re.FindStringSubmatch(html)
	if m == nil {
		return Result{}, false
	}
	return Result{
		Found:      true,
		Confidence: ConfidenceText,
		Strategy:   "dom_text_pattern",
		Data:       map[string]string{"id": m[1]},
	}, true
}
