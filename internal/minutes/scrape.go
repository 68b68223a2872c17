package minutes

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// extractLegislationLinks walks the event page and collects every anchor
// pointing at a legislation detail page, keyed by the anchor's inner text
// (the matter's public file number).
func extractLegislationLinks(page []byte, host string) (map[string]string, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	links := map[string]string{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			href := attrValue(n, "href")
			if legislationLinkRe.MatchString(href) {
				if file := strings.TrimSpace(nodeText(n)); file != "" {
					links[file] = fmt.Sprintf("https://%s/%s", host, strings.TrimLeft(href, "/"))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
