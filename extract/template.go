package extract

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// containerMatchers mirrors containerSelectors in extract.go but expressed as
// plain tag/class predicates over a parsed *html.Node tree, since the
// cloning walk below works a level below goquery.
var containerMatchers = map[string]func(*html.Node) bool{
	"article.doc": func(n *html.Node) bool {
		return n.DataAtom == atom.Article && hasClass(n, "doc")
	},
	"main": func(n *html.Node) bool { return n.DataAtom == atom.Main },
	"body": func(n *html.Node) bool { return n.DataAtom == atom.Body },
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(a.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

// Skin clones rawHTML's parsed tree, empties the matching content
// container down to a single placeholder marker, and renders the result —
// the per-DocKind page skin, written once and read many times thereafter.
// It walks and mutates a parsed html.Node tree node by node rather than
// re-serializing through goquery.
func Skin(rawHTML string, selectors []string) (string, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", err
	}

	var container *html.Node
	for _, sel := range selectors {
		match := containerMatchers[sel]
		if match == nil {
			continue
		}
		if n := findNode(doc, match); n != nil {
			container = n
			break
		}
	}
	if container == nil {
		container = doc
	}

	emptyNode(container)
	container.AppendChild(&html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
		Attr:     []html.Attribute{{Key: "id", Val: contentPlaceholderID}},
	})

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// findNode performs a depth-first search of the tree rooted at n for the
// first node satisfying match.
func findNode(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, match); found != nil {
			return found
		}
	}
	return nil
}

// emptyNode removes all children of n in place.
func emptyNode(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}
