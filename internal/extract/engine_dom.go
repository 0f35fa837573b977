package extract

import (
	"context"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// DOMEngine parses the whole document into a tree and walks it. Slower and
// memory-heavier than StreamEngine but forgiving with very broken markup;
// intended for local development.
type DOMEngine struct{}

// NewDOMEngine returns the tree-walking engine.
func NewDOMEngine() *DOMEngine {
	return &DOMEngine{}
}

// Parse builds the tree and visits title/meta nodes in document order.
func (DOMEngine) Parse(ctx context.Context, r io.Reader, h Handlers) error {
	doc, err := html.Parse(r)
	if err != nil {
		return err
	}
	walk(ctx, doc, h, false)
	return ctx.Err()
}

func walk(ctx context.Context, n *html.Node, h Handlers, inBody bool) {
	if ctx.Err() != nil {
		return
	}
	if h.Done != nil && h.Done() {
		return
	}
	if n.Type == html.ElementNode && n.Namespace == "" {
		switch n.Data {
		case "body":
			inBody = true
		case "title":
			if !inBody && h.OnTitleText != nil {
				h.OnTitleText(nodeText(n))
			}
		case "meta":
			if h.OnMeta != nil {
				h.OnMeta(nodeAttrs(n))
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(ctx, c, h, inBody)
	}
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

func nodeAttrs(n *html.Node) map[string]string {
	out := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		if a.Namespace != "" {
			continue
		}
		if _, seen := out[a.Key]; seen {
			continue
		}
		out[a.Key] = a.Val
	}
	return out
}
