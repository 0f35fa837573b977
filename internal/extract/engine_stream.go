package extract

import (
	"context"
	"io"

	"golang.org/x/net/html"
)

// StreamEngine walks the stream with the incremental tokenizer. It never
// builds a tree, stops as soon as the subscriber is done, and is the
// production backend.
type StreamEngine struct{}

// NewStreamEngine returns the tokenizer-backed engine.
func NewStreamEngine() *StreamEngine {
	return &StreamEngine{}
}

// Parse tokenizes r and fires handlers. Returns nil at end of stream,
// tokenizer errors otherwise; the caller decides whether they matter.
func (StreamEngine) Parse(ctx context.Context, r io.Reader, h Handlers) error {
	z := html.NewTokenizer(r)
	inTitle := false
	inBody := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return err
			}
			return nil
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "title":
				// Only head titles count; <svg><title> inside the body is
				// an accessibility label, not page metadata.
				if !inBody {
					inTitle = true
				}
			case "body":
				inBody = true
				inTitle = false
			case "meta":
				if h.OnMeta != nil {
					h.OnMeta(attrMap(tok.Attr))
				}
			}
		case html.TextToken:
			if inTitle && h.OnTitleText != nil {
				h.OnTitleText(z.Token().Data)
			}
		case html.EndTagToken:
			if tok := z.Token(); tok.Data == "title" {
				inTitle = false
			}
		}
		if h.Done != nil && h.Done() {
			return nil
		}
	}
}

func attrMap(attrs []html.Attribute) map[string]string {
	out := make(map[string]string, len(attrs))
	for _, a := range attrs {
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
