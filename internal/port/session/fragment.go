package session

import "strings"

// Fragment is one piece of a runtime response, resolved to a closed set of
// shapes at the adapter boundary so nothing downstream probes for structure.
type Fragment struct {
	kind   fragmentKind
	text   string
	blocks []TextBlock
	keyed  map[string]string
}

type fragmentKind int

const (
	fragmentPlain fragmentKind = iota
	fragmentBlocks
	fragmentKeyed
)

// TextBlock is a single typed text block inside a block-list fragment.
type TextBlock struct {
	Type string
	Text string
}

// PlainText builds a fragment from a bare string.
func PlainText(s string) Fragment {
	return Fragment{kind: fragmentPlain, text: s}
}

// BlockList builds a fragment from a list of typed text blocks.
func BlockList(blocks []TextBlock) Fragment {
	return Fragment{kind: fragmentBlocks, blocks: blocks}
}

// Keyed builds a fragment from a string map with a known text-bearing key.
func Keyed(m map[string]string) Fragment {
	return Fragment{kind: fragmentKeyed, keyed: m}
}

// Text resolves the fragment to its text content. Block lists join their
// text blocks with newlines; keyed fragments yield the "text" value. A
// fragment with no extractable text resolves to the empty string.
func (f Fragment) Text() string {
	switch f.kind {
	case fragmentPlain:
		return f.text
	case fragmentBlocks:
		parts := make([]string, 0, len(f.blocks))
		for _, b := range f.blocks {
			if b.Type != "" && b.Type != "text" {
				continue
			}
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	case fragmentKeyed:
		return f.keyed["text"]
	}
	return ""
}

// Join concatenates the resolved text of fragments in delivery order.
func Join(fragments []Fragment) string {
	var sb strings.Builder
	for _, f := range fragments {
		sb.WriteString(f.Text())
	}
	return sb.String()
}
