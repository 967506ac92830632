package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// NodeKind tells which variant a Node holds.
type NodeKind int

const (
	// NodeInvalid is the zero value; it never comes out of a successful decode.
	NodeInvalid NodeKind = iota
	NodeText
	NodeElement
)

// Node is one entry of a page content tree: a plain text leaf or an element.
type Node struct {
	Kind    NodeKind
	Text    string
	Element *Element
}

// Element is a tagged node such as <p>, <figure> or <img>.
type Element struct {
	Tag      string            `json:"tag"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Children []Node            `json:"children,omitempty"`
}

// TextNode builds a text leaf.
func TextNode(text string) Node {
	return Node{Kind: NodeText, Text: text}
}

// ElementNode builds an element node.
func ElementNode(tag string, attrs map[string]string, children ...Node) Node {
	return Node{Kind: NodeElement, Element: &Element{Tag: tag, Attrs: attrs, Children: children}}
}

// Attr returns the attribute value and whether it is present.
func (e *Element) Attr(name string) (string, bool) {
	if e == nil || e.Attrs == nil {
		return "", false
	}
	v, ok := e.Attrs[name]
	return v, ok
}

// MarshalJSON encodes the node the way Telegraph does: a bare string for
// text, an object for elements.
func (n Node) MarshalJSON() ([]byte, error) {
	switch n.Kind {
	case NodeText:
		return json.Marshal(n.Text)
	case NodeElement:
		if n.Element == nil {
			return nil, &MalformedContentError{Reason: "element node without element"}
		}
		return json.Marshal(n.Element)
	default:
		return nil, &MalformedContentError{Reason: "node has no kind"}
	}
}

// UnmarshalJSON decodes a text leaf or an element. A value that is neither, an
// element without a string tag, or a media element with a non-string src is
// rejected with a MalformedContentError. Non-list children and non-string
// attributes are dropped.
func (n *Node) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return &MalformedContentError{Reason: "empty node"}
	}

	switch data[0] {
	case '"':
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return &MalformedContentError{Reason: fmt.Sprintf("invalid text node: %v", err)}
		}
		*n = TextNode(text)
		return nil

	case '{':
		var raw struct {
			Tag      *string         `json:"tag"`
			Attrs    json.RawMessage `json:"attrs"`
			Children json.RawMessage `json:"children"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return &MalformedContentError{Reason: fmt.Sprintf("invalid element: %v", err)}
		}
		if raw.Tag == nil {
			return &MalformedContentError{Reason: "element without tag"}
		}

		el := &Element{Tag: *raw.Tag}
		attrs, err := decodeAttrs(el.Tag, raw.Attrs)
		if err != nil {
			return err
		}
		el.Attrs = attrs

		// Children that are not a list are ignored, the element itself is kept.
		if children := bytes.TrimSpace(raw.Children); len(children) > 0 && children[0] == '[' {
			if err := json.Unmarshal(children, &el.Children); err != nil {
				var malformed *MalformedContentError
				if errors.As(err, &malformed) {
					return malformed
				}
				return &MalformedContentError{Reason: fmt.Sprintf("children of <%s>: %v", el.Tag, err)}
			}
		}

		*n = Node{Kind: NodeElement, Element: el}
		return nil

	default:
		return &MalformedContentError{Reason: fmt.Sprintf("unexpected node value %.32s", data)}
	}
}

// decodeAttrs keeps the string valued attributes of an element. Other values
// are dropped, except a non-string src on img or video, which is an error.
func decodeAttrs(tag string, data json.RawMessage) (map[string]string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &MalformedContentError{Reason: fmt.Sprintf("invalid attrs of <%s>: %v", tag, err)}
	}

	var attrs map[string]string
	for key, value := range raw {
		var s string
		if err := json.Unmarshal(value, &s); err != nil || bytes.Equal(value, []byte("null")) {
			if key == "src" && (tag == "img" || tag == "video") {
				return nil, &MalformedContentError{Reason: fmt.Sprintf("src of <%s> is not a string", tag)}
			}
			continue
		}
		if attrs == nil {
			attrs = make(map[string]string, len(raw))
		}
		attrs[key] = s
	}
	return attrs, nil
}
