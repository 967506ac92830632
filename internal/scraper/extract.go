package scraper

import (
	"fmt"
	"strings"

	"github.com/rizkirmdhn/teledl/pkg/models"
)

// isMedia reports whether elements with this tag carry a downloadable src.
func isMedia(tag string) bool {
	return tag == "img" || tag == "video"
}

type found struct {
	src string
	tag string
}

// Extract walks the content tree and returns every img/video src in document
// order, numbered from zero.
//
// The walk uses an explicit stack: children are pushed as they come, so they
// pop last-first, and the collected srcs are reversed once at the end.
func Extract(root ...models.Node) ([]models.MediaReference, error) {
	stack := make([]models.Node, 0, len(root))
	stack = append(stack, root...)

	var acc []found
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		el, err := element(n)
		if err != nil {
			return nil, err
		}
		if el == nil {
			continue
		}

		if isMedia(el.Tag) {
			if src, ok := el.Attr("src"); ok {
				acc = append(acc, found{src: src, tag: el.Tag})
			}
		}
		stack = append(stack, el.Children...)
	}

	for i, j := 0, len(acc)-1; i < j; i, j = i+1, j-1 {
		acc[i], acc[j] = acc[j], acc[i]
	}

	refs := make([]models.MediaReference, 0, len(acc))
	for i, f := range acc {
		id, err := FileID(f.src)
		if err != nil {
			return nil, err
		}
		refs = append(refs, models.MediaReference{
			RawSrc:        f.src,
			FileID:        id,
			SequenceIndex: i,
			Tag:           f.tag,
		})
	}
	return refs, nil
}

// element returns the element held by n, nil for a text leaf, or a
// MalformedContentError when n holds neither.
func element(n models.Node) (*models.Element, error) {
	switch n.Kind {
	case models.NodeText:
		return nil, nil
	case models.NodeElement:
		if n.Element == nil {
			return nil, &models.MalformedContentError{Reason: "element node without element"}
		}
		return n.Element, nil
	default:
		return nil, &models.MalformedContentError{Reason: "node is neither text nor element"}
	}
}

// FileID returns the final path segment of src with any query or fragment
// removed.
func FileID(src string) (string, error) {
	id := src
	if i := strings.IndexAny(id, "?#"); i >= 0 {
		id = id[:i]
	}
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	switch id {
	case "", ".", "..":
		return "", &models.MalformedContentError{Reason: fmt.Sprintf("src %q does not name a file", src)}
	}
	return id, nil
}

// TreeStats describes a content tree.
type TreeStats struct {
	Nodes    int `json:"nodes"`
	Elements int `json:"elements"`
	Text     int `json:"text"`
	Media    int `json:"media"`
}

// ExtractStats counts the nodes of a content tree. Media counts img/video
// elements that carry a src.
func ExtractStats(root ...models.Node) (TreeStats, error) {
	var st TreeStats
	stack := append([]models.Node(nil), root...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		el, err := element(n)
		if err != nil {
			return TreeStats{}, err
		}
		st.Nodes++
		if el == nil {
			st.Text++
			continue
		}
		st.Elements++
		if _, ok := el.Attr("src"); ok && isMedia(el.Tag) {
			st.Media++
		}
		stack = append(stack, el.Children...)
	}
	return st, nil
}

// Dedupe drops references whose raw src was already seen and renumbers the
// rest. Distinct srcs that share a file name are kept.
func Dedupe(refs []models.MediaReference) []models.MediaReference {
	seen := make(map[string]struct{}, len(refs))
	out := make([]models.MediaReference, 0, len(refs))
	for _, ref := range refs {
		if _, ok := seen[ref.RawSrc]; ok {
			continue
		}
		seen[ref.RawSrc] = struct{}{}
		ref.SequenceIndex = len(out)
		out = append(out, ref)
	}
	return out
}
