// Package compose models a social-media post as an ordered sequence of typed
// components and renders it into a destination's hard character budget,
// emitting byte-offset annotations for rich-text spans along the way.
package compose

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ComponentKind discriminates post components.
type ComponentKind int

const (
	KindText ComponentKind = iota
	KindURL
	KindHashtag
)

// Component is one typed piece of a post. Only Text components may be
// truncated to fit the budget.
type Component struct {
	Kind        ComponentKind
	Text        string
	Truncatable bool
}

// Post is an ordered, append-only sequence of components. It is composed once
// and rendered independently per destination, since destinations differ in
// URL-length accounting and maximum size.
type Post struct {
	components []Component
}

// AddText appends a text component, optionally truncatable.
func (p *Post) AddText(text string, truncatable bool) {
	p.components = append(p.components, Component{Kind: KindText, Text: text, Truncatable: truncatable})
}

// AddURL appends a URL component.
func (p *Post) AddURL(url string) {
	p.components = append(p.components, Component{Kind: KindURL, Text: url})
}

// AddHashtag appends a hashtag component.
func (p *Post) AddHashtag(tag string) {
	p.components = append(p.components, Component{Kind: KindHashtag, Text: tag})
}

// Components returns the component sequence in append order.
func (p *Post) Components() []Component {
	return p.components
}

// Length computes the budgeted length of the post. URL components count as
// exactly urlWeight regardless of their literal length, since destinations
// shorten them or account them at a fixed displayed width; everything else
// counts its literal character length.
func (p *Post) Length(urlWeight int) int {
	length := 0
	for _, c := range p.components {
		if c.Kind == KindURL {
			length += urlWeight
		} else {
			length += utf8.RuneCountInString(c.Text)
		}
	}
	return length
}

// AnnotationKind marks what a rich-text span points at.
type AnnotationKind string

const (
	AnnotationLink AnnotationKind = "link"
	AnnotationTag  AnnotationKind = "tag"
)

// Annotation is a rich-text span over the rendered post. Offsets are byte
// positions in the UTF-8 encoding, because destinations index facets in
// bytes, not characters.
type Annotation struct {
	ByteStart int
	ByteEnd   int
	Kind      AnnotationKind
	Payload   string
}

// Hook renders a URL or hashtag component. It receives the text emitted so
// far and the raw component text, and returns the text to actually emit plus
// an optional annotation over it.
type Hook func(prefix, raw string) (string, *Annotation)

// ErrNegativeLength rejects truncation to a negative length.
var ErrNegativeLength = errors.New("truncate length must be non-negative")

// ConstraintError reports a rendered post that still exceeds its
// destination's budget after truncation. This is a composition defect and is
// surfaced rather than silently overflowing or dropping content.
type ConstraintError struct {
	Length    int
	MaxLength int
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("post length %d exceeds maximum %d", e.Length, e.MaxLength)
}

// Truncate shortens text to at most n characters, marking the cut with an
// ellipsis when there is room for one.
func Truncate(text string, n int) (string, error) {
	if n < 0 {
		return "", ErrNegativeLength
	}
	runes := []rune(text)
	if len(runes) <= n {
		return text, nil
	}
	if n < 3 {
		return strings.Repeat(".", n), nil
	}
	return string(runes[:n-3]) + "...", nil
}

// Render produces the final post text for a destination profile. When the
// proposed length exceeds maxLength, the first truncatable text component
// absorbs the whole overflow; later components are emitted unmodified. URL
// and hashtag components are rendered through their hooks (identity when
// nil), which may each contribute one annotation. If the result still
// exceeds the budget, Render fails with a ConstraintError.
func (p *Post) Render(urlWeight, maxLength int, urlHook, hashtagHook Hook) (string, []Annotation, error) {
	proposed := p.Length(urlWeight)

	var out strings.Builder
	var annotations []Annotation
	shrunk := false

	for _, c := range p.components {
		switch c.Kind {
		case KindText:
			if c.Truncatable && !shrunk && proposed > maxLength {
				shrunk = true
				componentLength := utf8.RuneCountInString(c.Text)
				target := componentLength - (proposed - maxLength)
				if target < 0 {
					target = 0
				}
				proposed -= componentLength - target
				truncated, err := Truncate(c.Text, target)
				if err != nil {
					return "", nil, err
				}
				out.WriteString(truncated)
			} else {
				out.WriteString(c.Text)
			}
		case KindURL:
			emitted, ann := applyHook(urlHook, out.String(), c.Text)
			out.WriteString(emitted)
			if ann != nil {
				annotations = append(annotations, *ann)
			}
		case KindHashtag:
			emitted, ann := applyHook(hashtagHook, out.String(), c.Text)
			out.WriteString(emitted)
			if ann != nil {
				annotations = append(annotations, *ann)
			}
		}
	}

	if proposed > maxLength {
		return "", nil, &ConstraintError{Length: proposed, MaxLength: maxLength}
	}
	return out.String(), annotations, nil
}

func applyHook(hook Hook, prefix, raw string) (string, *Annotation) {
	if hook == nil {
		return raw, nil
	}
	return hook(prefix, raw)
}
