// Package markup holds the inline event vocabulary shared by the wikitext
// scanner, the import listener and the content accumulator, together with the
// document tree they build and the renderer that turns it into the target
// storage format.
package markup

import (
	"maps"
	"strings"
)

// ResourceType identifies what a ResourceReference points at.
type ResourceType string

const (
	ResourceDocument   ResourceType = "doc"
	ResourceURL        ResourceType = "url"
	ResourceMailto     ResourceType = "mailto"
	ResourceImage      ResourceType = "image"
	ResourceAttachment ResourceType = "attach"
)

// QueryStringParam is the reference parameter carrying a document query string.
const QueryStringParam = "queryString"

// ResourceReference is a link or image target.
type ResourceReference struct {
	Type      ResourceType      `json:"type"`
	Reference string            `json:"reference"`
	Params    map[string]string `json:"params,omitempty"`
}

// NewReference guesses the reference type from its text. Scanners use it for
// source references; the import listener retypes them after resolution.
func NewReference(reference string) ResourceReference {
	ref := ResourceReference{Type: ResourceDocument, Reference: reference}
	switch {
	case strings.Contains(reference, "://"):
		ref.Type = ResourceURL
	case strings.HasPrefix(reference, "mailto:"):
		ref.Type = ResourceMailto
	}
	return ref
}

// Clone returns a copy that shares no parameter map with r.
func (r ResourceReference) Clone() ResourceReference {
	c := r
	if r.Params != nil {
		c.Params = maps.Clone(r.Params)
	}
	return c
}

// SetParam sets a reference parameter.
func (r *ResourceReference) SetParam(key, value string) {
	if r.Params == nil {
		r.Params = make(map[string]string)
	}
	r.Params[key] = value
}

// Format is an inline text style.
type Format int

const (
	FormatBold Format = iota + 1
	FormatItalic
	FormatMonospace
	FormatStrikeout
)

func (f Format) String() string {
	switch f {
	case FormatBold:
		return "bold"
	case FormatItalic:
		return "italic"
	case FormatMonospace:
		return "monospace"
	case FormatStrikeout:
		return "strikeout"
	}
	return "unknown"
}

// Listener receives inline markup events in document order.
type Listener interface {
	BeginParagraph()
	EndParagraph()
	BeginHeading(level int)
	EndHeading(level int)
	BeginFormat(f Format)
	EndFormat(f Format)
	BeginList(ordered bool)
	EndList(ordered bool)
	BeginListItem()
	EndListItem()
	OnText(text string)
	OnNewLine()
	OnHorizontalLine()
	BeginLink(ref ResourceReference, freeStanding bool, params map[string]string)
	EndLink(ref ResourceReference, freeStanding bool, params map[string]string)
	OnImage(ref ResourceReference, freeStanding bool, params map[string]string)
	OnMacro(id string, params map[string]string, content string, inline bool)
	OnRawHTML(html string)
}
