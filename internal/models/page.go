package models

import (
	"time"
)

// Page represents an imported wiki document.
type Page struct {
	ID          int64     `json:"id"`
	Wiki        string    `json:"wiki"`
	Space       string    `json:"space"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`      // Stored in Syntax
	ContentHTML string    `json:"content_html"` // Rendered HTML
	Syntax      string    `json:"syntax"`
	AuthorID    int64     `json:"author_id"`
	Author      *User     `json:"author,omitempty"`
	ParentID    *int64    `json:"parent_id,omitempty"`
	Parent      *Page     `json:"parent,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Tags        []Tag     `json:"tags,omitempty"`
}

// FullName returns the "wiki:Space.Name" form.
func (p *Page) FullName() string {
	return p.Wiki + ":" + p.Space + "." + p.Name
}

// PageSummary contains minimal page info for listings.
type PageSummary struct {
	ID        int64     `json:"id"`
	Slug      string    `json:"slug"`
	Space     string    `json:"space"`
	Name      string    `json:"name"`
	Title     string    `json:"title"`
	Excerpt   string    `json:"excerpt"`
	ParentID  *int64    `json:"parent_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Revision represents a page version in history.
type Revision struct {
	ID        int64     `json:"id"`
	PageID    int64     `json:"page_id"`
	Version   int       `json:"version"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Syntax    string    `json:"syntax"`
	AuthorID  int64     `json:"author_id"`
	Author    *User     `json:"author,omitempty"`
	Comment   string    `json:"comment"`
	IsMinor   bool      `json:"is_minor"`
	CreatedAt time.Time `json:"created_at"`
}

// Tag represents a page tag.
type Tag struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	PageCount int    `json:"page_count,omitempty"`
}

// Attachment represents a file attached to a page.
type Attachment struct {
	ID         int64     `json:"id"`
	PageID     int64     `json:"page_id"`
	Filename   string    `json:"filename"`
	Filepath   string    `json:"-"` // Internal path, not exposed
	MimeType   string    `json:"mime_type"`
	SizeBytes  int64     `json:"size_bytes"`
	UploaderID int64     `json:"uploader_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Property is one value of a class attached to a page.
type Property struct {
	PageID    int64  `json:"page_id"`
	ClassName string `json:"class"`
	Name      string `json:"property"`
	Value     string `json:"value"`
}

// SearchResult represents a full-text search hit.
type SearchResult struct {
	PageID    int64     `json:"page_id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Snippet   string    `json:"snippet"`
	Rank      float64   `json:"rank"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PageFilter contains options for filtering page queries.
type PageFilter struct {
	Wiki     string
	Space    string
	Tag      string
	Limit    int
	Offset   int
	OrderBy  string
	OrderDir string
}

// NewPageFilter creates a filter with sensible defaults.
func NewPageFilter() PageFilter {
	return PageFilter{
		Limit:    20,
		Offset:   0,
		OrderBy:  "updated_at",
		OrderDir: "DESC",
	}
}
