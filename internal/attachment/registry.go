// Package attachment tracks the files a page references during an import pass
// and locates them on disk.
package attachment

import (
	"strings"

	"wikimport/internal/document"
)

// Registry is the per-page set of requested attachment file names.
type Registry struct {
	fetcher   document.Fetcher
	requested map[string]struct{}
}

// NewRegistry creates a registry whose attachments load through fetcher.
func NewRegistry(fetcher document.Fetcher) *Registry {
	return &Registry{fetcher: fetcher, requested: make(map[string]struct{})}
}

// Request registers fileName for page. The first request appends an
// attachment to the page; later requests for the same name are no-ops.
func (r *Registry) Request(page *document.Page, fileName string) bool {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" || page == nil {
		return false
	}
	if _, ok := r.requested[fileName]; ok {
		return false
	}
	r.requested[fileName] = struct{}{}
	page.AddAttachment(document.NewAttachment(fileName, r.fetcher))
	return true
}

// Reset forgets every requested name. Called at the start of each page.
func (r *Registry) Reset() {
	clear(r.requested)
}

// Len returns the number of names requested since the last reset.
func (r *Registry) Len() int {
	return len(r.requested)
}
