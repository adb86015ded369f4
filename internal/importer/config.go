// Package importer turns a stream of page and markup events into documents
// in the target wiki.
package importer

import (
	"slices"

	"wikimport/internal/reference"
)

// Config is the import configuration for one pass. Listeners and bridges
// keep their own copy.
type Config struct {
	TargetWiki      string
	TargetSpace     string
	DefaultSpace    string
	PreserveHistory bool
	ImageExtensions []string
}

func (c Config) clone() Config {
	c.ImageExtensions = slices.Clone(c.ImageExtensions)
	return c
}

func (c Config) referenceConfig() reference.Config {
	return reference.Config{
		TargetSpace:     c.TargetSpace,
		DefaultSpace:    c.DefaultSpace,
		ImageExtensions: c.ImageExtensions,
	}.WithDefaults()
}
