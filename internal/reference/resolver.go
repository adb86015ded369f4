// Package reference rewrites source wiki link and image targets into target
// wiki references.
package reference

import (
	"fmt"
	"slices"
	"strings"
)

// Kind classifies a resolved reference and tells the caller which side effect
// it carries.
type Kind int

const (
	// Unresolved references are returned untouched.
	Unresolved Kind = iota
	External
	Category
	Image
	Attachment
	Page
)

func (k Kind) String() string {
	switch k {
	case External:
		return "external"
	case Category:
		return "category"
	case Image:
		return "image"
	case Attachment:
		return "attachment"
	case Page:
		return "page"
	}
	return "unresolved"
}

// Fixed target-side names.
const (
	FallbackSpace    = "Main"
	ImagePrefix      = "image:"
	AttachmentPrefix = "attach:"
	TagBrowserPage   = "Main.Tags"
	MailtoPrefix     = "mailto:"
)

// Default source-side namespace tokens.
var (
	DefaultCategoryToken   = "Category"
	DefaultImageToken      = "Image"
	DefaultMediaTokens     = []string{"Media", "File"}
	DefaultImageExtensions = []string{"png", "gif", "jpg", "jpeg", "svg", "tiff", "tif"}
)

// Config drives resolution.
type Config struct {
	TargetSpace     string
	DefaultSpace    string
	ImageExtensions []string
	CategoryToken   string
	ImageToken      string
	MediaTokens     []string
}

// WithDefaults fills unset tokens and extensions.
func (c Config) WithDefaults() Config {
	if c.CategoryToken == "" {
		c.CategoryToken = DefaultCategoryToken
	}
	if c.ImageToken == "" {
		c.ImageToken = DefaultImageToken
	}
	if len(c.MediaTokens) == 0 {
		c.MediaTokens = DefaultMediaTokens
	}
	if len(c.ImageExtensions) == 0 {
		c.ImageExtensions = DefaultImageExtensions
	}
	return c
}

// Result is the outcome of resolving one reference.
type Result struct {
	Reference string
	Kind      Kind
	// Tag is set for Category results.
	Tag string
	// Attachment is the file name to request for Image and Attachment results.
	Attachment string
	// QueryString is set when the reference points at the tag browser.
	QueryString string
}

// DefaultSpace returns the target space, else the configured default space,
// else FallbackSpace.
func DefaultSpace(cfg Config) string {
	if s := strings.TrimSpace(cfg.TargetSpace); s != "" {
		return s
	}
	if s := strings.TrimSpace(cfg.DefaultSpace); s != "" {
		return s
	}
	return FallbackSpace
}

// Resolve classifies ref and rewrites it for the target wiki. It never fails:
// anything that goes wrong yields the original reference as Unresolved.
func Resolve(ref string, cfg Config) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Reference: ref, Kind: Unresolved}
		}
	}()
	out, err := resolve(ref, cfg.WithDefaults())
	if err != nil {
		return Result{Reference: ref, Kind: Unresolved}
	}
	return out
}

// IsCategory reports whether ref starts with the category namespace.
func IsCategory(ref string, cfg Config) bool {
	cfg = cfg.WithDefaults()
	ns, _, ok := strings.Cut(ref, ":")
	return ok && strings.EqualFold(strings.TrimSpace(ns), cfg.CategoryToken)
}

func resolve(ref string, cfg Config) (Result, error) {
	if strings.Contains(ref, "://") {
		return Result{Reference: ref, Kind: External}, nil
	}
	if strings.HasPrefix(strings.ToLower(ref), MailtoPrefix) {
		return Result{Reference: ref, Kind: External}, nil
	}
	if IsCategory(ref, cfg) {
		_, tag, _ := strings.Cut(ref, ":")
		return Result{Kind: Category, Tag: strings.TrimSpace(tag)}, nil
	}
	if strings.Contains(ref, "::") {
		return Result{Reference: ref, Kind: Unresolved}, nil
	}

	res := Result{Reference: ref, Kind: Page}
	switch {
	case strings.Contains(ref, ":") && !strings.HasSuffix(ref, ":"):
		parts := strings.Split(ref, ":")
		if len(parts) < 2 {
			return Result{}, fmt.Errorf("reference: cannot split %q", ref)
		}
		namespace, name := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		switch {
		case isImage(namespace, name, cfg):
			file := strings.ReplaceAll(name, " ", "_")
			res = Result{Reference: ImagePrefix + file, Kind: Image, Attachment: file}
		case containsFold(cfg.MediaTokens, namespace):
			res = Result{Reference: AttachmentPrefix + name, Kind: Attachment, Attachment: name}
		default:
			space := namespace
			if s := strings.TrimSpace(cfg.TargetSpace); s != "" {
				space = s
			}
			if i := strings.LastIndex(name, "/"); i >= 0 {
				name = name[i+1:]
			}
			res.Reference = space + "." + ConvertPageName(name)
		}
	case strings.TrimSpace(ref) != "":
		res.Reference = DefaultSpace(cfg) + "." + ConvertPageName(ref)
	}

	tag, ok := categoryDisplay(ref, cfg)
	if !ok {
		tag, ok = categoryDisplay(res.Reference, cfg)
	}
	if ok {
		return Result{Reference: TagBrowserPage, Kind: Page, QueryString: "do=viewTag&tag=" + tag}, nil
	}

	// Hierarchical page paths collapse to their last segment. Image and
	// attachment references keep their prefix.
	if res.Kind == Page && strings.Contains(res.Reference, "/") {
		last := res.Reference[strings.LastIndex(res.Reference, "/")+1:]
		res.Reference = DefaultSpace(cfg) + "." + ConvertPageName(last)
	}
	return res, nil
}

// categoryDisplay matches ":Category:Name" links that display a category
// instead of tagging the page.
func categoryDisplay(ref string, cfg Config) (string, bool) {
	marker := ":" + cfg.CategoryToken + ":"
	if len(ref) < len(marker) || !strings.EqualFold(ref[:len(marker)], marker) {
		return "", false
	}
	tag := strings.TrimSpace(ref[len(marker):])
	return tag, tag != ""
}

// isImage reports whether a namespaced resource is an image. The image
// namespace token alone is enough; the media tokens qualify when the file
// extension is an allowed image extension.
func isImage(namespace, fileName string, cfg Config) bool {
	if strings.EqualFold(namespace, cfg.ImageToken) {
		return true
	}
	if !containsFold(cfg.MediaTokens, namespace) {
		return false
	}
	dot := strings.LastIndex(fileName, ".")
	if dot < 0 {
		return false
	}
	return containsFold(cfg.ImageExtensions, fileName[dot+1:])
}

func containsFold(list []string, s string) bool {
	return slices.ContainsFunc(list, func(v string) bool {
		return strings.EqualFold(strings.TrimPrefix(strings.TrimSpace(v), "."), s)
	})
}
