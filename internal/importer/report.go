package importer

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Report totals one import pass.
type Report struct {
	PagesSeen          int   `json:"pages_seen"`
	PagesImported      int   `json:"pages_imported"`
	PagesSkipped       int   `json:"pages_skipped"`
	PagesFailed        int   `json:"pages_failed"`
	RevisionsWritten   int   `json:"revisions_written"`
	RevisionsDiscarded int   `json:"revisions_discarded"`
	RenderFallbacks    int   `json:"render_fallbacks"`
	MacroErrors        int   `json:"macro_errors"`
	AttachmentsWritten int   `json:"attachments_written"`
	AttachmentsMissing int   `json:"attachments_missing"`
	AttachmentBytes    int64 `json:"attachment_bytes"`
}

// PageResult counts the writes made for one page.
type PageResult struct {
	Document           DocumentRef
	RevisionsWritten   int
	RenderFallbacks    int
	AttachmentsWritten int
	AttachmentsMissing int
	AttachmentBytes    int64
}

func (r *Report) add(res PageResult) {
	r.RevisionsWritten += res.RevisionsWritten
	r.RenderFallbacks += res.RenderFallbacks
	r.AttachmentsWritten += res.AttachmentsWritten
	r.AttachmentsMissing += res.AttachmentsMissing
	r.AttachmentBytes += res.AttachmentBytes
}

func (r Report) String() string {
	return fmt.Sprintf("%s pages seen, %s imported, %s skipped, %s failed; %s revisions, %s render fallbacks, %s attachments (%s)",
		humanize.Comma(int64(r.PagesSeen)),
		humanize.Comma(int64(r.PagesImported)),
		humanize.Comma(int64(r.PagesSkipped)),
		humanize.Comma(int64(r.PagesFailed)),
		humanize.Comma(int64(r.RevisionsWritten)),
		humanize.Comma(int64(r.RenderFallbacks)),
		humanize.Comma(int64(r.AttachmentsWritten)),
		humanize.Bytes(uint64(r.AttachmentBytes)),
	)
}
