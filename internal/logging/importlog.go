package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Entry is one message recorded against a page.
type Entry struct {
	Level   zapcore.Level `json:"level"`
	Message string        `json:"message"`
}

// PageLog holds the messages recorded while one page was processed.
type PageLog struct {
	Index   int     `json:"index"`
	Title   string  `json:"title,omitempty"`
	Entries []Entry `json:"entries"`
}

// Count returns the number of entries at lvl.
func (p *PageLog) Count(lvl zapcore.Level) int {
	n := 0
	for _, e := range p.Entries {
		if e.Level == lvl {
			n++
		}
	}
	return n
}

// ImportLog records messages per imported page and mirrors them to a zap
// logger. It never feeds back into the import.
type ImportLog struct {
	logger *zap.Logger

	mu    sync.Mutex
	pages []*PageLog
}

// NewImportLog creates a log that mirrors entries to logger. A nil logger
// disables mirroring.
func NewImportLog(logger *zap.Logger) *ImportLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportLog{logger: logger}
}

// NextPage advances the cursor to a new page entry.
func (l *ImportLog) NextPage() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pages = append(l.pages, &PageLog{Index: len(l.pages) + 1})
}

// SetPageTitle keys the current page entry by title.
func (l *ImportLog) SetPageTitle(title string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current().Title = title
}

func (l *ImportLog) Info(format string, args ...any) {
	l.add(zapcore.InfoLevel, format, args...)
}

func (l *ImportLog) Warn(format string, args ...any) {
	l.add(zapcore.WarnLevel, format, args...)
}

func (l *ImportLog) Error(format string, args ...any) {
	l.add(zapcore.ErrorLevel, format, args...)
}

// Pages returns a copy of the per-page entries.
func (l *ImportLog) Pages() []PageLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]PageLog, 0, len(l.pages))
	for _, p := range l.pages {
		cp := *p
		cp.Entries = append([]Entry(nil), p.Entries...)
		out = append(out, cp)
	}
	return out
}

func (l *ImportLog) add(lvl zapcore.Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	l.mu.Lock()
	page := l.current()
	page.Entries = append(page.Entries, Entry{Level: lvl, Message: msg})
	index, title := page.Index, page.Title
	l.mu.Unlock()

	if ce := l.logger.Check(lvl, msg); ce != nil {
		ce.Write(zap.Int("page", index), zap.String("title", title))
	}
}

// current returns the open page entry, opening one if the cursor was never
// advanced. Callers hold l.mu.
func (l *ImportLog) current() *PageLog {
	if len(l.pages) == 0 {
		l.pages = append(l.pages, &PageLog{Index: 1})
	}
	return l.pages[len(l.pages)-1]
}
