package attachment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/spf13/afero"
)

// ErrNotFound is returned when no file under the root matches a name.
var ErrNotFound = errors.New("attachment not found")

// Finder locates attachment files below a root directory. The directory tree
// is indexed on first use.
type Finder struct {
	fs      afero.Fs
	root    string
	exclude map[string]struct{}

	mu    sync.Mutex
	index map[string]string
}

// NewFinder creates a finder over fs rooted at root. Directories whose base
// name is listed in exclude are not descended into.
func NewFinder(fs afero.Fs, root string, exclude []string) *Finder {
	ex := make(map[string]struct{}, len(exclude))
	for _, dir := range exclude {
		if dir = strings.TrimSpace(dir); dir != "" {
			ex[dir] = struct{}{}
		}
	}
	return &Finder{fs: fs, root: root, exclude: ex}
}

// Find returns the path of the file matching name. Underscores and spaces are
// interchangeable and the first letter may differ in case, as MediaWiki
// stores uploads under the normalized title.
func (f *Finder) Find(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || f.root == "" {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	index, err := f.load(ctx)
	if err != nil {
		return "", err
	}
	for _, candidate := range candidates(name) {
		if path, ok := index[candidate]; ok {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Fetch finds name and reads its content.
func (f *Finder) Fetch(ctx context.Context, name string) (string, []byte, error) {
	path, err := f.Find(ctx, name)
	if err != nil {
		return "", nil, err
	}
	content, err := afero.ReadFile(f.fs, path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read attachment %s: %w", path, err)
	}
	return path, content, nil
}

func (f *Finder) load(ctx context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		return f.index, nil
	}

	index := make(map[string]string)
	err := afero.Walk(f.fs, f.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() {
			if _, skip := f.exclude[info.Name()]; skip && path != f.root {
				return filepath.SkipDir
			}
			return nil
		}
		// First match in lexical order wins.
		if _, ok := index[info.Name()]; !ok {
			index[info.Name()] = path
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to index attachments under %s: %w", f.root, err)
	}
	f.index = index
	return index, nil
}

func candidates(name string) []string {
	spaced := strings.ReplaceAll(name, "_", " ")
	underscored := strings.ReplaceAll(name, " ", "_")

	var out []string
	seen := make(map[string]struct{})
	for _, c := range []string{name, underscored, spaced, upperFirst(name), upperFirst(underscored), upperFirst(spaced)} {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
