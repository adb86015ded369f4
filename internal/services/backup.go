package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"wikimport/internal/models"
)

// BackupService writes imported pages as markdown files with YAML
// frontmatter.
type BackupService struct {
	fs      afero.Fs
	enabled bool
	path    string
}

// NewBackupService creates a BackupService writing below path on fs. A
// disabled service accepts every call and writes nothing.
func NewBackupService(fs afero.Fs, enabled bool, path string) (*BackupService, error) {
	if !enabled {
		return &BackupService{fs: fs}, nil
	}

	if err := fs.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	return &BackupService{
		fs:      fs,
		enabled: true,
		path:    path,
	}, nil
}

// Enabled reports whether backups are written.
func (s *BackupService) Enabled() bool {
	return s.enabled
}

// SavePage writes page below <wiki>/<space>/, nested under the names of its
// ancestors, and returns the file path. parents lists the ancestors from the
// root down, without the page itself.
func (s *BackupService) SavePage(page *models.Page, parents []models.PageSummary) (string, error) {
	if !s.enabled {
		return "", nil
	}

	var tags []string
	for _, tag := range page.Tags {
		tags = append(tags, tag.Name)
	}

	var frontmatter strings.Builder
	frontmatter.WriteString("---\n")
	fmt.Fprintf(&frontmatter, "wiki: %q\n", page.Wiki)
	fmt.Fprintf(&frontmatter, "space: %q\n", page.Space)
	fmt.Fprintf(&frontmatter, "name: %q\n", page.Name)
	fmt.Fprintf(&frontmatter, "title: %q\n", page.Title)
	fmt.Fprintf(&frontmatter, "syntax: %q\n", page.Syntax)
	if page.Author != nil {
		fmt.Fprintf(&frontmatter, "author: %q\n", page.Author.Username)
	}
	if len(tags) > 0 {
		fmt.Fprintf(&frontmatter, "tags: [%s]\n", strings.Join(quoteTags(tags), ", "))
	}
	if n := len(parents); n > 0 {
		parent := parents[n-1]
		fmt.Fprintf(&frontmatter, "parent: %q\n", parent.Space+"."+parent.Name)
	}
	fmt.Fprintf(&frontmatter, "updated_at: %s\n", page.UpdatedAt.Format(time.RFC3339))
	frontmatter.WriteString("---\n\n")

	dirPath := s.pageDir(page.Wiki, page.Space, parents)
	if err := s.fs.MkdirAll(dirPath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	filePath := filepath.Join(dirPath, sanitizeFilename(page.Name)+".md")
	if err := afero.WriteFile(s.fs, filePath, []byte(frontmatter.String()+page.Content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write backup file: %w", err)
	}

	return filePath, nil
}

// DeleteBackup removes the backup file of a page and any directories left
// empty by it.
func (s *BackupService) DeleteBackup(page *models.Page, parents []models.PageSummary) error {
	if !s.enabled {
		return nil
	}

	dirPath := s.pageDir(page.Wiki, page.Space, parents)
	filePath := filepath.Join(dirPath, sanitizeFilename(page.Name)+".md")

	if err := s.fs.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete backup file: %w", err)
	}

	s.cleanEmptyDirs(dirPath)
	return nil
}

func (s *BackupService) pageDir(wiki, space string, parents []models.PageSummary) string {
	dirPath := filepath.Join(s.path, sanitizeFilename(wiki), sanitizeFilename(space))
	for _, p := range parents {
		dirPath = filepath.Join(dirPath, sanitizeFilename(p.Name))
	}
	return dirPath
}

// cleanEmptyDirs removes empty directories up to the backup root.
func (s *BackupService) cleanEmptyDirs(dirPath string) {
	for dirPath != s.path && strings.HasPrefix(dirPath, s.path) {
		entries, err := afero.ReadDir(s.fs, dirPath)
		if err != nil || len(entries) > 0 {
			break
		}
		s.fs.Remove(dirPath)
		dirPath = filepath.Dir(dirPath)
	}
}

// quoteTags adds quotes around each tag for YAML array format.
func quoteTags(tags []string) []string {
	quoted := make([]string, len(tags))
	for i, tag := range tags {
		quoted[i] = fmt.Sprintf("%q", tag)
	}
	return quoted
}

// sanitizeFilename makes a name safe for use as a file or directory name.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "/", "-")
	name = strings.ReplaceAll(name, "\\", "-")
	name = strings.Map(func(r rune) rune {
		if r == '<' || r == '>' || r == ':' || r == '"' || r == '|' || r == '?' || r == '*' {
			return '-'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}
