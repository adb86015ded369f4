package services

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikimport/internal/models"
)

func TestBackupSavePage(t *testing.T) {
	fs := afero.NewMemMapFs()
	backup, err := NewBackupService(fs, true, "/backup")
	require.NoError(t, err)
	require.True(t, backup.Enabled())

	page := &models.Page{
		Wiki:      "xwiki",
		Space:     "Help",
		Name:      "Install",
		Title:     "Install guide",
		Content:   "Run **make**.\n",
		Syntax:    "markdown/1.0",
		Author:    &models.User{Username: "importer"},
		Tags:      []models.Tag{{Name: "Docs"}, {Name: "Tools"}},
		UpdatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	parents := []models.PageSummary{{Space: "Help", Name: "Guides"}}

	path, err := backup.SavePage(page, parents)
	require.NoError(t, err)
	assert.Equal(t, "/backup/xwiki/Help/Guides/Install.md", path)

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	want := `---
wiki: "xwiki"
space: "Help"
name: "Install"
title: "Install guide"
syntax: "markdown/1.0"
author: "importer"
tags: ["Docs", "Tools"]
parent: "Help.Guides"
updated_at: 2024-05-01T12:00:00Z
---

Run **make**.
`
	assert.Equal(t, want, string(data))

	require.NoError(t, backup.DeleteBackup(page, parents))
	exists, err := afero.Exists(fs, path)
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = afero.DirExists(fs, "/backup/xwiki")
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = afero.DirExists(fs, "/backup")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestBackupDisabled(t *testing.T) {
	fs := afero.NewMemMapFs()
	backup, err := NewBackupService(fs, false, "/backup")
	require.NoError(t, err)
	assert.False(t, backup.Enabled())

	path, err := backup.SavePage(&models.Page{Name: "A"}, nil)
	require.NoError(t, err)
	assert.Empty(t, path)

	exists, err := afero.DirExists(fs, "/backup")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a-b-c", sanitizeFilename("a/b\\c"))
	assert.Equal(t, "what-", sanitizeFilename("what?"))
	assert.Equal(t, "_", sanitizeFilename(".."))
}
