package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"wikimport/internal/models"
)

var (
	mdLinkRegex   = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	mdBoldRegex   = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	mdItalicRegex = regexp.MustCompile(`\*([^*]+)\*`)
	mdCodeRegex   = regexp.MustCompile("`[^`]+`")
)

// cleanExcerpt removes markdown formatting and cleans up an excerpt.
func cleanExcerpt(raw string) string {
	lines := strings.Split(raw, "\n")
	var cleanLines []string

	for _, line := range lines {
		line = strings.TrimSpace(line)
		// Skip empty lines and headers
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = mdLinkRegex.ReplaceAllString(line, "$1")
		line = mdBoldRegex.ReplaceAllString(line, "$1")
		line = mdItalicRegex.ReplaceAllString(line, "$1")
		line = mdCodeRegex.ReplaceAllString(line, "")

		cleanLines = append(cleanLines, line)
	}

	excerpt := strings.Join(cleanLines, " ")
	// Truncate to ~150 chars at word boundary
	if len(excerpt) > 150 {
		excerpt = excerpt[:150]
		if idx := strings.LastIndex(excerpt, " "); idx > 100 {
			excerpt = excerpt[:idx]
		}
		excerpt += "..."
	}
	return excerpt
}

// User queries

// CreateUser inserts a new user into the database.
func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	result, err := db.ExecContext(ctx, `
		INSERT INTO users (username, email, password_hash, role, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, user.Username, user.Email, user.PasswordHash, user.Role, user.IsActive, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get user ID: %w", err)
	}

	user.ID = id
	return nil
}

// GetUserByID retrieves a user by ID.
func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	user := &models.User{}
	err := db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, role, is_active, created_at, updated_at, last_login_at
		FROM users WHERE id = ?
	`, id).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.Role, &user.IsActive, &user.CreatedAt, &user.UpdatedAt, &user.LastLoginAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, role, is_active, created_at, updated_at, last_login_at
		FROM users WHERE username = ? COLLATE NOCASE
	`, username).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.Role, &user.IsActive, &user.CreatedAt, &user.UpdatedAt, &user.LastLoginAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// UpdateUserLastLogin updates the user's last login timestamp.
func (db *DB) UpdateUserLastLogin(ctx context.Context, userID int64) error {
	_, err := db.ExecContext(ctx, `
		UPDATE users SET last_login_at = ? WHERE id = ?
	`, time.Now().UTC(), userID)
	return err
}

// UpdateUserPassword replaces a user's password hash.
func (db *DB) UpdateUserPassword(ctx context.Context, userID int64, hash string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?
	`, hash, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// CountUsers returns the total number of users.
func (db *DB) CountUsers(ctx context.Context) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count)
	return count, err
}

// Page queries

const pageColumns = `p.id, p.wiki, p.space, p.name, p.slug, p.title, p.content, p.content_html,
	p.syntax, p.author_id, p.parent_id, p.created_at, p.updated_at, u.username`

func scanPage(row interface{ Scan(...any) error }) (*models.Page, error) {
	page := &models.Page{}
	var authorUsername string
	err := row.Scan(
		&page.ID, &page.Wiki, &page.Space, &page.Name, &page.Slug, &page.Title,
		&page.Content, &page.ContentHTML, &page.Syntax, &page.AuthorID, &page.ParentID,
		&page.CreatedAt, &page.UpdatedAt, &authorUsername,
	)
	if err != nil {
		return nil, err
	}
	page.Author = &models.User{ID: page.AuthorID, Username: authorUsername}
	return page, nil
}

// getPage runs a single-page lookup and loads its tags.
func (db *DB) getPage(ctx context.Context, where string, args ...any) (*models.Page, error) {
	page, err := scanPage(db.QueryRowContext(ctx, `
		SELECT `+pageColumns+`
		FROM pages p
		JOIN users u ON p.author_id = u.id
		WHERE `+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get page: %w", err)
	}

	tags, err := db.GetPageTags(ctx, page.ID)
	if err != nil {
		return nil, err
	}
	page.Tags = tags

	return page, nil
}

// CreatePage inserts a new page.
func (db *DB) CreatePage(ctx context.Context, page *models.Page) error {
	now := time.Now().UTC()
	page.CreatedAt = now
	page.UpdatedAt = now

	result, err := db.ExecContext(ctx, `
		INSERT INTO pages (wiki, space, name, slug, title, content, content_html, syntax, author_id, parent_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, page.Wiki, page.Space, page.Name, page.Slug, page.Title, page.Content, page.ContentHTML,
		page.Syntax, page.AuthorID, page.ParentID, page.CreatedAt, page.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create page: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get page ID: %w", err)
	}

	page.ID = id
	return nil
}

// GetPageBySlug retrieves a page by slug.
func (db *DB) GetPageBySlug(ctx context.Context, slug string) (*models.Page, error) {
	return db.getPage(ctx, "p.slug = ? COLLATE NOCASE", slug)
}

// GetPageByName retrieves a page by its wiki, space and name.
func (db *DB) GetPageByName(ctx context.Context, wiki, space, name string) (*models.Page, error) {
	return db.getPage(ctx, "p.wiki = ? AND p.space = ? AND p.name = ?", wiki, space, name)
}

// SlugTaken reports whether slug belongs to a page other than exceptID.
func (db *DB) SlugTaken(ctx context.Context, slug string, exceptID int64) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pages WHERE slug = ? COLLATE NOCASE AND id != ?", slug, exceptID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return n > 0, nil
}

// UpdatePage updates a page.
func (db *DB) UpdatePage(ctx context.Context, page *models.Page) error {
	page.UpdatedAt = time.Now().UTC()

	_, err := db.ExecContext(ctx, `
		UPDATE pages
		SET slug = ?, title = ?, content = ?, content_html = ?, syntax = ?, author_id = ?, parent_id = ?, updated_at = ?
		WHERE id = ?
	`, page.Slug, page.Title, page.Content, page.ContentHTML, page.Syntax, page.AuthorID, page.ParentID, page.UpdatedAt, page.ID)
	if err != nil {
		return fmt.Errorf("failed to update page: %w", err)
	}
	return nil
}

// ListPages retrieves pages with optional filtering.
func (db *DB) ListPages(ctx context.Context, filter models.PageFilter) ([]models.PageSummary, error) {
	var whereClauses []string
	var args []any

	if filter.Wiki != "" {
		whereClauses = append(whereClauses, "p.wiki = ?")
		args = append(args, filter.Wiki)
	}

	if filter.Space != "" {
		whereClauses = append(whereClauses, "p.space = ?")
		args = append(args, filter.Space)
	}

	if filter.Tag != "" {
		whereClauses = append(whereClauses, `
			EXISTS (
				SELECT 1 FROM page_tags pt
				JOIN tags t ON pt.tag_id = t.id
				WHERE pt.page_id = p.id AND t.name = ? COLLATE NOCASE
			)
		`)
		args = append(args, filter.Tag)
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = "WHERE " + strings.Join(whereClauses, " AND ")
	}

	// Validate order by to prevent SQL injection
	validOrderBy := map[string]bool{"updated_at": true, "created_at": true, "title": true, "name": true}
	orderBy := "updated_at"
	if validOrderBy[filter.OrderBy] {
		orderBy = filter.OrderBy
	}

	orderDir := "DESC"
	if filter.OrderDir == "ASC" {
		orderDir = "ASC"
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}

	query := fmt.Sprintf(`
		SELECT p.id, p.slug, p.space, p.name, p.title, SUBSTR(p.content, 1, 200), p.parent_id, p.updated_at
		FROM pages p
		%s
		ORDER BY p.%s %s, p.id ASC
		LIMIT ? OFFSET ?
	`, whereSQL, orderBy, orderDir)

	args = append(args, limit, filter.Offset)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	defer rows.Close()

	var pages []models.PageSummary
	for rows.Next() {
		var p models.PageSummary
		var rawExcerpt string
		if err := rows.Scan(&p.ID, &p.Slug, &p.Space, &p.Name, &p.Title, &rawExcerpt, &p.ParentID, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		p.Excerpt = cleanExcerpt(rawExcerpt)
		pages = append(pages, p)
	}

	return pages, rows.Err()
}

// GetPageChildren retrieves child pages of a given page.
func (db *DB) GetPageChildren(ctx context.Context, parentID int64) ([]models.PageSummary, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT p.id, p.slug, p.space, p.name, p.title, SUBSTR(p.content, 1, 200), p.parent_id, p.updated_at
		FROM pages p
		WHERE p.parent_id = ?
		ORDER BY p.name ASC
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get child pages: %w", err)
	}
	defer rows.Close()

	var pages []models.PageSummary
	for rows.Next() {
		var p models.PageSummary
		var rawExcerpt string
		if err := rows.Scan(&p.ID, &p.Slug, &p.Space, &p.Name, &p.Title, &rawExcerpt, &p.ParentID, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		p.Excerpt = cleanExcerpt(rawExcerpt)
		pages = append(pages, p)
	}

	return pages, rows.Err()
}

// GetPagePath retrieves the ancestors of a page, root first, ending with the
// page itself.
func (db *DB) GetPagePath(ctx context.Context, pageID int64) ([]models.PageSummary, error) {
	rows, err := db.QueryContext(ctx, `
		WITH RECURSIVE ancestors AS (
			SELECT id, slug, space, name, title, parent_id, 0 as depth
			FROM pages
			WHERE id = ?
			UNION ALL
			SELECT p.id, p.slug, p.space, p.name, p.title, p.parent_id, a.depth + 1
			FROM pages p
			JOIN ancestors a ON p.id = a.parent_id
			WHERE a.depth < 64
		)
		SELECT id, slug, space, name, title FROM ancestors ORDER BY depth DESC
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get page path: %w", err)
	}
	defer rows.Close()

	var path []models.PageSummary
	for rows.Next() {
		var p models.PageSummary
		if err := rows.Scan(&p.ID, &p.Slug, &p.Space, &p.Name, &p.Title); err != nil {
			return nil, fmt.Errorf("failed to scan page path: %w", err)
		}
		path = append(path, p)
	}

	return path, rows.Err()
}

// CountPages returns the total number of pages.
func (db *DB) CountPages(ctx context.Context) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pages").Scan(&count)
	return count, err
}

// Revision queries

// CreateRevision saves a page revision. A zero Version takes the next number
// for the page.
func (db *DB) CreateRevision(ctx context.Context, rev *models.Revision) error {
	rev.CreatedAt = time.Now().UTC()

	return db.Transaction(ctx, func(tx *sql.Tx) error {
		if rev.Version == 0 {
			err := tx.QueryRowContext(ctx,
				"SELECT COALESCE(MAX(version), 0) + 1 FROM revisions WHERE page_id = ?", rev.PageID).Scan(&rev.Version)
			if err != nil {
				return fmt.Errorf("failed to get next revision: %w", err)
			}
		}

		result, err := tx.ExecContext(ctx, `
			INSERT INTO revisions (page_id, version, title, content, syntax, author_id, comment, is_minor, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, rev.PageID, rev.Version, rev.Title, rev.Content, rev.Syntax, rev.AuthorID, rev.Comment, rev.IsMinor, rev.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create revision: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get revision ID: %w", err)
		}

		rev.ID = id
		return nil
	})
}

// AmendLatestRevision sets the title and syntax of the newest revision of a
// page.
func (db *DB) AmendLatestRevision(ctx context.Context, pageID int64, title, syntax string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE revisions SET title = ?, syntax = ?
		WHERE id = (SELECT id FROM revisions WHERE page_id = ? ORDER BY version DESC LIMIT 1)
	`, title, syntax, pageID)
	if err != nil {
		return fmt.Errorf("failed to amend revision: %w", err)
	}
	return nil
}

// ListRevisions retrieves revisions for a page, oldest first.
func (db *DB) ListRevisions(ctx context.Context, pageID int64) ([]models.Revision, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT r.id, r.page_id, r.version, r.title, r.content, r.syntax, r.author_id,
			   r.comment, r.is_minor, r.created_at, u.username
		FROM revisions r
		JOIN users u ON r.author_id = u.id
		WHERE r.page_id = ?
		ORDER BY r.version ASC
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	defer rows.Close()

	var revisions []models.Revision
	for rows.Next() {
		var r models.Revision
		var authorUsername string
		if err := rows.Scan(&r.ID, &r.PageID, &r.Version, &r.Title, &r.Content, &r.Syntax, &r.AuthorID,
			&r.Comment, &r.IsMinor, &r.CreatedAt, &authorUsername); err != nil {
			return nil, fmt.Errorf("failed to scan revision: %w", err)
		}
		r.Author = &models.User{ID: r.AuthorID, Username: authorUsername}
		revisions = append(revisions, r)
	}

	return revisions, rows.Err()
}

// Tag queries

// SetPageTags replaces all tags for a page within a transaction.
func (db *DB) SetPageTags(ctx context.Context, pageID int64, tagNames []string) error {
	return db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM page_tags WHERE page_id = ?", pageID); err != nil {
			return fmt.Errorf("failed to clear page tags: %w", err)
		}

		for _, name := range tagNames {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}

			tag, err := getOrCreateTagTx(ctx, tx, name)
			if err != nil {
				return err
			}

			_, err = tx.ExecContext(ctx, "INSERT OR IGNORE INTO page_tags (page_id, tag_id) VALUES (?, ?)", pageID, tag.ID)
			if err != nil {
				return fmt.Errorf("failed to tag page: %w", err)
			}
		}

		return nil
	})
}

// getOrCreateTagTx gets or creates a tag within a transaction.
func getOrCreateTagTx(ctx context.Context, tx *sql.Tx, name string) (*models.Tag, error) {
	var tag models.Tag
	err := tx.QueryRowContext(ctx, "SELECT id, name FROM tags WHERE name = ? COLLATE NOCASE", name).Scan(&tag.ID, &tag.Name)
	if err == nil {
		return &tag, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get tag: %w", err)
	}

	result, err := tx.ExecContext(ctx, "INSERT INTO tags (name) VALUES (?)", name)
	if err != nil {
		return nil, fmt.Errorf("failed to create tag: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get tag ID: %w", err)
	}
	tag.ID = id
	tag.Name = name

	return &tag, nil
}

// GetPageTags retrieves all tags for a page.
func (db *DB) GetPageTags(ctx context.Context, pageID int64) ([]models.Tag, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT t.id, t.name
		FROM tags t
		JOIN page_tags pt ON t.id = pt.tag_id
		WHERE pt.page_id = ?
		ORDER BY t.name
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get page tags: %w", err)
	}
	defer rows.Close()

	var tags []models.Tag
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}

	return tags, rows.Err()
}

// ListTags retrieves all tags with page counts.
func (db *DB) ListTags(ctx context.Context) ([]models.Tag, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT t.id, t.name, COUNT(pt.page_id) as page_count
		FROM tags t
		LEFT JOIN page_tags pt ON t.id = pt.tag_id
		GROUP BY t.id
		ORDER BY t.name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	var tags []models.Tag
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.PageCount); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}

	return tags, rows.Err()
}

// Property queries

// SetPageProperty creates or replaces one class property of a page.
func (db *DB) SetPageProperty(ctx context.Context, prop *models.Property) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO page_properties (page_id, class_name, property, value) VALUES (?, ?, ?, ?)
		ON CONFLICT(page_id, class_name, property) DO UPDATE SET value = excluded.value
	`, prop.PageID, prop.ClassName, prop.Name, prop.Value)
	if err != nil {
		return fmt.Errorf("failed to set property: %w", err)
	}
	return nil
}

// GetPageProperties retrieves every class property of a page.
func (db *DB) GetPageProperties(ctx context.Context, pageID int64) ([]models.Property, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT page_id, class_name, property, value
		FROM page_properties
		WHERE page_id = ?
		ORDER BY class_name, property
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get properties: %w", err)
	}
	defer rows.Close()

	var props []models.Property
	for rows.Next() {
		var p models.Property
		if err := rows.Scan(&p.PageID, &p.ClassName, &p.Name, &p.Value); err != nil {
			return nil, fmt.Errorf("failed to scan property: %w", err)
		}
		props = append(props, p)
	}

	return props, rows.Err()
}

// Search queries

// SearchPages matches title and content with LIKE.
func (db *DB) SearchPages(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	likePattern := "%" + query + "%"

	rows, err := db.QueryContext(ctx, `
		SELECT p.id, p.slug, p.title,
			   CASE
				   WHEN p.content LIKE ? THEN substr(p.content, 1, 150) || '...'
				   ELSE ''
			   END as snippet,
			   0.0 as rank, p.updated_at
		FROM pages p
		WHERE (p.title LIKE ? OR p.content LIKE ?)
		ORDER BY p.updated_at DESC
		LIMIT ?
	`, likePattern, likePattern, likePattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var r models.SearchResult
		if err := rows.Scan(&r.PageID, &r.Slug, &r.Title, &r.Snippet, &r.Rank, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

// Attachment queries

// SaveAttachment creates an attachment or replaces the one with the same
// page and file name.
func (db *DB) SaveAttachment(ctx context.Context, att *models.Attachment) error {
	att.CreatedAt = time.Now().UTC()

	err := db.QueryRowContext(ctx, `
		INSERT INTO attachments (page_id, filename, filepath, mime_type, size_bytes, uploader_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(page_id, filename) DO UPDATE SET
			filepath = excluded.filepath,
			mime_type = excluded.mime_type,
			size_bytes = excluded.size_bytes,
			uploader_id = excluded.uploader_id,
			created_at = excluded.created_at
		RETURNING id
	`, att.PageID, att.Filename, att.Filepath, att.MimeType, att.SizeBytes, att.UploaderID, att.CreatedAt).Scan(&att.ID)
	if err != nil {
		return fmt.Errorf("failed to save attachment: %w", err)
	}
	return nil
}

// ListAttachments retrieves attachments for a page.
func (db *DB) ListAttachments(ctx context.Context, pageID int64) ([]models.Attachment, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, page_id, filename, filepath, mime_type, size_bytes, uploader_id, created_at
		FROM attachments WHERE page_id = ?
		ORDER BY filename ASC
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	var attachments []models.Attachment
	for rows.Next() {
		var a models.Attachment
		if err := rows.Scan(&a.ID, &a.PageID, &a.Filename, &a.Filepath, &a.MimeType, &a.SizeBytes, &a.UploaderID, &a.CreatedAt); err != nil {
			return nil, err
		}
		attachments = append(attachments, a)
	}

	return attachments, rows.Err()
}

// Settings queries

// GetSettings returns every setting whose key starts with prefix.
func (db *DB) GetSettings(ctx context.Context, prefix string) (map[string]string, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT key, value FROM settings WHERE substr(key, 1, ?) = ?", len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

// SetSettings creates or updates several settings at once. Empty values
// remove their key.
func (db *DB) SetSettings(ctx context.Context, values map[string]string) error {
	now := time.Now().UTC()
	return db.Transaction(ctx, func(tx *sql.Tx) error {
		for key, value := range values {
			if value == "" {
				if _, err := tx.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key); err != nil {
					return fmt.Errorf("failed to clear setting %s: %w", key, err)
				}
				continue
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
			`, key, value, now)
			if err != nil {
				return fmt.Errorf("failed to save setting %s: %w", key, err)
			}
		}
		return nil
	})
}
