package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"manga-studio/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	series     TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pages (
	project_id  TEXT    NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	page_number INTEGER NOT NULL,
	image_path  TEXT    NOT NULL,
	PRIMARY KEY (project_id, page_number)
);

CREATE TABLE IF NOT EXISTS panels (
	project_id  TEXT    NOT NULL,
	page_number INTEGER NOT NULL,
	panel_index INTEGER NOT NULL,
	x           INTEGER NOT NULL,
	y           INTEGER NOT NULL,
	width       INTEGER NOT NULL,
	height      INTEGER NOT NULL,
	narration   TEXT    NOT NULL DEFAULT '',
	audio_path  TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (project_id, page_number, panel_index),
	FOREIGN KEY (project_id, page_number)
		REFERENCES pages(project_id, page_number) ON DELETE CASCADE
);
`

// SQLiteStore is the production Store backed by a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the project database at path and applies the
// schema. WAL and a busy timeout keep concurrent readers from tripping over
// writer locks.
func Open(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateProject inserts a new project and returns it.
func (s *SQLiteStore) CreateProject(ctx context.Context, title, series string) (domain.Project, error) {
	project := domain.Project{
		ID:        uuid.NewString(),
		Title:     title,
		Series:    series,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, title, series, created_at) VALUES (?, ?, ?, ?)`,
		project.ID, project.Title, project.Series, project.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	return project, nil
}

// GetProject assembles a project with its pages, panels, and narrations.
func (s *SQLiteStore) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var project domain.Project
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, series, created_at FROM projects WHERE id = ?`, id,
	).Scan(&project.ID, &project.Title, &project.Series, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Project{}, ErrNotFound
	}
	if err != nil {
		return domain.Project{}, fmt.Errorf("select project: %w", err)
	}
	project.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

	pages, err := s.loadPages(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	project.Pages = pages
	return project, nil
}

// loadPages reads pages and panels for one project in display order.
func (s *SQLiteStore) loadPages(ctx context.Context, projectID string) ([]domain.Page, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT page_number, image_path FROM pages WHERE project_id = ? ORDER BY page_number`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("select pages: %w", err)
	}
	defer rows.Close()

	var pages []domain.Page
	index := make(map[int]int)
	for rows.Next() {
		var page domain.Page
		if err := rows.Scan(&page.Number, &page.ImagePath); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		index[page.Number] = len(pages)
		pages = append(pages, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}

	panelRows, err := s.db.QueryContext(ctx,
		`SELECT page_number, panel_index, x, y, width, height, narration, audio_path
		 FROM panels WHERE project_id = ? ORDER BY page_number, panel_index`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("select panels: %w", err)
	}
	defer panelRows.Close()

	for panelRows.Next() {
		var pageNumber int
		var panel domain.Panel
		err := panelRows.Scan(&pageNumber, &panel.Index,
			&panel.X, &panel.Y, &panel.Width, &panel.Height,
			&panel.Narration, &panel.AudioPath)
		if err != nil {
			return nil, fmt.Errorf("scan panel: %w", err)
		}
		if i, ok := index[pageNumber]; ok {
			pages[i].Panels = append(pages[i].Panels, panel)
		}
	}
	if err := panelRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate panels: %w", err)
	}

	return pages, nil
}

// ListProjects returns project metadata without page contents.
func (s *SQLiteStore) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, series, created_at FROM projects ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select projects: %w", err)
	}
	defer rows.Close()

	var projects []domain.Project
	for rows.Next() {
		var project domain.Project
		var createdAt string
		if err := rows.Scan(&project.ID, &project.Title, &project.Series, &createdAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		project.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

// DeleteProject removes a project and, via cascade, its pages and panels.
func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AddPage inserts or replaces one page image for a project.
func (s *SQLiteStore) AddPage(ctx context.Context, projectID string, number int, imagePath string) error {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pages (project_id, page_number, image_path) VALUES (?, ?, ?)
		 ON CONFLICT (project_id, page_number) DO UPDATE SET image_path = excluded.image_path`,
		projectID, number, imagePath,
	)
	if err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

// SetPanels replaces the detected panels for one page.
func (s *SQLiteStore) SetPanels(ctx context.Context, projectID string, pageNumber int, panels []domain.Panel) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin panels transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM panels WHERE project_id = ? AND page_number = ?`,
		projectID, pageNumber,
	)
	if err != nil {
		return fmt.Errorf("clear panels: %w", err)
	}

	for _, panel := range panels {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO panels
			 (project_id, page_number, panel_index, x, y, width, height, narration, audio_path)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			projectID, pageNumber, panel.Index,
			panel.X, panel.Y, panel.Width, panel.Height,
			panel.Narration, panel.AudioPath,
		)
		if err != nil {
			return fmt.Errorf("insert panel %d: %w", panel.Index, err)
		}
	}

	return tx.Commit()
}

// SaveNarration stores narration text and synthesized audio path for one panel.
func (s *SQLiteStore) SaveNarration(ctx context.Context, projectID string, pageNumber, panelIndex int, text, audioPath string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE panels SET narration = ?, audio_path = ?
		 WHERE project_id = ? AND page_number = ? AND panel_index = ?`,
		text, audioPath, projectID, pageNumber, panelIndex,
	)
	if err != nil {
		return fmt.Errorf("update narration: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}
