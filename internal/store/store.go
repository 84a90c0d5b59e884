// Package store persists manga projects, pages, panels, and narrations.
// The render pipeline only consumes GetProject indirectly (the editor view
// renders from it); everything else backs the project CRUD endpoints.
package store

import (
	"context"
	"errors"

	"manga-studio/internal/domain"
)

// ErrNotFound is returned when a project, page, or panel does not exist.
var ErrNotFound = errors.New("not found")

// Store defines CRUD operations keyed by project id, page number, and
// panel index.
type Store interface {
	CreateProject(ctx context.Context, title, series string) (domain.Project, error)
	GetProject(ctx context.Context, id string) (domain.Project, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)
	DeleteProject(ctx context.Context, id string) error

	AddPage(ctx context.Context, projectID string, number int, imagePath string) error
	SetPanels(ctx context.Context, projectID string, pageNumber int, panels []domain.Panel) error
	SaveNarration(ctx context.Context, projectID string, pageNumber, panelIndex int, text, audioPath string) error

	Close() error
}
