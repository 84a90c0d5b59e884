package jobs

import (
	"sync"

	"manga-studio/internal/domain"
)

// Registry maps completed job ids to their render artifacts.
//
// Artifacts are single-use: Claim removes the entry it returns, so the first
// download wins and every later attempt reports not-found. Callers delete the
// file itself after serving it.
type Registry struct {
	mu        sync.Mutex
	artifacts map[string]domain.RenderArtifact
}

// NewRegistry creates an empty render file registry.
func NewRegistry() *Registry {
	return &Registry{artifacts: make(map[string]domain.RenderArtifact)}
}

// Put records the artifact for a completed job. Written once per job.
func (r *Registry) Put(jobID string, artifact domain.RenderArtifact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.artifacts[jobID] = artifact
}

// Claim returns the artifact for a job and removes it from the registry.
func (r *Registry) Claim(jobID string) (domain.RenderArtifact, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	artifact, ok := r.artifacts[jobID]
	if ok {
		delete(r.artifacts, jobID)
	}
	return artifact, ok
}
