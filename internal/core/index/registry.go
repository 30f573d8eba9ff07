package index

import (
	"database/sql"
	"sync"
	"time"

	"github.com/classmate-app/classmate/internal/core"
)

// Registry hands out per-course store handles. Handles are created on first
// use and dropped when the course's last asset goes away, keeping course
// isolation explicit instead of hiding it in a process-wide map.
type Registry struct {
	mu     sync.Mutex
	stores map[string]*PgStore

	db           *sql.DB
	embedder     core.EmbeddingProvider
	queryTimeout time.Duration
	embedTimeout time.Duration
}

func NewRegistry(db *sql.DB, embedder core.EmbeddingProvider, queryTimeout, embedTimeout time.Duration) *Registry {
	return &Registry{
		stores:       make(map[string]*PgStore),
		db:           db,
		embedder:     embedder,
		queryTimeout: queryTimeout,
		embedTimeout: embedTimeout,
	}
}

// ForCourse returns the course's index handle, creating it on first use.
func (r *Registry) ForCourse(courseID string) Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[courseID]; ok {
		return s
	}
	s := &PgStore{
		db:           r.db,
		embedder:     r.embedder,
		courseID:     courseID,
		queryTimeout: r.queryTimeout,
		embedTimeout: r.embedTimeout,
	}
	r.stores[courseID] = s
	return s
}

// Drop releases the handle after the course (or its last asset) is deleted.
func (r *Registry) Drop(courseID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stores, courseID)
}
