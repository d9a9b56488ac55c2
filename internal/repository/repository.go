package repository

import (
	"context"
	"errors"
	"sync"

	"github.com/tutorhive/lesson-publisher/internal/types"
)

// ErrLessonNotFound is returned when a lesson id is unknown.
var ErrLessonNotFound = errors.New("lesson not found")

// LessonRepository is the single typed API through which committed lessons
// are merged into local state. The pipeline calls Merge once a publish run
// reaches Committed; there is no other mutation path.
type LessonRepository interface {
	Merge(ctx context.Context, lesson *types.Lesson) error
	Get(ctx context.Context, lessonID string) (*types.Lesson, error)
	ListByCourse(ctx context.Context, courseID string) ([]types.Lesson, error)
}

// MemoryRepository keeps lessons in memory, ordered per course by first
// merge.
type MemoryRepository struct {
	mu       sync.RWMutex
	lessons  map[string]types.Lesson
	byCourse map[string][]string
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		lessons:  make(map[string]types.Lesson),
		byCourse: make(map[string][]string),
	}
}

// Merge inserts the lesson or replaces the stored record with the same id.
func (r *MemoryRepository) Merge(ctx context.Context, lesson *types.Lesson) error {
	if lesson == nil || lesson.ID == "" {
		return errors.New("lesson id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, exists := r.lessons[lesson.ID]
	if exists && prev.CourseID != lesson.CourseID {
		r.byCourse[prev.CourseID] = removeID(r.byCourse[prev.CourseID], lesson.ID)
	}
	if (!exists || prev.CourseID != lesson.CourseID) && lesson.CourseID != "" {
		r.byCourse[lesson.CourseID] = append(r.byCourse[lesson.CourseID], lesson.ID)
	}
	r.lessons[lesson.ID] = *lesson
	return nil
}

func removeID(ids []string, id string) []string {
	for i, candidate := range ids {
		if candidate == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// Get returns the lesson with the given id.
func (r *MemoryRepository) Get(ctx context.Context, lessonID string) (*types.Lesson, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lesson, ok := r.lessons[lessonID]
	if !ok {
		return nil, ErrLessonNotFound
	}
	return &lesson, nil
}

// ListByCourse returns the course's lessons in merge order.
func (r *MemoryRepository) ListByCourse(ctx context.Context, courseID string) ([]types.Lesson, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byCourse[courseID]
	lessons := make([]types.Lesson, 0, len(ids))
	for _, id := range ids {
		if lesson, ok := r.lessons[id]; ok {
			lessons = append(lessons, lesson)
		}
	}
	return lessons, nil
}
