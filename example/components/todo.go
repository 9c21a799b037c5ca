package components

import (
	"slices"
	"time"
)

// Status represents the completion status of a todo.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Tag represents a category tag for todos.
type Tag string

const (
	TagWork     Tag = "work"
	TagPersonal Tag = "personal"
	TagUrgent   Tag = "urgent"
	TagLater    Tag = "later"
)

// AllTags returns all available tags.
func AllTags() []Tag {
	return []Tag{TagWork, TagPersonal, TagUrgent, TagLater}
}

// Todo represents a single todo item.
type Todo struct {
	ID          string
	Title       string
	Description string
	Status      Status
	Tags        []Tag
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (t *Todo) IsCompleted() bool {
	return t.Status == StatusCompleted
}

func (t *Todo) HasTag(tag Tag) bool {
	return slices.Contains(t.Tags, tag)
}

// TodoStats holds counts across all todos.
type TodoStats struct {
	Total     int
	Completed int
	Pending   int
	ByTag     map[Tag]int
}

// TodoStore is shared by every session. Implementations must be safe for
// concurrent use since each session renders on its own goroutine.
type TodoStore interface {
	Get(id string) *Todo
	List(status *Status, tag *Tag) []*Todo
	Add(title, description string, tags []Tag) string
	Update(id string, title, description string) bool
	Toggle(id string) bool
	Delete(id string) bool
	Stats() TodoStats
}
