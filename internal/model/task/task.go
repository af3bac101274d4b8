package task

import "time"

// Status tracks task progress.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// Category groups tasks for filtering and statistics.
type Category string

const (
	CategoryWork      Category = "work"
	CategoryPersonal  Category = "personal"
	CategoryShopping  Category = "shopping"
	CategoryHealth    Category = "health"
	CategoryEducation Category = "education"
	CategoryFinance   Category = "finance"
	CategoryOther     Category = "other"
)

// Priority orders tasks by urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Task is a to-do item owned by a single user.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Category    Category   `json:"category"`
	Tags        []string   `json:"tags"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	User        string     `json:"user"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// ApplyDefaults fills in the values a new task gets when the caller leaves them out.
func (t *Task) ApplyDefaults() {
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Category == "" {
		t.Category = CategoryOther
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
}

// Update carries a partial modification; nil fields are left untouched.
type Update struct {
	Title       *string
	Description *string
	Status      *Status
	Category    *Category
	Tags        []string
	Priority    *Priority
	DueDate     *time.Time
}

// Apply copies the non-nil fields of u onto t.
func (u Update) Apply(t *Task) {
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Category != nil {
		t.Category = *u.Category
	}
	if u.Tags != nil {
		t.Tags = append([]string(nil), u.Tags...)
	}
	if u.Priority != nil {
		t.Priority = *u.Priority
	}
	if u.DueDate != nil {
		due := *u.DueDate
		t.DueDate = &due
	}
}

// Filter narrows a task listing. User is mandatory.
type Filter struct {
	User     string
	Status   Status
	Category Category
	Search   string
}

// Bucket is one row of a grouped count.
type Bucket struct {
	Key   string `json:"_id"`
	Count int    `json:"count"`
}

// Stats summarizes a user's tasks.
type Stats struct {
	TotalTasks      int      `json:"totalTasks"`
	CompletedTasks  int      `json:"completedTasks"`
	PendingTasks    int      `json:"pendingTasks"`
	CompletionRate  float64  `json:"completionRate"`
	TasksByCategory []Bucket `json:"tasksByCategory"`
	TasksByPriority []Bucket `json:"tasksByPriority"`
}

// CompletionRate returns completed/total as a percentage, 0 when there are no tasks.
func CompletionRate(completed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(completed) / float64(total) * 100
}
