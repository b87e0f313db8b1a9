package conversation

// TodoStatus represents the status of a todo item
type TodoStatus string

const (
	// TodoStatusPending indicates the task has not been started
	TodoStatusPending TodoStatus = "pending"
	// TodoStatusInProgress indicates the task is currently being worked on
	TodoStatusInProgress TodoStatus = "in_progress"
	// TodoStatusCompleted indicates the task has been finished
	TodoStatusCompleted TodoStatus = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s TodoStatus) Valid() bool {
	switch s {
	case TodoStatusPending, TodoStatusInProgress, TodoStatusCompleted:
		return true
	}
	return false
}

// TodoItem represents a single todo item tracked by the agent
type TodoItem struct {
	// Content is the description of the task to be completed
	Content string `json:"content"`
	// Status is the current state of the task
	Status TodoStatus `json:"status"`
	// ActiveForm is the present participle form shown during execution
	// e.g., "Running tests" for a task with content "Run tests"
	ActiveForm string `json:"active_form"`
}

// CountTodosByStatus returns the count of items with each status
func CountTodosByStatus(items []TodoItem) (pending, inProgress, completed int) {
	for _, item := range items {
		switch item.Status {
		case TodoStatusPending:
			pending++
		case TodoStatusInProgress:
			inProgress++
		case TodoStatusCompleted:
			completed++
		}
	}
	return
}

// TodosComplete returns true if the list is non-empty and every item is completed
func TodosComplete(items []TodoItem) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		if item.Status != TodoStatusCompleted {
			return false
		}
	}
	return true
}
