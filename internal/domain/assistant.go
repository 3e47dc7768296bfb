package domain

// RunStatus is the lifecycle state of an assistant run.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunCancelling     RunStatus = "cancelling"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelled      RunStatus = "cancelled"
	RunExpired        RunStatus = "expired"
	RunIncomplete     RunStatus = "incomplete"
)

// Pending reports whether the run is still being worked on by the provider.
func (s RunStatus) Pending() bool {
	switch s {
	case RunQueued, RunInProgress, RunCancelling:
		return true
	default:
		return false
	}
}

// Run is one asynchronous invocation of an assistant against a thread.
type Run struct {
	ID          string
	ThreadID    string
	AssistantID string
	Status      RunStatus
	LastError   string
}

// Message roles used on threads.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContentBlock is one piece of message content. Only text blocks carry Text.
type ContentBlock struct {
	Type string
	Text string
}

// ThreadMessage is a message as stored on a provider thread.
type ThreadMessage struct {
	ID      string
	Role    string
	RunID   string
	Content []ContentBlock
}

// FirstText returns the first text block of the message, if any.
func (m ThreadMessage) FirstText() (string, bool) {
	for _, c := range m.Content {
		if c.Type == "text" {
			return c.Text, true
		}
	}
	return "", false
}

// FileBatchStatus is the indexing state of a vector store file batch.
type FileBatchStatus string

const (
	BatchInProgress FileBatchStatus = "in_progress"
	BatchCompleted  FileBatchStatus = "completed"
	BatchFailed     FileBatchStatus = "failed"
	BatchCancelled  FileBatchStatus = "cancelled"
)

// FileBatch tracks the files attached to a vector store in one request.
type FileBatch struct {
	ID            string
	VectorStoreID string
	Status        FileBatchStatus
	Completed     int
	Failed        int
	Total         int
}

// AssistantConfig describes the assistant created at setup.
type AssistantConfig struct {
	Name          string
	Instructions  string
	Model         string
	VectorStoreID string
}
