package domain

import "time"

// Session holds the per-session handles to remote resources. A session owns
// exactly one vector store and one assistant once SetupComplete is set; the
// thread is the only handle that may be replaced afterwards.
type Session struct {
	ID            string
	VectorStoreID string
	AssistantID   string
	ThreadID      string
	SetupComplete bool
	Documents     []string
	Turns         int
	UpdatedAt     time.Time
}

// Ready reports whether the session can answer questions.
func (s Session) Ready() bool {
	return s.SetupComplete && s.AssistantID != ""
}

// Reset clears every remote handle and the setup flag.
func (s *Session) Reset() {
	s.VectorStoreID = ""
	s.AssistantID = ""
	s.ThreadID = ""
	s.SetupComplete = false
	s.Documents = nil
}
