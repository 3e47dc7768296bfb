package domain

// Message is a single persisted transcript turn.
type Message struct {
	PK        string
	SK        string
	SessionID string
	Question  string
	Answer    string
	RunID     string
	Status    string
	TTL       int64
}
