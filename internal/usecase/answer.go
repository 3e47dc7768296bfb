package usecase

import "manual-tutor/internal/domain"

// extractAnswer returns the first text block of the newest assistant message
// produced by runID. msgs must be ordered newest first. Messages from other
// runs are skipped so a stale answer is never returned for a new question.
func extractAnswer(msgs []domain.ThreadMessage, runID string) (string, bool) {
	for _, m := range msgs {
		if m.Role != domain.RoleAssistant || m.RunID != runID {
			continue
		}
		if text, ok := m.FirstText(); ok {
			return text, true
		}
	}
	return "", false
}
