package usecase

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"manual-tutor/internal/domain"
)

type AskInput struct {
	SessionID string
	Question  string
}

type AskOutput struct {
	SessionID string
	ThreadID  string
	RunID     string
	Answer    string
	// OriginalAnswer is the untranslated text. It equals Answer when no
	// translation was applied.
	OriginalAnswer string
	Translated     bool
	Warnings       []Warning
}

// Ask posts the question to the session's thread, runs the assistant and
// returns the answer produced by that run.
func (s *SessionService) Ask(ctx context.Context, in AskInput) (AskOutput, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return AskOutput{}, newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return AskOutput{}, newError(ErrorInvalidInput, "empty_question", nil)
	}
	if utf8.RuneCountInString(question) > s.opts.MaxQuestionLength {
		return AskOutput{}, newError(ErrorInvalidInput, "question_too_long", nil)
	}

	unlock := s.lock(sessionID)
	defer unlock()

	sess, found, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return AskOutput{}, newError(ErrorInternal, "session_load_error", err)
	}
	if !found || !sess.Ready() {
		return AskOutput{}, newError(ErrorNotReady, "setup_incomplete", nil)
	}
	sess.ID = sessionID

	if s.opts.Moderator != nil {
		flagged, err := s.opts.Moderator.Moderate(ctx, question)
		if err != nil {
			return AskOutput{}, upstreamError("moderation_error", err)
		}
		if flagged {
			return AskOutput{}, newError(ErrorInvalidQuestion, "moderation_flagged", nil)
		}
	}

	log := s.log.With("session_id", sessionID)
	out := AskOutput{SessionID: sessionID}

	threadID, recovered, err := s.resolveThread(ctx, &sess)
	if err != nil {
		return AskOutput{}, err
	}
	if recovered != nil {
		out.Warnings = append(out.Warnings, *recovered)
	}
	out.ThreadID = threadID

	if _, err := s.api.CreateMessage(ctx, threadID, question); err != nil {
		return AskOutput{}, upstreamError("message_create_error", err)
	}
	run, err := s.api.CreateRun(ctx, threadID, sess.AssistantID)
	if err != nil {
		return AskOutput{}, upstreamError("run_create_error", err)
	}
	out.RunID = run.ID
	log = log.With("thread_id", threadID, "run_id", run.ID)

	err = s.pollUntilSettled(ctx,
		func() bool { return run.Status.Pending() },
		func(ctx context.Context) error {
			next, getErr := s.api.GetRun(ctx, threadID, run.ID)
			if getErr != nil {
				return getErr
			}
			run = next
			return nil
		},
	)
	switch {
	case errors.Is(err, errPollExhausted):
		log.Warn("run did not settle", "status", run.Status)
		return AskOutput{}, newError(ErrorTimeout, "run_poll_exhausted", err)
	case err != nil:
		return AskOutput{}, upstreamError("run_poll_error", err)
	}

	switch run.Status {
	case domain.RunCompleted:
	case domain.RunRequiresAction:
		log.Warn("run requires action")
		return AskOutput{}, newError(ErrorRequiresAction, "run_requires_action", nil)
	default:
		log.Warn("run did not complete", "status", run.Status, "last_error", run.LastError)
		var cause error
		if run.LastError != "" {
			cause = errors.New(run.LastError)
		}
		return AskOutput{}, newError(ErrorRunFailed, "run_"+string(run.Status), cause)
	}

	msgs, err := s.api.ListMessages(ctx, threadID, s.opts.MessageLimit)
	if err != nil {
		return AskOutput{}, upstreamError("message_list_error", err)
	}
	answer, ok := extractAnswer(msgs, run.ID)
	if !ok {
		return AskOutput{}, newError(ErrorNoAnswer, "no_assistant_message", nil)
	}
	out.Answer = answer
	out.OriginalAnswer = answer

	if s.opts.Translator != nil && s.opts.TranslateTarget != "" {
		translated, err := s.opts.Translator.Translate(ctx, answer, s.opts.TranslateTarget)
		if err != nil {
			log.Warn("translation failed, returning original answer", "err", err)
			out.Warnings = append(out.Warnings, newWarning(WarningTranslationFailed))
		} else {
			out.Answer = translated
			out.Translated = true
		}
	}

	if err := s.store.SaveCompletedTurn(ctx, sessionID, question, out.Answer, run.ID, sess.Turns+1); err != nil {
		log.Warn("transcript not saved", "err", err)
		out.Warnings = append(out.Warnings, newWarning(WarningTranscriptNotSaved))
	}

	log.Info("question answered", "translated", out.Translated)
	return out, nil
}

// resolveThread returns the session's thread, creating one when none exists
// or when the stored thread can no longer be retrieved. A replacement is
// reported through the returned warning.
func (s *SessionService) resolveThread(ctx context.Context, sess *domain.Session) (string, *Warning, error) {
	var recovered *Warning
	if sess.ThreadID != "" {
		err := s.api.GetThread(ctx, sess.ThreadID)
		if err == nil {
			return sess.ThreadID, nil, nil
		}
		if isContextErr(err) {
			return "", nil, newError(ErrorCancelled, "thread_lookup_cancelled", err)
		}
		s.log.Warn("stored thread unusable, creating a new one",
			"session_id", sess.ID, "thread_id", sess.ThreadID, "err", err)
		w := newWarning(WarningThreadRecovered)
		recovered = &w
	}

	threadID, err := s.api.CreateThread(ctx)
	if err != nil {
		return "", nil, upstreamError("thread_create_error", err)
	}
	sess.ThreadID = threadID
	if err := s.store.SaveSession(ctx, *sess); err != nil {
		return "", nil, newError(ErrorInternal, "session_save_error", err)
	}
	return threadID, recovered, nil
}
