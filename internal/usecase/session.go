package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"manual-tutor/internal/domain"
)

const (
	defaultPollInterval    = time.Second
	defaultPollMaxAttempts = 300
	defaultMaxQuestion     = 2000
	defaultMessageLimit    = 20
	defaultHistoryLimit    = 50
)

// AssistantAPI is the hosted assistants surface consumed by the service.
type AssistantAPI interface {
	CreateVectorStore(ctx context.Context, name string) (string, error)
	DeleteVectorStore(ctx context.Context, id string) error
	UploadFile(ctx context.Context, filename string, r io.Reader) (string, error)
	CreateFileBatch(ctx context.Context, vectorStoreID string, fileIDs []string) (domain.FileBatch, error)
	GetFileBatch(ctx context.Context, vectorStoreID, batchID string) (domain.FileBatch, error)
	CreateAssistant(ctx context.Context, cfg domain.AssistantConfig) (string, error)
	DeleteAssistant(ctx context.Context, id string) error
	CreateThread(ctx context.Context) (string, error)
	GetThread(ctx context.Context, id string) error
	DeleteThread(ctx context.Context, id string) error
	CreateMessage(ctx context.Context, threadID, content string) (string, error)
	ListMessages(ctx context.Context, threadID string, limit int) ([]domain.ThreadMessage, error)
	CreateRun(ctx context.Context, threadID, assistantID string) (domain.Run, error)
	GetRun(ctx context.Context, threadID, runID string) (domain.Run, error)
}

type Moderator interface {
	Moderate(ctx context.Context, input string) (bool, error)
}

type Translator interface {
	Translate(ctx context.Context, text, target string) (string, error)
}

// SessionStore persists session state and the question transcript.
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (domain.Session, bool, error)
	SaveSession(ctx context.Context, s domain.Session) error
	CompleteSetup(ctx context.Context, s domain.Session) error
	SaveCompletedTurn(ctx context.Context, sessionID, question, answer, runID string, turns int) error
	GetHistory(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Options configures a SessionService. Zero numeric values take defaults.
type Options struct {
	DocumentsDir      string
	VectorStoreName   string
	Assistant         domain.AssistantConfig
	TranslateTarget   string
	PollInterval      time.Duration
	PollMaxAttempts   int
	MaxQuestionLength int
	MessageLimit      int

	// Optional collaborators.
	Translator Translator
	Moderator  Moderator
	Logger     *slog.Logger
}

// SessionService runs one-time setup and per-question answer retrieval for
// sessions, reusing the vector store, assistant and thread across questions.
type SessionService struct {
	api   AssistantAPI
	store SessionStore
	opts  Options
	log   *slog.Logger
	sleep func(context.Context, time.Duration) error

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

type SetupInput struct {
	SessionID string
}

type SetupOutput struct {
	SessionID     string
	VectorStoreID string
	AssistantID   string
	Documents     []string
	AlreadySetUp  bool
	Warnings      []Warning
}

type TeardownOutput struct {
	SessionID string
	Removed   bool
	Warnings  []Warning
}

func NewSessionService(api AssistantAPI, store SessionStore, opts Options) (*SessionService, error) {
	if api == nil {
		return nil, errors.New("usecase: assistant api must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if strings.TrimSpace(opts.Assistant.Model) == "" {
		return nil, errors.New("usecase: assistant model must not be empty")
	}
	if strings.TrimSpace(opts.VectorStoreName) == "" {
		return nil, errors.New("usecase: vector store name must not be empty")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.PollMaxAttempts <= 0 {
		opts.PollMaxAttempts = defaultPollMaxAttempts
	}
	if opts.MaxQuestionLength <= 0 {
		opts.MaxQuestionLength = defaultMaxQuestion
	}
	if opts.MessageLimit <= 0 {
		opts.MessageLimit = defaultMessageLimit
	}
	opts.TranslateTarget = strings.TrimSpace(opts.TranslateTarget)
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionService{
		api:   api,
		store: store,
		opts:  opts,
		log:   logger,
		sleep: sleepContext,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// lock serializes operations on one session within this process.
func (s *SessionService) lock(sessionID string) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[sessionID] = mu
	}
	s.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// Setup creates the session's vector store and assistant from the documents
// folder. It is a no-op once setup has completed for the session.
func (s *SessionService) Setup(ctx context.Context, in SetupInput) (SetupOutput, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return SetupOutput{}, newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	unlock := s.lock(sessionID)
	defer unlock()

	sess, _, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return SetupOutput{}, newError(ErrorInternal, "session_load_error", err)
	}
	sess.ID = sessionID
	if sess.SetupComplete {
		return setupOutput(sess, true), nil
	}

	paths, err := discoverDocuments(s.opts.DocumentsDir)
	if err != nil {
		return SetupOutput{}, newError(ErrorConfiguration, "documents_missing", err)
	}

	log := s.log.With("session_id", sessionID)
	log.Info("setting up session", "documents", len(paths))

	res, err := s.provision(ctx, paths)
	if err != nil {
		if cleanupErr := s.deleteRemote(ctx, res.vectorStoreID, res.assistantID, ""); cleanupErr != nil {
			log.Warn("cleanup after failed setup incomplete", "err", cleanupErr)
		}
		if isContextErr(err) {
			return SetupOutput{}, newError(ErrorCancelled, "setup_cancelled", err)
		}
		return SetupOutput{}, newError(ErrorConfiguration, "setup_failed", err)
	}

	sess.VectorStoreID = res.vectorStoreID
	sess.AssistantID = res.assistantID
	sess.ThreadID = ""
	sess.Documents = documentNames(paths)
	if err := s.store.CompleteSetup(ctx, sess); err != nil {
		if cleanupErr := s.deleteRemote(ctx, res.vectorStoreID, res.assistantID, ""); cleanupErr != nil {
			log.Warn("cleanup of superseded setup incomplete", "err", cleanupErr)
		}
		if !errors.Is(err, domain.ErrSetupComplete) {
			return SetupOutput{}, newError(ErrorInternal, "session_save_error", err)
		}
		winner, _, loadErr := s.store.GetSession(ctx, sessionID)
		if loadErr != nil {
			return SetupOutput{}, newError(ErrorInternal, "session_load_error", loadErr)
		}
		log.Info("setup completed concurrently, using existing resources", "assistant_id", winner.AssistantID)
		return setupOutput(winner, true), nil
	}
	sess.SetupComplete = true

	log.Info("session setup complete", "vector_store_id", sess.VectorStoreID, "assistant_id", sess.AssistantID)
	return setupOutput(sess, false), nil
}

type provisioned struct {
	vectorStoreID string
	assistantID   string
}

// provision creates the remote resources for setup. On failure it returns
// whatever was already created so the caller can remove it.
func (s *SessionService) provision(ctx context.Context, paths []string) (provisioned, error) {
	var res provisioned

	vsID, err := s.api.CreateVectorStore(ctx, s.opts.VectorStoreName)
	if err != nil {
		return res, err
	}
	res.vectorStoreID = vsID

	fileIDs := make([]string, 0, len(paths))
	for _, p := range paths {
		id, err := s.uploadDocument(ctx, p)
		if err != nil {
			return res, err
		}
		fileIDs = append(fileIDs, id)
	}

	batch, err := s.api.CreateFileBatch(ctx, vsID, fileIDs)
	if err != nil {
		return res, err
	}
	err = s.pollUntilSettled(ctx,
		func() bool { return batch.Status == domain.BatchInProgress },
		func(ctx context.Context) error {
			var getErr error
			batch, getErr = s.api.GetFileBatch(ctx, vsID, batch.ID)
			return getErr
		},
	)
	if err != nil {
		return res, fmt.Errorf("wait for file batch: %w", err)
	}
	if batch.Status != domain.BatchCompleted {
		return res, fmt.Errorf("file batch %s ended with status %q (%d of %d files failed)",
			batch.ID, batch.Status, batch.Failed, batch.Total)
	}

	cfg := s.opts.Assistant
	cfg.VectorStoreID = vsID
	assistantID, err := s.api.CreateAssistant(ctx, cfg)
	if err != nil {
		return res, err
	}
	res.assistantID = assistantID
	return res, nil
}

func (s *SessionService) uploadDocument(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open document: %w", err)
	}
	defer func() { _ = f.Close() }()
	return s.api.UploadFile(ctx, filepath.Base(path), f)
}

// deleteRemote removes the given resources, ignoring empty IDs. It keeps going
// after a failure and returns every error joined.
func (s *SessionService) deleteRemote(ctx context.Context, vectorStoreID, assistantID, threadID string) error {
	// Cleanup must still run when the caller's context was cancelled.
	ctx = context.WithoutCancel(ctx)
	var errs []error
	if assistantID != "" {
		errs = append(errs, s.api.DeleteAssistant(ctx, assistantID))
	}
	if vectorStoreID != "" {
		errs = append(errs, s.api.DeleteVectorStore(ctx, vectorStoreID))
	}
	if threadID != "" {
		errs = append(errs, s.api.DeleteThread(ctx, threadID))
	}
	return errors.Join(errs...)
}

// Teardown deletes the session's remote resources and clears its state.
func (s *SessionService) Teardown(ctx context.Context, sessionID string) (TeardownOutput, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return TeardownOutput{}, newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	unlock := s.lock(sessionID)
	defer unlock()

	sess, found, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return TeardownOutput{}, newError(ErrorInternal, "session_load_error", err)
	}
	out := TeardownOutput{SessionID: sessionID}
	if !found || (sess.VectorStoreID == "" && sess.AssistantID == "" && sess.ThreadID == "") {
		return out, nil
	}

	if err := s.deleteRemote(ctx, sess.VectorStoreID, sess.AssistantID, sess.ThreadID); err != nil {
		s.log.Warn("teardown left remote resources behind", "session_id", sessionID, "err", err)
		out.Warnings = append(out.Warnings, newWarning(WarningTeardownIncomplete))
	}
	sess.Reset()
	if err := s.store.SaveSession(ctx, sess); err != nil {
		return TeardownOutput{}, newError(ErrorInternal, "session_save_error", err)
	}
	out.Removed = true
	s.log.Info("session torn down", "session_id", sessionID)
	return out, nil
}

// Reconfigure tears the session down and runs setup again.
func (s *SessionService) Reconfigure(ctx context.Context, sessionID string) (SetupOutput, error) {
	td, err := s.Teardown(ctx, sessionID)
	if err != nil {
		return SetupOutput{}, err
	}
	out, err := s.Setup(ctx, SetupInput{SessionID: sessionID})
	if err != nil {
		return SetupOutput{}, err
	}
	out.Warnings = append(td.Warnings, out.Warnings...)
	return out, nil
}

// History returns up to limit answered turns, oldest first.
func (s *SessionService) History(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	msgs, err := s.store.GetHistory(ctx, sessionID, limit)
	if err != nil {
		return nil, newError(ErrorInternal, "history_load_error", err)
	}
	return msgs, nil
}

func setupOutput(sess domain.Session, already bool) SetupOutput {
	return SetupOutput{
		SessionID:     sess.ID,
		VectorStoreID: sess.VectorStoreID,
		AssistantID:   sess.AssistantID,
		Documents:     sess.Documents,
		AlreadySetUp:  already,
	}
}

func documentNames(paths []string) []string {
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	return names
}

// upstreamError classifies a provider failure.
func upstreamError(reason string, err error) *Error {
	if isContextErr(err) {
		return newError(ErrorCancelled, reason, err)
	}
	var statusErr httpStatusCoder
	if errors.As(err, &statusErr) && statusErr.HTTPStatusCode() == 429 {
		return newError(ErrorRateLimited, reason, err)
	}
	return newError(ErrorUpstream, reason, err)
}
