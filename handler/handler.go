package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/yuin/goldmark"

	"manual-tutor/internal/domain"
	"manual-tutor/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

var newUUID = uuid.NewString

// SessionUseCase is the session surface exposed over HTTP.
type SessionUseCase interface {
	Setup(ctx context.Context, in usecase.SetupInput) (usecase.SetupOutput, error)
	Ask(ctx context.Context, in usecase.AskInput) (usecase.AskOutput, error)
	Reconfigure(ctx context.Context, sessionID string) (usecase.SetupOutput, error)
	Teardown(ctx context.Context, sessionID string) (usecase.TeardownOutput, error)
	History(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)
}

type Handler struct {
	uc      SessionUseCase
	log     *slog.Logger
	timeout time.Duration
}

func NewHandler(uc SessionUseCase) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	return &Handler{uc: uc, log: slog.Default()}, nil
}

// WithLogger replaces the default logger.
func (h *Handler) WithLogger(l *slog.Logger) *Handler {
	if l != nil {
		h.log = l
	}
	return h
}

// WithRequestTimeout bounds every request with d. Zero leaves the incoming
// context untouched.
func (h *Handler) WithRequestTimeout(d time.Duration) *Handler {
	if d > 0 {
		h.timeout = d
	}
	return h
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
	Question  string `json:"question"`
}

type warningResponse struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type setupResponse struct {
	SessionID     string            `json:"sessionId"`
	VectorStoreID string            `json:"vectorStoreId"`
	AssistantID   string            `json:"assistantId"`
	Documents     []string          `json:"documents"`
	AlreadySetUp  bool              `json:"alreadySetUp"`
	Warnings      []warningResponse `json:"warnings,omitempty"`
}

type askResponse struct {
	SessionID      string            `json:"sessionId"`
	Answer         string            `json:"answer"`
	AnswerHTML     string            `json:"answerHtml"`
	OriginalAnswer string            `json:"originalAnswer,omitempty"`
	Translated     bool              `json:"translated"`
	ThreadID       string            `json:"threadId"`
	RunID          string            `json:"runId"`
	Warnings       []warningResponse `json:"warnings,omitempty"`
}

type teardownResponse struct {
	SessionID string            `json:"sessionId"`
	Removed   bool              `json:"removed"`
	Warnings  []warningResponse `json:"warnings,omitempty"`
}

type historyItem struct {
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	RunID     string `json:"runId,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

type historyResponse struct {
	SessionID string        `json:"sessionId"`
	Messages  []historyItem `json:"messages"`
}

type errorResponse struct {
	Error         string `json:"error"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlationId"`
}

// Handle routes an API Gateway proxy request to the matching session operation.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = newUUID()
	}
	log := h.log.With("correlation_id", correlationID, "method", req.HTTPMethod, "path", req.Path)

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	route := strings.TrimSuffix(req.Path, "/")
	switch {
	case route == "/setup" && req.HTTPMethod == http.MethodPost:
		return h.setup(ctx, log, correlationID, req)
	case route == "/ask" && req.HTTPMethod == http.MethodPost:
		return h.ask(ctx, log, correlationID, req)
	case route == "/reconfigure" && req.HTTPMethod == http.MethodPost:
		return h.reconfigure(ctx, log, correlationID, req)
	case route == "/session" && req.HTTPMethod == http.MethodDelete:
		return h.teardown(ctx, log, correlationID, req)
	case route == "/history" && req.HTTPMethod == http.MethodGet:
		return h.history(ctx, log, correlationID, req)
	case route == "/setup" || route == "/ask" || route == "/reconfigure" || route == "/session" || route == "/history":
		return respondJSON(http.StatusMethodNotAllowed, correlationID, errorResponse{Error: "METHOD_NOT_ALLOWED", CorrelationID: correlationID})
	default:
		return respondJSON(http.StatusNotFound, correlationID, errorResponse{Error: "NOT_FOUND", CorrelationID: correlationID})
	}
}

func (h *Handler) setup(ctx context.Context, log *slog.Logger, correlationID string, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	body, ok := decodeBody(req.Body)
	if !ok {
		return invalidBody(correlationID)
	}
	if strings.TrimSpace(body.SessionID) == "" {
		body.SessionID = newUUID()
	}
	out, err := h.uc.Setup(ctx, usecase.SetupInput{SessionID: body.SessionID})
	if err != nil {
		return h.failure(log, correlationID, err)
	}
	return respondJSON(http.StatusOK, correlationID, toSetupResponse(out))
}

func (h *Handler) ask(ctx context.Context, log *slog.Logger, correlationID string, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	body, ok := decodeBody(req.Body)
	if !ok {
		return invalidBody(correlationID)
	}
	out, err := h.uc.Ask(ctx, usecase.AskInput{SessionID: body.SessionID, Question: body.Question})
	if err != nil {
		return h.failure(log, correlationID, err)
	}
	resp := askResponse{
		SessionID:  out.SessionID,
		Answer:     out.Answer,
		AnswerHTML: h.renderMarkdown(log, out.Answer),
		Translated: out.Translated,
		ThreadID:   out.ThreadID,
		RunID:      out.RunID,
		Warnings:   toWarnings(out.Warnings),
	}
	if out.Translated {
		resp.OriginalAnswer = out.OriginalAnswer
	}
	return respondJSON(http.StatusOK, correlationID, resp)
}

func (h *Handler) reconfigure(ctx context.Context, log *slog.Logger, correlationID string, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	body, ok := decodeBody(req.Body)
	if !ok {
		return invalidBody(correlationID)
	}
	out, err := h.uc.Reconfigure(ctx, body.SessionID)
	if err != nil {
		return h.failure(log, correlationID, err)
	}
	return respondJSON(http.StatusOK, correlationID, toSetupResponse(out))
}

func (h *Handler) teardown(ctx context.Context, log *slog.Logger, correlationID string, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	sessionID := req.QueryStringParameters["sessionId"]
	if sessionID == "" && strings.TrimSpace(req.Body) != "" {
		body, ok := decodeBody(req.Body)
		if !ok {
			return invalidBody(correlationID)
		}
		sessionID = body.SessionID
	}
	out, err := h.uc.Teardown(ctx, sessionID)
	if err != nil {
		return h.failure(log, correlationID, err)
	}
	return respondJSON(http.StatusOK, correlationID, teardownResponse{
		SessionID: out.SessionID,
		Removed:   out.Removed,
		Warnings:  toWarnings(out.Warnings),
	})
}

func (h *Handler) history(ctx context.Context, log *slog.Logger, correlationID string, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	sessionID := req.QueryStringParameters["sessionId"]
	limit := 0
	if raw := req.QueryStringParameters["limit"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return respondJSON(http.StatusBadRequest, correlationID, errorResponse{
				Error:         string(usecase.ErrorInvalidInput),
				Reason:        "invalid_limit",
				CorrelationID: correlationID,
			})
		}
		limit = n
	}
	msgs, err := h.uc.History(ctx, sessionID, limit)
	if err != nil {
		return h.failure(log, correlationID, err)
	}
	resp := historyResponse{SessionID: sessionID, Messages: make([]historyItem, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, historyItem{
			Question:  m.Question,
			Answer:    m.Answer,
			RunID:     m.RunID,
			CreatedAt: strings.TrimPrefix(m.SK, "MSG#"),
		})
	}
	return respondJSON(http.StatusOK, correlationID, resp)
}

func (h *Handler) renderMarkdown(log *slog.Logger, md string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		log.Warn("failed to render answer markdown", "err", err)
		return ""
	}
	return buf.String()
}

func (h *Handler) failure(log *slog.Logger, correlationID string, err error) (events.APIGatewayProxyResponse, error) {
	var usecaseErr *usecase.Error
	if !errors.As(err, &usecaseErr) {
		log.Error("unexpected error", "err", err)
		return respondJSON(http.StatusInternalServerError, correlationID, errorResponse{
			Error:         string(usecase.ErrorInternal),
			CorrelationID: correlationID,
		})
	}
	status := statusFor(usecaseErr.Code)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "code", usecaseErr.Code, "reason", usecaseErr.Reason, "err", err)
	} else {
		log.Warn("request rejected", "code", usecaseErr.Code, "reason", usecaseErr.Reason)
	}
	return respondJSON(status, correlationID, errorResponse{
		Error:         string(usecaseErr.Code),
		Reason:        usecaseErr.Reason,
		CorrelationID: correlationID,
	})
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput, usecase.ErrorInvalidQuestion:
		return http.StatusBadRequest
	case usecase.ErrorNotReady:
		return http.StatusConflict
	case usecase.ErrorRunFailed, usecase.ErrorRequiresAction, usecase.ErrorNoAnswer:
		return http.StatusUnprocessableEntity
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	case usecase.ErrorTimeout, usecase.ErrorCancelled:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(raw string) (sessionRequest, bool) {
	var body sessionRequest
	if strings.TrimSpace(raw) == "" {
		return body, true
	}
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return body, false
	}
	return body, true
}

func invalidBody(correlationID string) (events.APIGatewayProxyResponse, error) {
	return respondJSON(http.StatusBadRequest, correlationID, errorResponse{
		Error:         string(usecase.ErrorInvalidInput),
		Reason:        "invalid_body",
		CorrelationID: correlationID,
	})
}

func toSetupResponse(out usecase.SetupOutput) setupResponse {
	docs := out.Documents
	if docs == nil {
		docs = []string{}
	}
	return setupResponse{
		SessionID:     out.SessionID,
		VectorStoreID: out.VectorStoreID,
		AssistantID:   out.AssistantID,
		Documents:     docs,
		AlreadySetUp:  out.AlreadySetUp,
		Warnings:      toWarnings(out.Warnings),
	}
}

func toWarnings(ws []usecase.Warning) []warningResponse {
	if len(ws) == 0 {
		return nil
	}
	out := make([]warningResponse, len(ws))
	for i, w := range ws {
		out[i] = warningResponse{Code: string(w.Code), Message: w.Message}
	}
	return out
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func respondJSON(status int, correlationID string, body any) (events.APIGatewayProxyResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(payload),
	}, nil
}
