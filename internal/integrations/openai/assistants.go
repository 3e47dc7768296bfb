package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"manual-tutor/internal/domain"
)

type assistantTool struct {
	Type string `json:"type"`
}

type fileSearchResources struct {
	VectorStoreIDs []string `json:"vector_store_ids"`
}

type toolResources struct {
	FileSearch *fileSearchResources `json:"file_search,omitempty"`
}

type assistantRequest struct {
	Name          string          `json:"name,omitempty"`
	Instructions  string          `json:"instructions"`
	Model         string          `json:"model"`
	Tools         []assistantTool `json:"tools"`
	ToolResources *toolResources  `json:"tool_resources,omitempty"`
}

type messageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type runRequest struct {
	AssistantID string `json:"assistant_id"`
}

type runResponse struct {
	ID          string `json:"id"`
	ThreadID    string `json:"thread_id"`
	AssistantID string `json:"assistant_id"`
	Status      string `json:"status"`
	LastError   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

func (r runResponse) toDomain() domain.Run {
	run := domain.Run{
		ID:          r.ID,
		ThreadID:    r.ThreadID,
		AssistantID: r.AssistantID,
		Status:      domain.RunStatus(r.Status),
	}
	if r.LastError != nil {
		run.LastError = r.LastError.Message
	}
	return run
}

type messageListResponse struct {
	Data []struct {
		ID      string `json:"id"`
		Role    string `json:"role"`
		RunID   string `json:"run_id"`
		Content []struct {
			Type string `json:"type"`
			Text *struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

// CreateAssistant creates a file_search assistant bound to the configured vector store.
func (c *Client) CreateAssistant(ctx context.Context, cfg domain.AssistantConfig) (string, error) {
	if cfg.Model == "" {
		return "", errors.New("openai: model must not be empty")
	}
	req := assistantRequest{
		Name:         cfg.Name,
		Instructions: cfg.Instructions,
		Model:        cfg.Model,
		Tools:        []assistantTool{{Type: "file_search"}},
	}
	if cfg.VectorStoreID != "" {
		req.ToolResources = &toolResources{
			FileSearch: &fileSearchResources{VectorStoreIDs: []string{cfg.VectorStoreID}},
		}
	}
	var out objectResponse
	if err := c.doJSON(ctx, http.MethodPost, "assistants", req, &out); err != nil {
		return "", fmt.Errorf("openai: create assistant: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("openai: create assistant: empty id in response")
	}
	return out.ID, nil
}

func (c *Client) DeleteAssistant(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "assistants/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("openai: delete assistant: %w", err)
	}
	return nil
}

// CreateThread starts an empty conversation thread.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	var out objectResponse
	if err := c.doJSON(ctx, http.MethodPost, "threads", struct{}{}, &out); err != nil {
		return "", fmt.Errorf("openai: create thread: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("openai: create thread: empty id in response")
	}
	return out.ID, nil
}

// GetThread retrieves a thread. It is used as an existence check.
func (c *Client) GetThread(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("openai: get thread: id must not be empty")
	}
	var out objectResponse
	if err := c.doJSON(ctx, http.MethodGet, "threads/"+url.PathEscape(id), nil, &out); err != nil {
		return fmt.Errorf("openai: get thread: %w", err)
	}
	if out.ID != id {
		return fmt.Errorf("openai: get thread: unexpected id %q", out.ID)
	}
	return nil
}

func (c *Client) DeleteThread(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "threads/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("openai: delete thread: %w", err)
	}
	return nil
}

// CreateMessage posts a user message to a thread and returns the message ID.
func (c *Client) CreateMessage(ctx context.Context, threadID, content string) (string, error) {
	var out objectResponse
	path := "threads/" + url.PathEscape(threadID) + "/messages"
	if err := c.doJSON(ctx, http.MethodPost, path, messageRequest{Role: domain.RoleUser, Content: content}, &out); err != nil {
		return "", fmt.Errorf("openai: create message: %w", err)
	}
	return out.ID, nil
}

// ListMessages returns the newest messages of a thread first.
func (c *Client) ListMessages(ctx context.Context, threadID string, limit int) ([]domain.ThreadMessage, error) {
	q := url.Values{}
	q.Set("order", "desc")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "threads/" + url.PathEscape(threadID) + "/messages?" + q.Encode()

	var out messageListResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("openai: list messages: %w", err)
	}

	msgs := make([]domain.ThreadMessage, 0, len(out.Data))
	for _, m := range out.Data {
		tm := domain.ThreadMessage{ID: m.ID, Role: m.Role, RunID: m.RunID}
		for _, block := range m.Content {
			cb := domain.ContentBlock{Type: block.Type}
			if block.Text != nil {
				cb.Text = block.Text.Value
			}
			tm.Content = append(tm.Content, cb)
		}
		msgs = append(msgs, tm)
	}
	return msgs, nil
}

// CreateRun starts the assistant on a thread.
func (c *Client) CreateRun(ctx context.Context, threadID, assistantID string) (domain.Run, error) {
	var out runResponse
	path := "threads/" + url.PathEscape(threadID) + "/runs"
	if err := c.doJSON(ctx, http.MethodPost, path, runRequest{AssistantID: assistantID}, &out); err != nil {
		return domain.Run{}, fmt.Errorf("openai: create run: %w", err)
	}
	if out.ID == "" {
		return domain.Run{}, errors.New("openai: create run: empty id in response")
	}
	return out.toDomain(), nil
}

func (c *Client) GetRun(ctx context.Context, threadID, runID string) (domain.Run, error) {
	var out runResponse
	path := "threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return domain.Run{}, fmt.Errorf("openai: get run: %w", err)
	}
	return out.toDomain(), nil
}
