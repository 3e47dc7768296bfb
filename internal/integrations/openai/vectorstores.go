package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"manual-tutor/internal/domain"
)

type vectorStoreRequest struct {
	Name string `json:"name"`
}

type objectResponse struct {
	ID string `json:"id"`
}

type fileBatchRequest struct {
	FileIDs []string `json:"file_ids"`
}

type fileBatchResponse struct {
	ID            string `json:"id"`
	VectorStoreID string `json:"vector_store_id"`
	Status        string `json:"status"`
	FileCounts    struct {
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
		Total     int `json:"total"`
	} `json:"file_counts"`
}

func (r fileBatchResponse) toDomain() domain.FileBatch {
	return domain.FileBatch{
		ID:            r.ID,
		VectorStoreID: r.VectorStoreID,
		Status:        domain.FileBatchStatus(r.Status),
		Completed:     r.FileCounts.Completed,
		Failed:        r.FileCounts.Failed,
		Total:         r.FileCounts.Total,
	}
}

// CreateVectorStore creates an empty vector store and returns its ID.
func (c *Client) CreateVectorStore(ctx context.Context, name string) (string, error) {
	var out objectResponse
	if err := c.doJSON(ctx, http.MethodPost, "vector_stores", vectorStoreRequest{Name: name}, &out); err != nil {
		return "", fmt.Errorf("openai: create vector store: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("openai: create vector store: empty id in response")
	}
	return out.ID, nil
}

// DeleteVectorStore removes a vector store. Uploaded files are left in place.
func (c *Client) DeleteVectorStore(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "vector_stores/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("openai: delete vector store: %w", err)
	}
	return nil
}

// UploadFile uploads a document for use by assistants and returns the file ID.
func (c *Client) UploadFile(ctx context.Context, filename string, r io.Reader) (string, error) {
	if strings.TrimSpace(filename) == "" {
		return "", errors.New("openai: upload file: filename must not be empty")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("purpose", "assistants"); err != nil {
		return "", fmt.Errorf("openai: upload file: %w", err)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("openai: upload file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("openai: upload file: copy %q: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("openai: upload file: %w", err)
	}

	endpoint := endpointURL(c.baseURL, "files")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("openai: upload file: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	raw, err := c.do(ctx, req, endpoint)
	if err != nil {
		return "", fmt.Errorf("openai: upload file %q: %w", filename, err)
	}
	var out objectResponse
	if err := decodeJSON(raw, &out); err != nil {
		return "", fmt.Errorf("openai: upload file: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("openai: upload file: empty id in response")
	}
	return out.ID, nil
}

// CreateFileBatch attaches uploaded files to a vector store for indexing.
func (c *Client) CreateFileBatch(ctx context.Context, vectorStoreID string, fileIDs []string) (domain.FileBatch, error) {
	if len(fileIDs) == 0 {
		return domain.FileBatch{}, errors.New("openai: create file batch: no files")
	}
	var out fileBatchResponse
	path := "vector_stores/" + url.PathEscape(vectorStoreID) + "/file_batches"
	if err := c.doJSON(ctx, http.MethodPost, path, fileBatchRequest{FileIDs: fileIDs}, &out); err != nil {
		return domain.FileBatch{}, fmt.Errorf("openai: create file batch: %w", err)
	}
	return out.toDomain(), nil
}

// GetFileBatch retrieves the indexing state of a file batch.
func (c *Client) GetFileBatch(ctx context.Context, vectorStoreID, batchID string) (domain.FileBatch, error) {
	var out fileBatchResponse
	path := "vector_stores/" + url.PathEscape(vectorStoreID) + "/file_batches/" + url.PathEscape(batchID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return domain.FileBatch{}, fmt.Errorf("openai: get file batch: %w", err)
	}
	return out.toDomain(), nil
}
