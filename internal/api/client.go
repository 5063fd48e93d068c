package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"loopsync/internal/models"

	"github.com/rs/zerolog"
)

// PauseRequest is the body of POST /api/workorders/{id}/pause. The duration
// was computed by the client at the moment of pausing and is authoritative.
type PauseRequest struct {
	SubtasksStatus  []models.SubtaskItem `json:"subtasksStatus"`
	Finished        bool                 `json:"finished"`
	ClientEndTime   time.Time            `json:"clientEndTime"`
	DurationSeconds int64                `json:"durationSeconds"`
	UserID          string               `json:"userId"`
	UserName        string               `json:"userName,omitempty"`
}

type conflictBody struct {
	CurrentExecutorID   string `json:"currentExecutorId"`
	CurrentExecutorName string `json:"currentExecutorName"`
}

// Client talks to the work-order REST API. Transport details (base URL,
// bearer credential, actor identity header) live here; callers only see
// typed calls and the error taxonomy.
type Client struct {
	baseURL string
	token   string
	actorID string
	http    *http.Client
	logger  *zerolog.Logger
}

func NewClient(baseURL, token, actorID string, timeout time.Duration, logger *zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		actorID: actorID,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// StartExecution acquires the execution lock. Requires a live round-trip;
// callers must not invoke this while offline.
func (c *Client) StartExecution(ctx context.Context, osID string) (*models.WorkOrder, error) {
	var order models.WorkOrder
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/workorders/%s/start", osID), nil, &order, osID)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// PauseExecution releases the lock and records the closed session server-side.
func (c *Client) PauseExecution(ctx context.Context, osID string, req PauseRequest) (*models.WorkOrder, error) {
	var order models.WorkOrder
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/workorders/%s/pause", osID), req, &order, osID)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) GetWorkOrder(ctx context.Context, osID string) (*models.WorkOrder, error) {
	var order models.WorkOrder
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/workorders/%s", osID), nil, &order, osID)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// PutWorkOrder replaces the full server record. Used after a read-merge for
// attachment writes.
func (c *Client) PutWorkOrder(ctx context.Context, order *models.WorkOrder) (*models.WorkOrder, error) {
	var saved models.WorkOrder
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/workorders/%s", order.ID), order, &saved, order.ID)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

func (c *Client) AppendLog(ctx context.Context, osID string, log models.AddLogPayload) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/workorders/%s/logs", osID), log, nil, osID)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, osID string) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.actorID != "" {
		req.Header.Set("X-Actor-Id", c.actorID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	if class := classifyStatus(resp.StatusCode); class != nil {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if class == ErrLockConflict {
			var cb conflictBody
			_ = json.Unmarshal(raw, &cb)
			return &LockConflictError{WorkOrderID: osID, HolderID: cb.CurrentExecutorID, HolderName: cb.CurrentExecutorName}
		}
		c.logger.Debug().
			Str("os_id", osID).
			Int("status", resp.StatusCode).
			Str("path", path).
			Msg("api request rejected")
		return fmt.Errorf("%w: %s %s: status %d: %s", class, method, path, resp.StatusCode, bytes.TrimSpace(raw))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrValidation, err)
	}
	return nil
}
