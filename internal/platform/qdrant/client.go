package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/yungbote/revisit-backend/internal/platform/logger"
)

const maxErrorBodyBytes = 1024

// Client is a thin REST client for Qdrant's collection and point APIs.
type Client struct {
	log     *logger.Logger
	cfg     Config
	baseURL string
	http    *http.Client
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

// Point is a single vector write. IDs are numeric and derived
// deterministically from the primary-store identifier, so re-upserting the
// same logical entity overwrites its point instead of duplicating it.
type Point struct {
	ID      uint64         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func NewClient(log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	c := &Client{
		log:     log.With("client", "QdrantClient"),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	if err := c.verifyReady(context.Background()); err != nil {
		return nil, err
	}

	log.Info(
		"Qdrant client ready",
		"url", c.baseURL,
		"collections", strings.Join(cfg.Collections, ","),
		"vector_dim", cfg.VectorDim,
	)
	return c, nil
}

// NewClientFromEnv returns nil without error when QDRANT_URL is unset: the
// vector store is a best-effort secondary and the engine runs without it.
func NewClientFromEnv(log *logger.Logger) (*Client, error) {
	if strings.TrimSpace(os.Getenv("QDRANT_URL")) == "" {
		return nil, nil
	}
	cfg, err := ResolveConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return NewClient(log, cfg)
}

func (c *Client) Config() Config { return c.cfg }

// EnsureCollections creates every configured collection that does not yet
// exist. Create-if-missing keeps provisioning idempotent.
func (c *Client) EnsureCollections(ctx context.Context) error {
	const op = "ensure_collections"
	existing, err := c.ListCollections(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(existing))
	for _, name := range existing {
		known[name] = struct{}{}
	}

	for _, name := range c.cfg.Collections {
		if _, ok := known[name]; ok {
			continue
		}
		req := map[string]any{
			"vectors": map[string]any{
				"size":     c.cfg.VectorDim,
				"distance": "Cosine",
			},
			"on_disk_payload": true,
		}
		if err := c.doJSON(ctx, op, http.MethodPut, "/collections/"+name, req, nil); err != nil {
			return err
		}
		c.log.Info("created qdrant collection", "collection", name, "vector_dim", c.cfg.VectorDim)
	}
	return nil
}

func (c *Client) ListCollections(ctx context.Context) ([]string, error) {
	const op = "list_collections"
	var result struct {
		Collections []struct {
			Name string `json:"name"`
		} `json:"collections"`
	}
	if err := c.doJSON(ctx, op, http.MethodGet, "/collections", nil, &result); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(result.Collections))
	for _, col := range result.Collections {
		out = append(out, col.Name)
	}
	return out, nil
}

func (c *Client) DropCollection(ctx context.Context, name string) error {
	const op = "drop_collection"
	if strings.TrimSpace(name) == "" {
		return opErr(op, OperationErrorValidation, "collection name required", nil)
	}
	return c.doJSON(ctx, op, http.MethodDelete, "/collections/"+name, nil, nil)
}

func (c *Client) UpsertPoints(ctx context.Context, collection string, points []Point) error {
	const op = "upsert_points"
	if len(points) == 0 {
		return nil
	}
	for _, p := range points {
		if len(p.Vector) == 0 {
			return opErr(op, OperationErrorValidation, fmt.Sprintf("point %d has empty vector", p.ID), nil)
		}
		if c.cfg.VectorDim > 0 && len(p.Vector) != c.cfg.VectorDim {
			return opErr(
				op,
				OperationErrorValidation,
				fmt.Sprintf("point %d dimension mismatch: expected=%d got=%d", p.ID, c.cfg.VectorDim, len(p.Vector)),
				nil,
			)
		}
	}
	req := map[string]any{"points": points}
	return c.doJSON(ctx, op, http.MethodPut, "/collections/"+collection+"/points?wait=true", req, nil)
}

func (c *Client) DeletePoints(ctx context.Context, collection string, ids []uint64) error {
	const op = "delete_points"
	if len(ids) == 0 {
		return nil
	}
	req := map[string]any{"points": ids}
	return c.doJSON(ctx, op, http.MethodPost, "/collections/"+collection+"/points/delete?wait=true", req, nil)
}

// Count returns the exact point count, optionally restricted by a payload
// filter (e.g. institution_code for tenant-scoped reconciliation).
func (c *Client) Count(ctx context.Context, collection string, filter map[string]any) (int64, error) {
	const op = "count_points"
	req := map[string]any{"exact": true}
	if len(filter) > 0 {
		must := make([]any, 0, len(filter))
		for field, value := range filter {
			must = append(must, map[string]any{
				"key":   field,
				"match": map[string]any{"value": value},
			})
		}
		req["filter"] = map[string]any{"must": must}
	}
	var result struct {
		Count int64 `json:"count"`
	}
	if err := c.doJSON(ctx, op, http.MethodPost, "/collections/"+collection+"/points/count", req, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}

func (c *Client) verifyReady(ctx context.Context) error {
	const op = "bootstrap_verify"
	readyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	readyReq, err := http.NewRequestWithContext(readyCtx, http.MethodGet, c.baseURL+"/readyz", nil)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build ready request failed", err)
	}
	readyResp, err := c.http.Do(readyReq)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant ready check failed", err)
	}
	_ = readyResp.Body.Close()
	if readyResp.StatusCode < 200 || readyResp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: readyResp.StatusCode,
			Message:    fmt.Sprintf("qdrant ready check returned status=%d", readyResp.StatusCode),
		}
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 10*maxErrorBodyBytes))
	if readErr != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(env.Status); statusErr != "" {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    statusErr,
		}
	}

	if out == nil {
		return nil
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func classifyHTTPCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}

	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}

	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil {
		if strings.TrimSpace(statusObject.Error) != "" {
			return strings.TrimSpace(statusObject.Error)
		}
	}

	return fmt.Sprintf("qdrant status=%s", status)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}
