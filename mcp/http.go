package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nevindra/switchboard"
)

// httpRPC posts each JSON-RPC message to a single endpoint and reads the
// response from the reply body. Server-initiated traffic is not supported;
// the router never consumes it.
type httpRPC struct {
	url     string
	headers map[string]string
	client  *http.Client
	nextID  atomic.Int64
}

// dialHTTP validates spec and returns an rpc that talks to spec.URL.
func dialHTTP(spec switchboard.TransportSpec, timeout time.Duration) (*httpRPC, error) {
	if spec.URL == "" {
		return nil, errors.New("http transport requires a url")
	}
	return &httpRPC{
		url:     spec.URL,
		headers: spec.Headers,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (h *httpRPC) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := h.nextID.Add(1)
	req := request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(strconv.FormatInt(id, 10)),
		Method:  method,
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = data
	}

	body, err := h.post(ctx, req)
	if err != nil {
		return nil, err
	}

	var msg incoming
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if msg.Error != nil {
		return nil, fmt.Errorf("server error %d: %s", msg.Error.Code, msg.Error.Message)
	}
	return msg.Result, nil
}

func (h *httpRPC) notify(ctx context.Context, method string, params any) error {
	req := request{JSONRPC: "2.0", Method: method}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		req.Params = data
	}
	_, err := h.post(ctx, req)
	return err
}

func (h *httpRPC) close() error {
	h.client.CloseIdleConnections()
	return nil
}

// post sends one JSON-RPC message and returns the raw reply body. Empty
// bodies are fine; notifications usually get 202 Accepted with nothing in it.
func (h *httpRPC) post(ctx context.Context, msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range h.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
