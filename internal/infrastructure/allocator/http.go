package allocator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"stockdispatch/internal/ports"
)

const maxResponseBytes = 1 << 20

// HTTPConfig is the payload of an `http` procedure.
type HTTPConfig struct {
	URL            string            `json:"url"`
	Headers        map[string]string `json:"headers,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
}

// HTTP posts the allocation request to a remote procedure and decodes its result.
type HTTP struct {
	config HTTPConfig
	client *http.Client
}

func NewHTTP(config HTTPConfig, client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{config: config, client: client}
}

func (h *HTTP) Allocate(ctx context.Context, req ports.AllocationRequest) (ports.AllocationResult, error) {
	url := strings.TrimSpace(h.config.URL)
	if url == "" {
		return ports.AllocationResult{}, errors.New("http procedure url is required")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return ports.AllocationResult{}, fmt.Errorf("encode allocation request: %w", err)
	}

	if h.config.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(h.config.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return ports.AllocationResult{}, fmt.Errorf("build allocation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for key, value := range h.config.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return failed("allocation procedure timed out"), nil
		}
		return failed(err.Error()), nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return failed(fmt.Sprintf("read allocation response: %v", err)), nil
	}

	parsed, parseErr := parseResult(string(raw))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if parseErr == nil && strings.TrimSpace(parsed.Error) != "" {
			return failed(parsed.Error), nil
		}
		message := firstLine(string(raw))
		if message == "" {
			message = resp.Status
		}
		return failed(message), nil
	}
	if parseErr != nil {
		return ports.AllocationResult{}, fmt.Errorf("parse allocation result: %w", parseErr)
	}
	return normalizeResult(parsed, nil, ""), nil
}
