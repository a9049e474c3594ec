package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/tracepoint-sh/tracepoint/internal/config"
	"github.com/tracepoint-sh/tracepoint/internal/event"
	"github.com/tracepoint-sh/tracepoint/internal/logger"
)

const (
	eventsPath  = "/events"
	reqIDHeader = "tp-req-id"
)

// ResponseClass buckets upload outcomes into the retry policy classes
type ResponseClass int

const (
	// ResponseSuccess is a 2xx ack: the batch can be deleted
	ResponseSuccess ResponseClass = iota
	// ResponseClientError is a 4xx: resubmission cannot succeed
	ResponseClientError
	// ResponseServerError is a 5xx: retryable with backoff
	ResponseServerError
	// ResponseNetworkError is a transport failure or timeout: retryable
	ResponseNetworkError
)

// Response is the classified outcome of one upload attempt
type Response struct {
	Class      ResponseClass
	StatusCode int
	Ack        *event.BatchAck
	Err        error
}

// Retryable reports whether another attempt with the same batch can
// succeed
func (r Response) Retryable() bool {
	return r.Class == ResponseServerError || r.Class == ResponseNetworkError
}

// Client uploads serialized batches to the ingestion endpoint
type Client struct {
	httpClient *http.Client
	eventsURL  string
	apiKey     string
}

// NewClient creates an upload client for the configured endpoint
func NewClient(cfg config.Ingest) (*Client, error) {
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ingest url: %w", err)
	}
	events := base.JoinPath(eventsPath)

	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		eventsURL:  events.String(),
		apiKey:     cfg.APIKey,
	}, nil
}

// SendBatch uploads one batch as gzipped JSON. The batch id rides along
// as a request id header so the server can deduplicate redelivery.
func (c *Client) SendBatch(ctx context.Context, batchID string, payload *event.BatchPayload) Response {
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{Class: ResponseClientError, Err: fmt.Errorf("failed to serialize batch: %w", err)}
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(body); err != nil {
		return Response{Class: ResponseClientError, Err: fmt.Errorf("failed to compress batch: %w", err)}
	}
	if err := gz.Close(); err != nil {
		return Response{Class: ResponseClientError, Err: fmt.Errorf("failed to compress batch: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.eventsURL, &buf)
	if err != nil {
		return Response{Class: ResponseClientError, Err: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set(reqIDHeader, batchID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{Class: ResponseNetworkError, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Response{
			Class:      ResponseSuccess,
			StatusCode: resp.StatusCode,
			Ack:        parseAck(resp.Body),
		}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Response{
			Class:      ResponseClientError,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("server rejected batch: %s", string(detail)),
		}
	default:
		return Response{
			Class:      ResponseServerError,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("server error %d", resp.StatusCode),
		}
	}
}

// UploadBlob pushes attachment bytes to a signed URL from a batch ack
func (c *Client) UploadBlob(ctx context.Context, uploadURL string, headers map[string]string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build blob request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("blob upload failed with status %d", resp.StatusCode)
	}
	return nil
}

func parseAck(body io.Reader) *event.BatchAck {
	data, err := io.ReadAll(io.LimitReader(body, 1<<20))
	if err != nil || len(data) == 0 {
		return nil
	}
	var ack event.BatchAck
	if err := json.Unmarshal(data, &ack); err != nil {
		logger.Debug().Err(err).Msg("Failed to parse events response")
		return nil
	}
	return &ack
}
