// Package transport fetches bulk payloads and delivers realtime events.
//
// Bulk loads are fetched over HTTP. Realtime events arrive over a WebSocket
// subscription keyed by an opaque channel id; delivered frames pass through a
// FIFO ingestion queue with a single consumer, so two events never reach the
// engine concurrently even when the socket reconnects.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/Erikvl87/todosync/internal/model"
)

// DefaultReconnectEvery throttles realtime reconnect attempts.
const DefaultReconnectEvery = 2 * time.Second

// ingestBuffer is the FIFO depth between the socket reader and the consumer.
const ingestBuffer = 100

// Config holds transport configuration.
type Config struct {
	// BaseURL is the backend root, e.g. "https://api.example.com".
	BaseURL string

	// Token is sent as a bearer token on every request.
	Token string

	// HTTPClient overrides the default client. Optional.
	HTTPClient *http.Client

	// ReconnectEvery throttles realtime reconnects
	// (default: DefaultReconnectEvery).
	ReconnectEvery time.Duration

	// Logger for transport activity.
	Logger *log.Logger
}

// Client talks to the backend.
type Client struct {
	baseURL  string
	token    string
	httpc    *http.Client
	limiter  *rate.Limiter
	clientID string
	logger   *log.Logger
}

// NewClient creates a transport client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.ReconnectEvery <= 0 {
		cfg.ReconnectEvery = DefaultReconnectEvery
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	return &Client{
		baseURL:  cfg.BaseURL,
		token:    cfg.Token,
		httpc:    cfg.HTTPClient,
		limiter:  rate.NewLimiter(rate.Every(cfg.ReconnectEvery), 1),
		clientID: uuid.New().String(),
		logger:   cfg.Logger,
	}, nil
}

// ClientID returns the opaque identity sent with realtime subscriptions.
func (c *Client) ClientID() string {
	return c.clientID
}

// FetchBulk retrieves the one-shot bulk payload for a project. Omitted
// section and task collections decode as empty.
func (c *Client) FetchBulk(ctx context.Context, projectID string) (*model.BulkPayload, error) {
	u := fmt.Sprintf("%s/projects/%s/bulk", c.baseURL, url.PathEscape(projectID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build bulk request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bulk fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bulk fetch failed: unexpected status %s", resp.Status)
	}

	var payload model.BulkPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode bulk payload: %w", err)
	}
	if payload.Sections == nil {
		payload.Sections = []model.Section{}
	}
	if payload.Tasks == nil {
		payload.Tasks = []model.Task{}
	}

	return &payload, nil
}

// Subscribe connects to the realtime channel and invokes deliver for every
// received frame, in arrival order, from a single consumer goroutine. On
// socket failure it reconnects, throttled by the configured limiter, until
// ctx is cancelled.
//
// Subscribe blocks until ctx is cancelled and always returns ctx.Err().
func (c *Client) Subscribe(ctx context.Context, channel string, deliver func(raw []byte)) error {
	ingest := make(chan []byte, ingestBuffer)

	// Single consumer: the FIFO ahead of the reorder queue.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for raw := range ingest {
			deliver(raw)
		}
	}()

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			close(ingest)
			<-done
			return ctx.Err()
		}

		if err := c.readOnce(ctx, channel, ingest); err != nil {
			if ctx.Err() != nil {
				close(ingest)
				<-done
				return ctx.Err()
			}
			c.logger.Warn("realtime connection lost, reconnecting", "err", err)
		}
	}
}

// readOnce dials the realtime endpoint and pumps frames until the connection
// drops or ctx is cancelled.
func (c *Client) readOnce(ctx context.Context, channel string, ingest chan<- []byte) error {
	u := fmt.Sprintf("%s/realtime?channel=%s&client=%s",
		c.baseURL, url.QueryEscape(channel), url.QueryEscape(c.clientID))

	opts := &websocket.DialOptions{}
	if c.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + c.token}}
	}

	conn, _, err := websocket.Dial(ctx, u, opts)
	if err != nil {
		return fmt.Errorf("realtime dial failed: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	c.logger.Info("realtime connected", "channel", channel)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		select {
		case ingest <- data:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
