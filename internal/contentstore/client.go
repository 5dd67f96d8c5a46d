package contentstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/MahmoudSaeedNST/learnhub/internal/metrics"
	"github.com/MahmoudSaeedNST/learnhub/internal/types"
)

const (
	participantsCacheTTL = 30 * time.Second
	readRetryBudget      = time.Second
)

type participantsEntry struct {
	participants []int64
	expiresAt    time.Time
}

// Client speaks the content store's HTTPS protocol. All calls are bounded
// by the configured deadline and run through a shared circuit breaker.
type Client struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]

	mu           sync.Mutex
	participants map[string]participantsEntry
}

func NewClient(baseURL string, deadline time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: deadline},
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:    "content-store",
			Timeout: deadline,
			IsSuccessful: func(err error) bool {
				// Client-side policy errors do not indicate an unhealthy store.
				return err == nil || !errors.Is(err, ErrUpstreamUnavailable)
			},
		}),
		participants: make(map[string]participantsEntry),
	}
}

func (c *Client) CreateOrGetThread(ctx context.Context, token string, participants []int64) (string, error) {
	body, err := c.do(ctx, token, http.MethodPost, "/threads", map[string]any{
		"participants": participants,
	})
	if err != nil {
		metrics.StoreErrors.WithLabelValues("create_or_get_thread").Inc()
		return "", err
	}

	var resp struct {
		Id string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: decode thread: %v", ErrUpstreamUnavailable, err)
	}
	return resp.Id, nil
}

func (c *Client) PersistMessage(ctx context.Context, token string, params MessageParams) (types.Message, error) {
	body, err := c.do(ctx, token, http.MethodPost, "/threads/"+params.ThreadId+"/messages", params)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("persist_message").Inc()
		return types.Message{}, err
	}

	var msg types.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return types.Message{}, fmt.Errorf("%w: decode message: %v", ErrUpstreamUnavailable, err)
	}
	return msg, nil
}

func (c *Client) DeleteMessage(ctx context.Context, token, messageId string) error {
	_, err := c.do(ctx, token, http.MethodDelete, "/messages/"+messageId, nil)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("delete_message").Inc()
	}
	return err
}

func (c *Client) ParticipantsOf(ctx context.Context, token, threadId string) ([]int64, error) {
	c.mu.Lock()
	entry, ok := c.participants[threadId]
	c.mu.Unlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.participants, nil
	}

	var resp struct {
		Participants []int64 `json:"participants"`
	}
	body, err := c.retryRead(ctx, token, http.MethodGet, "/threads/"+threadId+"/participants")
	if err != nil {
		metrics.StoreErrors.WithLabelValues("participants_of").Inc()
		return nil, err
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode participants: %v", ErrUpstreamUnavailable, err)
	}

	c.mu.Lock()
	c.participants[threadId] = participantsEntry{
		participants: resp.Participants,
		expiresAt:    time.Now().Add(participantsCacheTTL),
	}
	c.mu.Unlock()

	return resp.Participants, nil
}

func (c *Client) MarkRead(ctx context.Context, token, threadId string, userId int64, messageId string) error {
	payload := map[string]any{"user_id": userId}
	if messageId != "" {
		payload["message_id"] = messageId
	}
	_, err := c.do(ctx, token, http.MethodPost, "/threads/"+threadId+"/read", payload)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("mark_read").Inc()
	}
	return err
}

func (c *Client) RecordCall(ctx context.Context, token string, record types.CallRecord) error {
	_, err := c.do(ctx, token, http.MethodPost, "/calls", record)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("record_call").Inc()
	}
	return err
}

func (c *Client) UpdatePresence(ctx context.Context, token string, userId int64, status types.PresenceStatus, lastActivity time.Time) error {
	_, err := c.do(ctx, token, http.MethodPut, fmt.Sprintf("/presence/%d", userId), map[string]any{
		"status":        status,
		"last_activity": lastActivity,
	})
	if err != nil {
		metrics.StoreErrors.WithLabelValues("update_presence").Inc()
	}
	return err
}

func (c *Client) FriendsOf(ctx context.Context, token string, userId int64) ([]int64, error) {
	body, err := c.retryRead(ctx, token, http.MethodGet, fmt.Sprintf("/users/%d/friends", userId))
	if err != nil {
		metrics.StoreErrors.WithLabelValues("friends_of").Inc()
		return nil, err
	}

	var resp struct {
		Friends []int64 `json:"friends"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode friends: %v", ErrUpstreamUnavailable, err)
	}
	return resp.Friends, nil
}

// retryRead retries idempotent reads on transient failures with jittered
// exponential backoff, capped at three attempts within one second. Writes
// are never retried here; the caller decides.
func (c *Client) retryRead(ctx context.Context, token, method, path string) ([]byte, error) {
	var body []byte

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = readRetryBudget

	err := backoff.Retry(func() error {
		var err error
		body, err = c.do(ctx, token, method, path, nil)
		if err != nil && !errors.Is(err, ErrUpstreamUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithMaxRetries(backoff.WithContext(b, ctx), 2))

	return body, err
}

func (c *Client) do(ctx context.Context, token, method, path string, payload any) ([]byte, error) {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		var reqBody io.Reader
		if payload != nil {
			raw, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("encode payload: %w", err)
			}
			reqBody = bytes.NewReader(raw)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %v", ErrUpstreamUnavailable, err)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return body, nil
		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrNotFound
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, ErrDenied
		default:
			return nil, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
		}
	})
	if err != nil && (errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)) {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return body, err
}
