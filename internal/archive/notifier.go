package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/quietbit/arena/internal/game"
)

// Notifier posts finished-game summaries to a configured webhook.
type Notifier struct {
	url  string
	http *fasthttp.Client

	timeout  time.Duration
	retryMax int
}

type NotifierOption func(*Notifier)

func WithTimeout(d time.Duration) NotifierOption {
	return func(n *Notifier) { n.timeout = d }
}

func WithRetry(max int) NotifierOption {
	return func(n *Notifier) { n.retryMax = max }
}

func NewNotifier(url string, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		url:      strings.TrimSpace(url),
		http:     &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		timeout:  10 * time.Second,
		retryMax: 3,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

type webhookPayload struct {
	GameID      string `json:"game_id"`
	White       string `json:"white"`
	Black       string `json:"black"`
	TimeControl string `json:"time_control"`
	Result      string `json:"result"`
	Reason      string `json:"reason"`
	Plies       int    `json:"plies"`
	PGN         string `json:"pgn"`
	EndedAt     string `json:"ended_at"`
}

// Notify posts one finished game, retrying transient failures with
// backoff until the context is cancelled or attempts run out.
func (n *Notifier) Notify(ctx context.Context, rec game.Record) error {
	if n == nil || n.url == "" {
		return nil
	}
	payload, err := json.Marshal(webhookPayload{
		GameID:      rec.GameID,
		White:       rec.White.Name,
		Black:       rec.Black.Name,
		TimeControl: formatControl(rec.TimeControl),
		Result:      string(rec.Result),
		Reason:      string(rec.Reason),
		Plies:       len(rec.MovesUCI),
		PGN:         BuildPGN(rec),
		EndedAt:     rec.EndedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(n.url)
	req.Header.SetContentType("application/json")
	req.SetBody(payload)

	attempts := n.retryMax
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := n.http.DoDeadline(req, resp, n.deadline(ctx))
		if err == nil {
			status := resp.StatusCode()
			if status >= 200 && status < 300 {
				return nil
			}
			err = fmt.Errorf("webhook error: status=%d", status)
			if !shouldRetryStatus(status) {
				return err
			}
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
			return lastErr
		}
	}
	return lastErr
}

func (n *Notifier) deadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(n.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func shouldRetryStatus(status int) bool {
	return status == fasthttp.StatusTooManyRequests || status >= 500
}

func backoffDuration(attempt int) time.Duration {
	d := time.Duration(attempt) * 500 * time.Millisecond
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
