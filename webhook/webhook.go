// Package webhook posts quiz, feedback and conversion submissions to the
// marketing team's form endpoint.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/rs/zerolog/log"
)

var ErrNotConfigured = errors.New("webhook url not configured")

// QuizSubmission is a completed career quiz.
type QuizSubmission struct {
	VisitorID   string    `url:"visitor_id" json:"-"`
	Name        string    `url:"name,omitempty" json:"name"`
	Email       string    `url:"email" json:"email" binding:"required,email"`
	Phone       string    `url:"phone,omitempty" json:"phone"`
	Career      string    `url:"career,omitempty" json:"career"`
	Answers     []string  `url:"answers,comma" json:"answers"`
	Score       int       `url:"score" json:"score"`
	UTMSource   string    `url:"utm_source,omitempty" json:"-"`
	UTMMedium   string    `url:"utm_medium,omitempty" json:"-"`
	UTMCampaign string    `url:"utm_campaign,omitempty" json:"-"`
	Segment     string    `url:"segment,omitempty" json:"-"`
	SubmittedAt time.Time `url:"submitted_at" json:"-"`
}

type Feedback struct {
	VisitorID   string    `url:"visitor_id" json:"-"`
	Rating      int       `url:"rating" json:"rating" binding:"min=1,max=5"`
	Message     string    `url:"message,omitempty" json:"message"`
	Page        string    `url:"page,omitempty" json:"page"`
	Email       string    `url:"email,omitempty" json:"email"`
	SubmittedAt time.Time `url:"submitted_at" json:"-"`
}

type Conversion struct {
	VisitorID string    `url:"visitor_id"`
	SessionID string    `url:"session_id"`
	GoalID    string    `url:"goal_id"`
	Value     float64   `url:"value"`
	Source    string    `url:"source,omitempty"`
	Medium    string    `url:"medium,omitempty"`
	Campaign  string    `url:"campaign,omitempty"`
	Timestamp time.Time `url:"timestamp"`
}

// Result is the observable outcome of one post.
type Result struct {
	Kind       string
	StatusCode int
	Duration   time.Duration
	Err        error
}

func (r Result) OK() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 400
}

type Client struct {
	url  string
	http *http.Client
}

func New(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{url: url, http: &http.Client{Timeout: timeout}}
}

// Send form-encodes payload, adds the "type" field and posts it.
func (c *Client) Send(ctx context.Context, kind string, payload any) (res Result) {
	start := time.Now()
	res.Kind = kind
	defer func() {
		res.Duration = time.Since(start)
	}()

	if c == nil || c.url == "" {
		res.Err = ErrNotConfigured
		return res
	}
	form, err := query.Values(payload)
	if err != nil {
		res.Err = fmt.Errorf("failed to encode %s payload: %w", kind, err)
		return res
	}
	form.Set("type", kind)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(form.Encode()))
	if err != nil {
		res.Err = err
		return res
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		res.Err = err
		log.Error().Err(err).Str("kind", kind).Msg("Webhook post failed")
		return res
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	res.StatusCode = resp.StatusCode
	if resp.StatusCode >= 400 {
		res.Err = fmt.Errorf("webhook returned %s", resp.Status)
		log.Warn().Int("status", resp.StatusCode).Str("kind", kind).Msg("Webhook rejected submission")
	}
	return res
}

// SendAsync posts in the background. The channel receives exactly one
// Result and is then closed; callers may ignore it.
func (c *Client) SendAsync(ctx context.Context, kind string, payload any) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		ch <- c.Send(ctx, kind, payload)
	}()
	return ch
}
