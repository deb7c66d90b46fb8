package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendFormEncodesPayload(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		got = r.PostForm
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	res := c.Send(context.Background(), "quiz", QuizSubmission{
		VisitorID:   "v1",
		Email:       "ada@example.com",
		Answers:     []string{"a", "c", "b"},
		Score:       7,
		UTMSource:   "google",
		SubmittedAt: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
	})
	require.True(t, res.OK(), "result: %+v", res)
	assert.Equal(t, "quiz", got.Get("type"))
	assert.Equal(t, "ada@example.com", got.Get("email"))
	assert.Equal(t, "a,c,b", got.Get("answers"))
	assert.Equal(t, "7", got.Get("score"))
	assert.Equal(t, "google", got.Get("utm_source"))
	assert.Equal(t, "2026-10-01T09:00:00Z", got.Get("submitted_at"))
	_, hasPhone := got["phone"]
	assert.False(t, hasPhone)
}

func TestSendAsyncReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	res := <-New(srv.URL, time.Second).SendAsync(context.Background(), "feedback", Feedback{Rating: 4})
	assert.False(t, res.OK())
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Error(t, res.Err)
	assert.Equal(t, "feedback", res.Kind)
}

func TestSendWithoutURL(t *testing.T) {
	res := New("", 0).Send(context.Background(), "feedback", Feedback{})
	assert.ErrorIs(t, res.Err, ErrNotConfigured)

	var nilClient *Client
	assert.ErrorIs(t, nilClient.Send(context.Background(), "quiz", QuizSubmission{}).Err, ErrNotConfigured)
}
