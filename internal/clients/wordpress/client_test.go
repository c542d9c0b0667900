package wordpress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aristath/autopublish/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func creds(url string) domain.SiteCredentials {
	return domain.SiteCredentials{SiteURL: url, Username: "bot", AppPassword: "app pw", PostStatus: "draft", CategoryID: 12}
}

var report = &domain.Report{Ticker: "AAA", Title: "AAA outlook", Content: "<p>hi</p>"}

func TestPublish_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/wp-json/wp/v2/posts", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "bot", user)
		assert.Equal(t, "app pw", pass)

		var body createPostRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "AAA outlook", body.Title)
		assert.Equal(t, "draft", body.Status)
		assert.Equal(t, int64(7), body.Author)
		assert.Equal(t, []int64{12}, body.Categories)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 991, "link": "https://site/p/991"}`))
	}))
	defer server.Close()

	id, err := NewClient(zerolog.Nop()).Publish(context.Background(), creds(server.URL), domain.Author{ID: 7, Name: "X"}, report)
	require.NoError(t, err)
	assert.Equal(t, int64(991), id)
}

func TestPublish_FailureClassification(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, true},
		{http.StatusForbidden, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusBadGateway, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"code":"rest_cannot_create","message":"Sorry"}`))
			}))
			defer server.Close()

			_, err := NewClient(zerolog.Nop()).Publish(context.Background(), creds(server.URL), domain.Author{ID: 1}, report)

			var pf *domain.PublisherFailure
			require.ErrorAs(t, err, &pf)
			assert.Equal(t, tt.status, pf.StatusCode)
			assert.Equal(t, tt.permanent, domain.IsPermanent(err))
			assert.Contains(t, err.Error(), "rest_cannot_create")
		})
	}
}

func TestPublish_NetworkErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient(zerolog.Nop()).Publish(context.Background(), creds(url), domain.Author{ID: 1}, report)
	var pf *domain.PublisherFailure
	require.ErrorAs(t, err, &pf)
	assert.False(t, pf.Permanent)
}

func TestPublish_GarbageBodyIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer server.Close()

	_, err := NewClient(zerolog.Nop()).Publish(context.Background(), creds(server.URL), domain.Author{ID: 1}, report)
	assert.True(t, domain.IsPermanent(err))
}
