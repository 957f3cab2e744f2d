package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPReplierSendsMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "what lives in kelp forests?", body["message"])

		_, _ = io.WriteString(w, `{"reply":"Hi"}`)
	}))
	defer srv.Close()

	replier := NewHTTPReplier(srv.URL, DefaultPolicy(), srv.Client(), nil)
	reply, err := replier.Reply(context.Background(), "what lives in kelp forests?")

	require.NoError(t, err)
	assert.Equal(t, "Hi", reply)
}

func TestHTTPReplierMissingReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	reply, err := NewHTTPReplier(srv.URL, DefaultPolicy(), srv.Client(), nil).Reply(context.Background(), "x")

	require.NoError(t, err)
	assert.Empty(t, reply)
}

func TestHTTPReplierNon2xxIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTPReplier(srv.URL, DefaultPolicy(), srv.Client(), nil).Reply(context.Background(), "x")

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.Equal(t, "overloaded", statusErr.Body)
}

func TestHTTPReplierMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `not json`)
	}))
	defer srv.Close()

	_, err := NewHTTPReplier(srv.URL, DefaultPolicy(), srv.Client(), nil).Reply(context.Background(), "x")

	assert.ErrorIs(t, err, ErrMalformedReply)
}

func TestHTTPReplierConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPReplier(url, DefaultPolicy(), nil, nil).Reply(context.Background(), "x")

	assert.Error(t, err)
}

func TestHTTPReplierTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	policy := Policy{Timeout: 50 * time.Millisecond}
	start := time.Now()
	_, err := NewHTTPReplier(srv.URL, policy, srv.Client(), nil).Reply(context.Background(), "x")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHTTPReplierRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"reply":"second time lucky"}`)
	}))
	defer srv.Close()

	policy := Policy{Timeout: time.Second, Retries: 1, Backoff: time.Millisecond}
	reply, err := NewHTTPReplier(srv.URL, policy, srv.Client(), nil).Reply(context.Background(), "x")

	require.NoError(t, err)
	assert.Equal(t, "second time lucky", reply)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPReplierDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	policy := Policy{Timeout: time.Second, Retries: 3, Backoff: time.Millisecond}
	_, err := NewHTTPReplier(srv.URL, policy, srv.Client(), nil).Reply(context.Background(), "x")

	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExchangeOverHTTPServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ex := NewExchange(NewHTTPReplier(srv.URL, DefaultPolicy(), srv.Client(), nil), "", nil)
	ex.Submit(context.Background(), "hello")

	turns := ex.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, ConnectivityMessage, turns[1].Content)
	assert.False(t, ex.Busy())
}

func TestHTTPReplierStopsAfterRetryBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	policy := Policy{Timeout: time.Second, Retries: 2, Backoff: time.Millisecond}
	_, err := NewHTTPReplier(srv.URL, policy, srv.Client(), nil).Reply(context.Background(), "x")

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPReplierCancelDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	policy := Policy{Timeout: time.Second, Retries: 5, Backoff: time.Minute}
	start := time.Now()
	_, err := NewHTTPReplier(srv.URL, policy, srv.Client(), nil).Reply(ctx, "x")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}
