package page

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floatchat/backend/internal/gate"
	"github.com/floatchat/backend/internal/notify"
	"github.com/floatchat/backend/internal/service/auth"
)

type sessionsFunc func(ctx context.Context, sid string) (*auth.Session, error)

func (f sessionsFunc) GetSession(ctx context.Context, sid string) (*auth.Session, error) {
	return f(ctx, sid)
}

var testCookie = gate.Cookie{Name: "fc_session", TTL: time.Hour}

func newTestRouter(t *testing.T, sessions gate.SessionSource) (*chi.Mux, *Renderer) {
	t.Helper()
	renderer, err := NewRenderer(sessions, testCookie, nil)
	require.NoError(t, err)

	r := chi.NewRouter()
	NewHandler(renderer).RegisterRoutes(r)
	r.NotFound(NotFound)
	return r, renderer
}

func get(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, *goquery.Document) {
	t.Helper()
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if !strings.HasPrefix(resp.Header().Get("Content-Type"), "text/html") {
		return resp, nil
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(t, err)
	return resp, doc
}

func TestParseContentOrder(t *testing.T) {
	pages, err := parseContent(contentYAML)
	require.NoError(t, err)

	var keys []string
	for _, p := range pages {
		keys = append(keys, p.Key)
	}
	assert.Equal(t, []string{"home", "explore", "research", "community", "about"}, keys)
}

func TestParseContentRejectsDuplicates(t *testing.T) {
	_, err := parseContent([]byte("pages:\n  - {key: a, path: /a}\n  - {key: a, path: /b}\n"))
	assert.Error(t, err)

	_, err = parseContent([]byte("pages:\n  - {key: a}\n"))
	assert.Error(t, err)
}

func TestMarketingPagesRender(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	cases := map[string]string{
		"/":          "FloatChat AI",
		"/about":     "About FloatChat",
		"/research":  "Research & Global Insights",
		"/community": "The FloatChat Community",
		"/explore":   "Explore the Deep",
	}
	for path, heading := range cases {
		t.Run(path, func(t *testing.T) {
			resp, doc := get(t, r, httptest.NewRequest(http.MethodGet, path, nil))
			require.Equal(t, http.StatusOK, resp.Code)
			require.NotNil(t, doc)

			assert.Equal(t, heading, doc.Find("h1").First().Text())
			assert.Equal(t, path, doc.Find("nav a.active").AttrOr("href", ""))
			assert.Equal(t, 1, doc.Find("#login-link").Length())
			assert.Equal(t, 0, doc.Find("#logout").Length())
		})
	}
}

func TestNavigationOrder(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	_, doc := get(t, r, httptest.NewRequest(http.MethodGet, "/", nil))

	var labels []string
	doc.Find("nav ul a").Each(func(_ int, s *goquery.Selection) {
		labels = append(labels, s.Text())
	})
	assert.Equal(t, []string{"Home", "Explore", "Research", "Community", "About", "FloatChatAI"}, labels)
}

func TestNavShowsSignedInUser(t *testing.T) {
	sessions := sessionsFunc(func(_ context.Context, sid string) (*auth.Session, error) {
		if sid != "sid-1" {
			return nil, nil
		}
		return &auth.Session{AccessToken: "at", User: auth.User{ID: "u1", Email: "diver@example.com"}}, nil
	})
	r, _ := newTestRouter(t, sessions)

	req := httptest.NewRequest(http.MethodGet, "/about", nil)
	req.AddCookie(&http.Cookie{Name: "fc_session", Value: "sid-1"})
	_, doc := get(t, r, req)

	assert.Equal(t, "diver@example.com", doc.Find("nav .user").Text())
	assert.Equal(t, "/logout", doc.Find("nav form").AttrOr("action", ""))
	assert.Equal(t, 0, doc.Find("#login-link").Length())
}

func TestFlashIsShownOnce(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	notify.NewFlash(rec, false).Notify("Login successful! Redirecting...", 1500*time.Millisecond)
	flash := rec.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(flash)
	resp, doc := get(t, r, req)

	assert.Equal(t, "Login successful! Redirecting...", doc.Find("#app-message").Text())
	assert.Equal(t, "1500", doc.Find("#app-message-box").AttrOr("data-duration-ms", ""))

	cleared := false
	for _, c := range resp.Result().Cookies() {
		if c.Name == flash.Name && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared)
}

func TestUnknownPathRedirectsHome(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/no-such-page", nil))

	assert.Equal(t, http.StatusSeeOther, resp.Code)
	assert.Equal(t, "/", resp.Header().Get("Location"))
}

func TestPlaceholderHidesContent(t *testing.T) {
	renderer, err := NewRenderer(nil, testCookie, nil)
	require.NoError(t, err)

	resp, doc := get(t, NewHandler(renderer).Placeholder(), httptest.NewRequest(http.MethodGet, ChatPath, nil))

	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Equal(t, "1", resp.Header().Get("Retry-After"))
	assert.Contains(t, doc.Find(".placeholder").Text(), "Checking authentication...")
	assert.Equal(t, 0, doc.Find("#chat-form").Length())
}
