package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirco-team/talky/internal/errs"
)

// fakeContentsAPI mimics the subset of the GitHub contents API the
// backend talks to: GET and PUT of a single file with sha-checked writes.
type fakeContentsAPI struct {
	mu      sync.Mutex
	content []byte
	sha     string
	nextSHA int
	lastReq struct {
		auth    string
		message string
	}
}

func (f *fakeContentsAPI) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.lastReq.auth = r.Header.Get("Authorization")

		switch r.Method {
		case http.MethodGet:
			if f.sha == "" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{
				"content": base64.StdEncoding.EncodeToString(f.content),
				"sha":     f.sha,
			})

		case http.MethodPut:
			var body struct {
				Message string `json:"message"`
				Content string `json:"content"`
				SHA     string `json:"sha"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			f.lastReq.message = body.Message
			if body.SHA != f.sha {
				w.WriteHeader(http.StatusConflict)
				return
			}
			data, err := base64.StdEncoding.DecodeString(body.Content)
			if err != nil {
				w.WriteHeader(http.StatusUnprocessableEntity)
				return
			}
			f.content = data
			f.nextSHA++
			f.sha = "sha" + string(rune('0'+f.nextSHA))
			json.NewEncoder(w).Encode(map[string]any{
				"content": map[string]string{"sha": f.sha},
			})
		}
	}
}

func setupGitHub(t *testing.T) (*GitHub, *fakeContentsAPI) {
	t.Helper()
	fake := &fakeContentsAPI{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	gh, err := NewGitHub(GitHubOpts{
		Owner:   "sirco-team",
		Repo:    "talky-data",
		Token:   "test-token",
		APIBase: srv.URL,
	})
	require.NoError(t, err)
	return gh, fake
}

func TestGitHub_RequiresConfig(t *testing.T) {
	_, err := NewGitHub(GitHubOpts{Owner: "o"})
	assert.Error(t, err)
}

func TestGitHub_ReadNotFound(t *testing.T) {
	gh, _ := setupGitHub(t)

	_, err := gh.Read(context.Background(), "talky/data.json")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestGitHub_WriteThenRead(t *testing.T) {
	gh, fake := setupGitHub(t)
	ctx := context.Background()

	v1, err := gh.Write(ctx, "talky/data.json", []byte(`{"users":[]}`), "")
	require.NoError(t, err)
	require.NotEmpty(t, v1)
	assert.Equal(t, "Bearer test-token", fake.lastReq.auth)
	assert.Contains(t, fake.lastReq.message, "talky/data.json")

	c, err := gh.Read(ctx, "talky/data.json")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"users":[]}`), c.Data)
	assert.Equal(t, v1, c.Version)
}

func TestGitHub_StaleSHAConflicts(t *testing.T) {
	gh, _ := setupGitHub(t)
	ctx := context.Background()

	v1, err := gh.Write(ctx, "doc", []byte("one"), "")
	require.NoError(t, err)
	_, err = gh.Write(ctx, "doc", []byte("two"), v1)
	require.NoError(t, err)

	_, err = gh.Write(ctx, "doc", []byte("stale"), v1)
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func TestGitHub_ContentWithNewlines(t *testing.T) {
	// The real API wraps base64 at 60 columns; the reader must cope.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := base64.StdEncoding.EncodeToString([]byte("hello world"))
		wrapped := enc[:4] + "\n" + enc[4:]
		json.NewEncoder(w).Encode(map[string]string{"content": wrapped, "sha": "abc"})
	}))
	t.Cleanup(srv.Close)

	gh, err := NewGitHub(GitHubOpts{Owner: "o", Repo: "r", Token: "t", APIBase: srv.URL})
	require.NoError(t, err)

	c, err := gh.Read(context.Background(), "doc")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), c.Data)
	assert.Equal(t, "abc", c.Version)
}

func TestGitHub_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	gh, err := NewGitHub(GitHubOpts{Owner: "o", Repo: "r", Token: "t", APIBase: srv.URL})
	require.NoError(t, err)

	_, err = gh.Read(context.Background(), "doc")
	assert.ErrorIs(t, err, errs.ErrUnavailable)

	_, err = gh.Write(context.Background(), "doc", []byte("x"), "v")
	assert.ErrorIs(t, err, errs.ErrUnavailable)
}
