package pinning

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pinServer(t *testing.T, wantAuth func(*http.Request) bool) (*httptest.Server, map[string][]byte) {
	t.Helper()
	pinned := map[string][]byte{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /pins", func(w http.ResponseWriter, r *http.Request) {
		if !wantAuth(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		data, _ := io.ReadAll(r.Body)
		cid := ContentID(data)
		pinned[cid] = data
		json.NewEncoder(w).Encode(map[string]string{"cid": cid})
	})
	mux.HandleFunc("DELETE /pins/{cid}", func(w http.ResponseWriter, r *http.Request) {
		if !wantAuth(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		delete(pinned, r.PathValue("cid"))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, pinned
}

func TestHTTPServiceBearerToken(t *testing.T) {
	srv, pinned := pinServer(t, func(r *http.Request) bool {
		return r.Header.Get("Authorization") == "Bearer tok-123"
	})
	s, err := NewHTTPService(HTTPConfig{Name: "pinata", Endpoint: srv.URL + "/", Token: "tok-123"})
	require.NoError(t, err)
	ctx := context.Background()

	healthy, err := s.CheckHealth(ctx)
	require.NoError(t, err)
	assert.True(t, healthy)

	cid, err := s.Pin(ctx, []byte("snapshot"))
	require.NoError(t, err)
	assert.Equal(t, ContentID([]byte("snapshot")), cid)
	assert.Contains(t, pinned, cid)

	require.NoError(t, s.Unpin(ctx, cid))
	assert.NotContains(t, pinned, cid)
}

func TestHTTPServiceBasicAuth(t *testing.T) {
	srv, _ := pinServer(t, func(r *http.Request) bool {
		id, secret, ok := r.BasicAuth()
		return ok && id == "project" && secret == "s3cret"
	})
	s, err := NewHTTPService(HTTPConfig{Name: "infura", Endpoint: srv.URL, ProjectID: "project", ProjectSecret: "s3cret"})
	require.NoError(t, err)

	_, err = s.Pin(context.Background(), []byte("x"))
	assert.NoError(t, err)
}

func TestHTTPServiceErrors(t *testing.T) {
	srv, _ := pinServer(t, func(*http.Request) bool { return false })
	s, err := NewHTTPService(HTTPConfig{Name: "web3", Endpoint: srv.URL, Token: "wrong"})
	require.NoError(t, err)

	_, err = s.Pin(context.Background(), []byte("x"))
	assert.ErrorContains(t, err, "web3 pin error 401")
}

func TestHTTPServiceMissingCredentials(t *testing.T) {
	_, err := NewHTTPService(HTTPConfig{Name: "infura", Endpoint: "https://ipfs.example.com", ProjectID: "only-id"})
	assert.ErrorIs(t, err, ErrMissingCredentials)

	_, err = NewHTTPService(HTTPConfig{Name: "x", Token: "t"})
	assert.Error(t, err)
}

type staticProber struct{ ok bool }

func (p staticProber) Probe(context.Context) (bool, error) { return p.ok, nil }

func TestHTTPServiceUsesProber(t *testing.T) {
	s, err := NewHTTPService(HTTPConfig{Name: "x", Endpoint: "http://127.0.0.1:1", Token: "t", Prober: staticProber{ok: true}})
	require.NoError(t, err)

	healthy, err := s.CheckHealth(context.Background())
	require.NoError(t, err)
	assert.True(t, healthy)
}
