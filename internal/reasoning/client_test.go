package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeGetter struct {
	value string
	err   error
	calls atomic.Int32
}

func (f *fakeGetter) GetParameter(context.Context, string) (string, error) {
	f.calls.Add(1)
	return f.value, f.err
}

func chatServer(t *testing.T, content string, check func(*http.Request, chatRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if check != nil {
			check(r, req)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": content}}},
		})
	}))
}

func TestClient_Complete(t *testing.T) {
	var gotAuth, gotPath string
	var gotReq chatRequest
	srv := chatServer(t, `{"effective":true}`, func(r *http.Request, req chatRequest) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotReq = req
	})
	defer srv.Close()

	c, err := NewClient(StaticKey("sk-123"), WithBaseURL(srv.URL+"/api/v1"), WithModel("test-model"))
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, true)
	require.NoError(t, err)
	require.Equal(t, `{"effective":true}`, out)
	require.Equal(t, "Bearer sk-123", gotAuth)
	require.Equal(t, "/api/v1/chat/completions", gotPath)
	require.Equal(t, "test-model", gotReq.Model)
	require.NotNil(t, gotReq.ResponseFormat)
	require.Equal(t, "json_object", gotReq.ResponseFormat.Type)
}

func TestClient_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewClient(StaticKey("k"), WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), nil, false)
	var se *HTTPStatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusTooManyRequests, se.StatusCode)
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, err := NewClient(StaticKey("k"), WithBaseURL(srv.URL), WithTimeout(20*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Complete(context.Background(), nil, false)
	require.Error(t, err)
	require.Less(t, time.Since(start), time.Second)
}

func TestClient_MissingKey(t *testing.T) {
	c, err := NewClient(StaticKey(""))
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), nil, false)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestParameterKey(t *testing.T) {
	g := &fakeGetter{value: `{"token":"sk-from-ssm"}`}
	key, err := ParameterKey{Getter: g, Name: "/x"}.APIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-from-ssm", key)

	g = &fakeGetter{value: " sk-raw \n"}
	key, err = ParameterKey{Getter: g, Name: "/x"}.APIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-raw", key)

	g = &fakeGetter{value: `{"token":""}`}
	_, err = ParameterKey{Getter: g, Name: "/x"}.APIKey(context.Background())
	require.Error(t, err)

	g = &fakeGetter{err: errors.New("denied")}
	_, err = ParameterKey{Getter: g, Name: "/x"}.APIKey(context.Background())
	require.ErrorContains(t, err, "denied")
}

func TestClient_KeyResolvedOnce(t *testing.T) {
	srv := chatServer(t, "ok", nil)
	defer srv.Close()

	g := &fakeGetter{value: "sk"}
	c, err := NewClient(ParameterKey{Getter: g, Name: "/x"}, WithBaseURL(srv.URL))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := c.Complete(context.Background(), nil, false)
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), g.calls.Load())
}

func TestNewClient_NilKeySource(t *testing.T) {
	_, err := NewClient(nil)
	require.Error(t, err)
}
