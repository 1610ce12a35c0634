package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraphd/flowgraphd/internal/component"
)

func TestDeliverPostsBodyWithHeaders(t *testing.T) {
	var gotMethod, gotBody, gotQueryID, gotCustomHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotQueryID = r.Header.Get("X-Query-Id")
		gotCustomHeader = r.Header.Get("X-Custom")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New("r1", Config{URL: srv.URL, Headers: map[string]string{"X-Custom": "yes"}})
	require.NoError(t, r.Start(context.Background()))

	err := r.Deliver(context.Background(), component.Payload{QueryID: "q1", Body: []byte(`{"a":1}`)})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, `{"a":1}`, gotBody)
	assert.Equal(t, "q1", gotQueryID)
	assert.Equal(t, "yes", gotCustomHeader)
}

func TestDeliverNon2xxStatusIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := New("r1", Config{URL: srv.URL})
	require.NoError(t, r.Start(context.Background()))

	err := r.Deliver(context.Background(), component.Payload{QueryID: "q1", Body: []byte("x")})
	assert.Error(t, err)
}

func TestDeliverUnreachableEndpointIsTransportError(t *testing.T) {
	r := New("r1", Config{URL: "http://127.0.0.1:0"})
	require.NoError(t, r.Start(context.Background()))

	err := r.Deliver(context.Background(), component.Payload{QueryID: "q1", Body: []byte("x")})
	assert.Error(t, err)
}

func TestDeliverUsesConfiguredMethod(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New("r1", Config{URL: srv.URL, Method: http.MethodPut})
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Deliver(context.Background(), component.Payload{QueryID: "q1", Body: []byte("x")}))
	assert.Equal(t, http.MethodPut, gotMethod)
}
