package peerclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientGetDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Node-Sync"); got != "1" {
			t.Fatalf("expected X-Node-Sync header, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"height":42}}`))
	}))
	defer srv.Close()

	c := New()
	resp, err := c.Get(context.Background(), srv.URL, time.Second)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected OK response")
	}

	var out struct {
		Height int `json:"height"`
	}
	if _, err := DecodeEnvelope(resp.JSON, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Height != 42 {
		t.Fatalf("expected height 42, got %d", out.Height)
	}
}

func TestClientGetLegacyArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"hash":"a"},{"hash":"b"}]`))
	}))
	defer srv.Close()

	c := New()
	resp, err := c.Get(context.Background(), srv.URL, time.Second)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	var out []struct {
		Hash string `json:"hash"`
	}
	if _, err := DecodeEnvelope(resp.JSON, &out); err != nil {
		t.Fatalf("decode legacy: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(out))
	}
}

func TestClientPostSignsBody(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Broadcast-Signature")
		w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	c := New(WithBroadcastSecret("topsecret"))
	body := map[string]string{"block_hash": "0xdead"}
	if _, err := c.Post(context.Background(), srv.URL, body, time.Second); err != nil {
		t.Fatalf("post: %v", err)
	}
	if gotSig == "" {
		t.Fatalf("expected X-Broadcast-Signature header to be set")
	}

	payload, _ := json.Marshal(body)
	want := "sha256=" + c.sign(payload)
	if gotSig != want {
		t.Fatalf("signature mismatch: got %s want %s", gotSig, want)
	}
}

func TestClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	c := New()
	_, err := c.Get(context.Background(), srv.URL, 5*time.Millisecond)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestClientHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New()
	_, err := c.Get(context.Background(), srv.URL, time.Second)
	if err == nil {
		t.Fatalf("expected HTTPStatusError")
	}
}
