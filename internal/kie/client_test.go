package kie

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, model string, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		APIKey:       "key",
		BaseURL:      srv.URL,
		Model:        model,
		PollInterval: time.Millisecond,
		MaxAttempts:  5,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGeneratePollsUntilSuccess(t *testing.T) {
	var polls atomic.Int32
	var created map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/jobs/createTask", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("authorization header: %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&created)
		_, _ = io.WriteString(w, `{"code":200,"data":{"taskId":"t-1"}}`)
	})
	mux.HandleFunc("/api/v1/jobs/recordInfo", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("taskId") != "t-1" {
			t.Errorf("taskId: %q", r.URL.Query().Get("taskId"))
		}
		if polls.Add(1) < 3 {
			_, _ = io.WriteString(w, `{"code":200,"data":{"state":"generating"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"code":200,"data":{"state":"success","resultJson":"{\"resultUrls\":[\"https://img/1.png\"]}"}}`)
	})

	c := newTestClient(t, ModelNanoBananaPro, mux)
	img, err := c.Generate(context.Background(), Request{Prompt: "red dress", InputURLs: []string{"https://ref/1.jpg"}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if img.URL != "https://img/1.png" || img.TaskID != "t-1" {
		t.Errorf("image: %+v", img)
	}
	if polls.Load() != 3 {
		t.Errorf("polls: got %d, want 3", polls.Load())
	}
	if created["model"] != ModelNanoBananaPro {
		t.Errorf("model: %v", created["model"])
	}
	input := created["input"].(map[string]any)
	if input["output_format"] != "png" || input["image_input"] == nil {
		t.Errorf("input: %v", input)
	}
}

func TestGenerateTaskFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/jobs/createTask", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"code":200,"data":{"taskId":"t-2"}}`)
	})
	mux.HandleFunc("/api/v1/jobs/recordInfo", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"code":200,"data":{"state":"fail","failCode":"422","failMsg":"nsfw"}}`)
	})

	c := newTestClient(t, ModelNanoBananaPro, mux)
	_, err := c.Generate(context.Background(), Request{Prompt: "x"})
	if !errors.Is(err, ErrTaskFailed) {
		t.Fatalf("got %v, want ErrTaskFailed", err)
	}
}

func TestGenerateHTTPError(t *testing.T) {
	c := newTestClient(t, ModelNanoBananaPro, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	if _, err := c.Generate(context.Background(), Request{Prompt: "x"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestFluxPayloadSelectsModelByInput(t *testing.T) {
	c := NewClient(Config{Model: ModelFlux2Pro}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	p := c.payload(Request{Prompt: "x"})
	if p["model"] != "flux-2/pro-text-to-image" {
		t.Errorf("text model: %v", p["model"])
	}
	p = c.payload(Request{Prompt: "x", InputURLs: []string{"u"}})
	if p["model"] != "flux-2/pro-image-to-image" {
		t.Errorf("image model: %v", p["model"])
	}
	if p["input"].(map[string]any)["input_urls"] == nil {
		t.Error("input_urls missing")
	}
}
