package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/MrWong99/speechio/pkg/audio/wav"
	"github.com/MrWong99/speechio/pkg/provider/stt"
	"github.com/MrWong99/speechio/pkg/provider/stt/openai"
)

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := openai.New("", ""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestTranscribe_UploadsWAV(t *testing.T) {
	t.Parallel()
	var (
		mu      sync.Mutex
		fields  map[string]string
		samples int
		rate    int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		got, format, err := wav.Decode(f, 0, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		fields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		samples, rate = len(got), format.SampleRate
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": " The dragon sleeps. "})
	}))
	defer srv.Close()

	p, err := openai.New("sk-test", "", openai.WithBaseURL(srv.URL), openai.WithMaxRetries(0), openai.WithPrompt("Eldrinax"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text, err := p.Transcribe(context.Background(), make([]float32, 4410), 44100, "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "The dragon sleeps." {
		t.Errorf("text: got %q, want %q", text, "The dragon sleeps.")
	}

	mu.Lock()
	defer mu.Unlock()
	if fields["model"] != openai.DefaultModel {
		t.Errorf("model: got %q, want %q", fields["model"], openai.DefaultModel)
	}
	if fields["language"] != "en" {
		t.Errorf("language: got %q, want en", fields["language"])
	}
	if fields["prompt"] != "Eldrinax" {
		t.Errorf("prompt: got %q, want Eldrinax", fields["prompt"])
	}
	if rate != stt.ModelSampleRate || samples != 1600 {
		t.Errorf("wav: got %d samples at %d Hz, want 1600 at %d Hz", samples, rate, stt.ModelSampleRate)
	}
}

func TestTranscribe_EmptyInput(t *testing.T) {
	t.Parallel()
	p, _ := openai.New("sk-test", "", openai.WithBaseURL("http://127.0.0.1:1"))
	text, err := p.Transcribe(context.Background(), nil, 16000, "")
	if err != nil || text != "" {
		t.Errorf("got (%q, %v), want empty result", text, err)
	}
}

func TestTranscribe_APIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	p, _ := openai.New("sk-bad", "", openai.WithBaseURL(srv.URL), openai.WithMaxRetries(0))
	_, err := p.Transcribe(context.Background(), make([]float32, 160), 16000, "")
	if !errors.Is(err, stt.ErrTranscriptionFailed) {
		t.Errorf("got %v, want ErrTranscriptionFailed", err)
	}
}
