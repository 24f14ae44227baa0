package resilience

import (
	"context"
	"errors"
	"testing"

	sttmock "github.com/MrWong99/speechio/pkg/provider/stt/mock"
)

func TestSTTFallback_PrimarySuccess(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{Result: "from primary"}
	secondary := &sttmock.Provider{Result: "from secondary"}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	got, err := fb.Transcribe(context.Background(), make([]float32, 160), 16000, "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "from primary" {
		t.Errorf("text: got %q, want %q", got, "from primary")
	}
	if secondary.CallCount() != 0 {
		t.Errorf("secondary called %d times, want 0", secondary.CallCount())
	}
}

func TestSTTFallback_Failover(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{Err: errors.New("server gone")}
	secondary := &sttmock.Provider{Result: "from secondary"}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	got, err := fb.Transcribe(context.Background(), make([]float32, 160), 16000, "de")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "from secondary" {
		t.Errorf("text: got %q, want %q", got, "from secondary")
	}
	calls := secondary.Calls()
	if len(calls) != 1 || calls[0].Language != "de" || calls[0].Samples != 160 {
		t.Errorf("secondary calls: got %+v", calls)
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	t.Parallel()
	fb := NewSTTFallback(&sttmock.Provider{Err: errors.New("a")}, "a", FallbackConfig{})
	fb.AddFallback("b", &sttmock.Provider{Err: errors.New("b")})

	if _, err := fb.Transcribe(context.Background(), make([]float32, 160), 16000, ""); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("got %v, want ErrAllFailed", err)
	}
}

func TestSTTFallback_EmptyInputSkipsBackends(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{Result: "x"}
	fb := NewSTTFallback(primary, "primary", FallbackConfig{})

	got, err := fb.Transcribe(context.Background(), nil, 16000, "")
	if err != nil || got != "" {
		t.Errorf("got (%q, %v), want empty result", got, err)
	}
	if primary.CallCount() != 0 {
		t.Errorf("primary called %d times, want 0", primary.CallCount())
	}
}
