package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/speechio/pkg/provider/tts"
	ttsmock "github.com/MrWong99/speechio/pkg/provider/tts/mock"
)

func TestTTSFallback_PrimarySuccess(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{SynthesizeChunks: [][]float32{{0.1, 0.2}, {0.3}}}
	secondary := &ttsmock.Provider{SynthesizeChunks: [][]float32{{0.9}}}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	s, err := fb.SynthesizeStream(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := s.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("samples: got %d, want 3", len(got))
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 0 {
		t.Fatalf("calls: primary %d, secondary %d; want 1, 0", primary.CallCount(), secondary.CallCount())
	}
}

func TestTTSFallback_Failover(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{SynthesizeChunks: [][]float32{{0.5}}, Rate: 22050}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	s, err := fb.SynthesizeStream(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.SampleRate != 22050 {
		t.Errorf("stream rate: got %d, want 22050", s.SampleRate)
	}
	if fb.SampleRate() != ttsmock.DefaultSampleRate {
		t.Errorf("SampleRate: got %d, want primary's %d", fb.SampleRate(), ttsmock.DefaultSampleRate)
	}
	if got := secondary.Texts(); len(got) != 1 || got[0] != "hello" {
		t.Errorf("secondary texts: got %v, want [hello]", got)
	}
}

func TestTTSFallback_EmptyInputDoesNotFailOver(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{SynthesizeErr: tts.ErrEmptyInput}
	secondary := &ttsmock.Provider{}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.SynthesizeStream(context.Background(), "  ")
	if !errors.Is(err, tts.ErrEmptyInput) {
		t.Fatalf("got %v, want ErrEmptyInput", err)
	}
	if secondary.CallCount() != 0 {
		t.Errorf("secondary called %d times, want 0", secondary.CallCount())
	}
	if st := fb.Status()[0].State; st != StateClosed {
		t.Errorf("primary breaker: got %v, want closed", st)
	}
}

func TestTTSFallback_AllFail(t *testing.T) {
	t.Parallel()
	fb := NewTTSFallback(&ttsmock.Provider{SynthesizeErr: errors.New("a")}, "a", FallbackConfig{})
	fb.AddFallback("b", &ttsmock.Provider{SynthesizeErr: errors.New("b")})

	if _, err := fb.SynthesizeStream(context.Background(), "hi"); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("got %v, want ErrAllFailed", err)
	}
}

func TestTTSFallback_ListVoicesSkipsNonListers(t *testing.T) {
	t.Parallel()
	voices := []tts.VoiceProfile{{ID: "v1", Name: "Alice"}}
	// Embedding only the interface hides the mock's ListVoices method.
	primary := struct{ tts.Provider }{&ttsmock.Provider{}}
	secondary := &ttsmock.Provider{ListVoicesResult: voices}

	fb := NewTTSFallback(primary, "bare", FallbackConfig{})
	fb.AddFallback("lister", secondary)

	got, err := fb.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "v1" {
		t.Fatalf("voices: got %+v, want %+v", got, voices)
	}
	if n := len(fb.Providers()); n != 2 {
		t.Errorf("Providers: got %d, want 2", n)
	}
}

func TestTTSFallback_ListVoicesUnsupportedLeavesBreakersClosed(t *testing.T) {
	t.Parallel()
	bare := struct{ tts.Provider }{&ttsmock.Provider{}}
	fb := NewTTSFallback(bare, "bare", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})

	for range 3 {
		if _, err := fb.ListVoices(context.Background()); !errors.Is(err, tts.ErrVoicesUnsupported) {
			t.Fatalf("got %v, want ErrVoicesUnsupported", err)
		}
	}
	for _, st := range fb.Status() {
		if st.State != StateClosed {
			t.Errorf("breaker %s: got %v, want closed", st.Name, st.State)
		}
	}
}
