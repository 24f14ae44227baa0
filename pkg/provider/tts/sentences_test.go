package tts_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/speechio/pkg/provider/tts"
)

func TestSplitSentences(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"single", "Hello world.", []string{"Hello world."}},
		{"multiple", "Hi! How are you? Fine.", []string{"Hi!", "How are you?", "Fine."}},
		{"no terminator", "  just words  ", []string{"just words"}},
		{"trailing fragment", "Done. and more", []string{"Done.", "and more"}},
		{"decimal", "Pi is 3.14 today.", []string{"Pi is 3.14 today."}},
		{"empty", "   ", nil},
		{"newline boundary", "One.\nTwo.", []string{"One.", "Two."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tts.SplitSentences(tt.in); !slices.Equal(got, tt.want) {
				t.Errorf("SplitSentences(%q): got %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// lengthSynth returns one sample per byte of the sentence, valued by its
// position in the input so that ordering can be checked.
func lengthSynth(order map[string]float32, delay func(string) time.Duration) tts.SynthFunc {
	return func(ctx context.Context, s string) ([]float32, error) {
		if delay != nil {
			select {
			case <-time.After(delay(s)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		out := make([]float32, len(s))
		for i := range out {
			out[i] = order[s]
		}
		return out, nil
	}
}

func TestStreamSentences_PreservesOrder(t *testing.T) {
	t.Parallel()
	sentences := []string{"First one.", "Second.", "Third sentence here."}
	order := map[string]float32{sentences[0]: 1, sentences[1]: 2, sentences[2]: 3}
	// The first sentence is the slowest so the later ones finish first.
	delay := func(s string) time.Duration {
		if s == sentences[0] {
			return 30 * time.Millisecond
		}
		return 0
	}

	s := tts.StreamSentences(context.Background(), sentences, 22050, 0, lengthSynth(order, delay))
	got, err := s.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if s.SampleRate != 22050 {
		t.Errorf("SampleRate: got %d, want 22050", s.SampleRate)
	}
	var want []float32
	for _, sentence := range sentences {
		for range len(sentence) {
			want = append(want, order[sentence])
		}
	}
	if !slices.Equal(got, want) {
		t.Errorf("samples: got %v, want %v", got, want)
	}
}

func TestStreamSentences_ChunksLongAudio(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("a", tts.ChunkSize+100)
	s := tts.StreamSentences(context.Background(), []string{long}, 16000, 1,
		lengthSynth(map[string]float32{long: 0.5}, nil))

	var sizes []int
	for c := range s.Chunks {
		sizes = append(sizes, len(c))
	}
	if want := []int{tts.ChunkSize, 100}; !slices.Equal(sizes, want) {
		t.Errorf("chunk sizes: got %v, want %v", sizes, want)
	}
}

func TestStreamSentences_ErrorStopsStream(t *testing.T) {
	t.Parallel()
	boom := errors.New("server returned 500")
	var calls atomic.Int32
	synth := func(_ context.Context, s string) ([]float32, error) {
		calls.Add(1)
		if s == "Bad." {
			return nil, boom
		}
		return []float32{0.1}, nil
	}

	s := tts.StreamSentences(context.Background(), []string{"Good.", "Bad.", "Never."}, 24000, 1, synth)
	got, err := s.Collect()
	if !errors.Is(err, tts.ErrSynthesisFailed) || !errors.Is(err, boom) {
		t.Errorf("got %v, want ErrSynthesisFailed wrapping %v", err, boom)
	}
	if len(got) != 1 {
		t.Errorf("samples before failure: got %d, want 1", len(got))
	}
}

func TestStreamSentences_Cancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	synth := func(ctx context.Context, _ string) ([]float32, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s := tts.StreamSentences(ctx, []string{"Waiting forever."}, 24000, 0, synth)
	cancel()

	_, err := s.Collect()
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
