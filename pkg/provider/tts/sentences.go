package tts

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/MrWong99/speechio/pkg/audio"
)

// ---- constants ----

const (
	// DefaultLookahead is how many sentence requests [StreamSentences] keeps
	// in flight at once.
	DefaultLookahead = 4

	// ChunkSize is the number of samples per chunk emitted by
	// [StreamSentences].
	ChunkSize = 4096

	// streamChanBuf is the buffer depth of the returned chunk channel.
	streamChanBuf = 64
)

// SynthFunc synthesises a single sentence into mono float32 samples at the
// stream's sample rate.
type SynthFunc func(ctx context.Context, sentence string) ([]float32, error)

// SplitSentences splits text on '.', '!' and '?' when followed by whitespace
// or the end of the text. Fragments are trimmed; empty ones are dropped. Text
// without a terminator yields a single sentence.
func SplitSentences(text string) []string {
	var out []string
	s := text
	for {
		idx := findSentenceBoundary(s)
		if idx < 0 {
			break
		}
		if sentence := strings.TrimSpace(s[:idx+1]); sentence != "" {
			out = append(out, sentence)
		}
		s = s[idx+1:]
	}
	if rest := strings.TrimSpace(s); rest != "" {
		out = append(out, rest)
	}
	return out
}

// findSentenceBoundary returns the index of the first sentence-ending character
// ('.', '!', '?') that is either at the end of s or immediately followed by
// whitespace. Returns -1 if no sentence boundary is found.
//
// Abbreviations like "Dr.Who" or decimals like "3.14" are not boundaries.
func findSentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == '!' || c == '?' {
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}

// sentenceResult carries a synthesised sentence or an error from a worker
// goroutine.
type sentenceResult struct {
	samples []float32
	err     error
}

// StreamSentences synthesises sentences concurrently with synth, keeping up to
// lookahead requests in flight, and emits their samples in sentence order as
// [ChunkSize]-sample chunks on the returned stream.
//
// The first failing sentence ends the stream; its error is recorded wrapped in
// [ErrSynthesisFailed]. Cancellation of ctx ends the stream and records
// ctx.Err(). The caller must drain the stream.
func StreamSentences(ctx context.Context, sentences []string, sampleRate, lookahead int, synth SynthFunc) *audio.Stream {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	out := make(chan []float32, streamChanBuf)
	s := audio.NewStream(out, sampleRate)

	go func() {
		defer close(out)

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		// resultQueue carries ordered future channels so the collector can
		// drain in order.
		resultQueue := make(chan chan sentenceResult, lookahead)

		// --- Dispatcher ---
		go func() {
			defer close(resultQueue)
			for _, sentence := range sentences {
				ch := make(chan sentenceResult, 1)
				select {
				case resultQueue <- ch:
				case <-ctx.Done():
					return
				}
				go func(text string, res chan<- sentenceResult) {
					samples, err := synth(ctx, text)
					res <- sentenceResult{samples: samples, err: err}
				}(sentence, ch)
			}
		}()

		// --- Collector ---
		for ch := range resultQueue {
			var res sentenceResult
			select {
			case res = <-ch:
			case <-ctx.Done():
				s.SetStreamErr(ctx.Err())
				return
			}
			if res.err != nil {
				if ctx.Err() != nil {
					s.SetStreamErr(ctx.Err())
				} else {
					s.SetStreamErr(fmt.Errorf("%w: %w", ErrSynthesisFailed, res.err))
				}
				return
			}
			samples := res.samples
			for len(samples) > 0 {
				end := min(ChunkSize, len(samples))
				select {
				case out <- samples[:end]:
				case <-ctx.Done():
					s.SetStreamErr(ctx.Err())
					return
				}
				samples = samples[end:]
			}
		}
		if err := ctx.Err(); err != nil {
			s.SetStreamErr(err)
		}
	}()

	return s
}
