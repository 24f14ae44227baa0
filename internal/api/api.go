// Package api serves the speechio HTTP surface.
//
// Routes:
//
//	GET  /health    status, output sample rate and device state
//	POST /speak     text/plain or {"text"}: synthesize and play
//	POST /play      asset name: play a WAV from the assets directory
//	POST /generate  {"name","text"}: synthesize into a WAV asset
//	POST /open      bind the output device
//	POST /close     release the output device
//	POST /listen    {"maxInitialSilence","maxTailSilence"}: capture and transcribe
//	POST /record    same body: capture and return audio/wav
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/speechio/internal/observe"
	"github.com/MrWong99/speechio/internal/speech"
	"github.com/MrWong99/speechio/pkg/audio"
	"github.com/MrWong99/speechio/pkg/audio/capture"
	"github.com/MrWong99/speechio/pkg/audio/playback"
	"github.com/MrWong99/speechio/pkg/provider/tts"
)

// maxBodyBytes bounds request bodies. Text to speak is the largest payload.
const maxBodyBytes = 1 << 20

// Speech is the subset of [speech.Service] the handlers use.
type Speech interface {
	Speak(ctx context.Context, text string) error
	Play(ctx context.Context, name string) error
	Generate(ctx context.Context, name, text string) (string, error)
	Open(ctx context.Context) (playback.OpenStatus, error)
	Close() error
	Listen(ctx context.Context, lim capture.Limits) (string, error)
	Record(ctx context.Context, lim capture.Limits) ([]byte, error)
	Voices(ctx context.Context) ([]tts.VoiceProfile, error)
	CaptureDefaults() capture.Limits
	SampleRate() int
	OutputOpen() bool
}

var _ Speech = (*speech.Service)(nil)

// Server holds the HTTP handlers.
type Server struct {
	svc Speech
}

// New returns a Server backed by svc.
func New(svc Speech) *Server {
	return &Server{svc: svc}
}

// Register adds the speech routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /speak", s.handleSpeak)
	mux.HandleFunc("POST /play", s.handlePlay)
	mux.HandleFunc("POST /generate", s.handleGenerate)
	mux.HandleFunc("POST /open", s.handleOpen)
	mux.HandleFunc("POST /close", s.handleClose)
	mux.HandleFunc("POST /listen", s.handleListen)
	mux.HandleFunc("POST /record", s.handleRecord)
	mux.HandleFunc("GET /voices", s.handleVoices)
}

// Handler returns a mux serving only the speech routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// ---- responses ----

type errorBody struct {
	OK     *bool  `json:"ok,omitempty"`
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
	Path   string `json:"path,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeFailure writes the {"ok":false,"error":code,"detail":...} shape used
// for operational failures.
func writeFailure(w http.ResponseWriter, status int, code string, err error) {
	ok := false
	writeJSON(w, status, errorBody{OK: &ok, Error: code, Detail: err.Error()})
}

// statusFor maps playback and synthesis errors shared by several routes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, speech.ErrEmptyText), errors.Is(err, speech.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, speech.ErrAssetNotFound):
		return http.StatusNotFound
	case errors.Is(err, playback.ErrClosed):
		return http.StatusConflict
	case errors.Is(err, audio.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, context.Canceled):
		// The client went away; the status is never read.
		return 499
	}
	return http.StatusInternalServerError
}

// ---- request bodies ----

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

// textField extracts the text to speak. JSON bodies, whether declared or
// sniffed from a leading '{', contribute their "text" field; anything else
// is taken verbatim.
func textField(r *http.Request, body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	declared := isJSON(r)
	if declared || bytes.HasPrefix(trimmed, []byte("{")) {
		var req struct {
			Text string `json:"text"`
		}
		err := json.Unmarshal(trimmed, &req)
		if err == nil {
			return strings.TrimSpace(req.Text), nil
		}
		if declared {
			return "", fmt.Errorf("invalid json: %w", err)
		}
	}
	return strings.TrimSpace(string(trimmed)), nil
}

type captureRequest struct {
	MaxInitialSilence *json.Number `json:"maxInitialSilence"`
	MaxTailSilence    *json.Number `json:"maxTailSilence"`
}

// captureLimits parses the optional capture body. Missing fields fall back
// to the service defaults; an explicit 0 disables that limit.
func (s *Server) captureLimits(w http.ResponseWriter, r *http.Request) (capture.Limits, error) {
	lim := s.svc.CaptureDefaults()
	body, err := readBody(w, r)
	if err != nil {
		return lim, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return lim, nil
	}
	var req captureRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return lim, err
	}
	if req.MaxInitialSilence != nil {
		if lim.InitialSilence, err = millis(*req.MaxInitialSilence); err != nil {
			return lim, fmt.Errorf("maxInitialSilence: %w", err)
		}
	}
	if req.MaxTailSilence != nil {
		if lim.TailSilence, err = millis(*req.MaxTailSilence); err != nil {
			return lim, fmt.Errorf("maxTailSilence: %w", err)
		}
	}
	return lim, nil
}

func millis(n json.Number) (time.Duration, error) {
	v, err := n.Float64()
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, errors.New("must not be negative")
	}
	ns := v * float64(time.Millisecond)
	if ns >= math.MaxInt64 {
		return 0, errors.New("out of range")
	}
	return time.Duration(ns), nil
}

// ---- handlers ----

type healthResponse struct {
	Status     string `json:"status"`
	SampleRate int    `json:"sample_rate"`
	Output     string `json:"output"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	output := "closed"
	if s.svc.OutputOpen() {
		output = "open"
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", SampleRate: s.svc.SampleRate(), Output: output})
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	text, err := textField(r, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	if err := s.svc.Speak(r.Context(), text); err != nil {
		status := statusFor(err)
		observe.Logger(r.Context()).Warn("api: speak failed", "status", status, "err", err)
		if status == http.StatusConflict {
			writeFailure(w, status, "output_closed", err)
			return
		}
		writeFailure(w, status, "speak_failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := strings.TrimSpace(string(body))
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := s.svc.Play(r.Context(), name); err != nil {
		status := statusFor(err)
		observe.Logger(r.Context()).Warn("api: play failed", "name", name, "status", status, "err", err)
		switch status {
		case http.StatusNotFound:
			body := errorBody{Error: "file not found"}
			var nf *speech.AssetNotFoundError
			if errors.As(err, &nf) {
				body.Path = nf.Path
			}
			writeJSON(w, status, body)
		case http.StatusUnsupportedMediaType:
			writeFailure(w, status, "unsupported_format", err)
		case http.StatusConflict:
			writeFailure(w, status, "output_closed", err)
		default:
			writeFailure(w, status, "play_failed", err)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type generateRequest struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

type generateResponse struct {
	Path string `json:"path"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	path, err := s.svc.Generate(r.Context(), req.Name, req.Text)
	if err != nil {
		status := statusFor(err)
		if status != http.StatusBadRequest {
			status = http.StatusInternalServerError
		}
		observe.Logger(r.Context()).Warn("api: generate failed", "name", req.Name, "err", err)
		writeFailure(w, status, "generate_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{Path: path})
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.Open(r.Context())
	if err != nil {
		code := "stream_open_failed"
		if errors.Is(err, playback.ErrNoDevice) {
			code = "no_output_device"
		}
		observe.Logger(r.Context()).Error("api: open failed", "err", err)
		writeFailure(w, http.StatusInternalServerError, code, err)
		return
	}
	observe.Logger(r.Context()).Debug("api: output open", "status", status.String())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Close(); err != nil {
		observe.Logger(r.Context()).Error("api: close failed", "err", err)
		writeFailure(w, http.StatusInternalServerError, "close_failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	lim, err := s.captureLimits(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid parameters")
		return
	}
	text, err := s.svc.Listen(r.Context(), lim)
	if err != nil {
		observe.Logger(r.Context()).Warn("api: listen failed", "err", err)
		writeFailure(w, http.StatusInternalServerError, "listen_failed", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, text)
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	lim, err := s.captureLimits(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid parameters")
		return
	}
	data, err := s.svc.Record(r.Context(), lim)
	if err != nil {
		observe.Logger(r.Context()).Warn("api: record failed", "err", err)
		writeFailure(w, http.StatusInternalServerError, "record_failed", err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	_, _ = w.Write(data)
}

type voice struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Provider string            `json:"provider,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type voicesResponse struct {
	Voices []voice `json:"voices"`
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.svc.Voices(r.Context())
	switch {
	case errors.Is(err, tts.ErrVoicesUnsupported), errors.Is(err, speech.ErrNoSynthesizer):
		writeFailure(w, http.StatusNotImplemented, "voices_unsupported", err)
		return
	case err != nil:
		observe.Logger(r.Context()).Warn("api: list voices failed", "err", err)
		writeFailure(w, http.StatusBadGateway, "voices_failed", err)
		return
	}
	res := voicesResponse{Voices: make([]voice, len(profiles))}
	for i, p := range profiles {
		res.Voices[i] = voice{ID: p.ID, Name: p.Name, Provider: p.Provider, Metadata: p.Metadata}
	}
	writeJSON(w, http.StatusOK, res)
}
