package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/graphlocal/graphlocal/chatgraph"
	"github.com/graphlocal/graphlocal/checkpoint"
	"github.com/graphlocal/graphlocal/config"
	"github.com/graphlocal/graphlocal/log"
)

// Registry is what the server needs from the graph repository.
type Registry interface {
	Streamer
	List() []string
}

// Options configures New.
type Options struct {
	Registry     Registry
	Checkpoints  checkpoint.Store // optional; enables GET /threads/{thread_id}
	DefaultGraph string
	Logger       log.Logger
}

// Server serves the chat API.
type Server struct {
	registry     Registry
	checkpoints  checkpoint.Store
	service      *ChatService
	validator    *RequestValidator
	defaultGraph string
	logger       log.Logger
}

// New creates a server.
func New(opts Options) (*Server, error) {
	if opts.Registry == nil {
		return nil, errors.New("server: registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NoOpLogger{}
	}
	defaultGraph := opts.DefaultGraph
	if defaultGraph == "" {
		defaultGraph = config.DefaultGraphName
	}

	validator, err := NewRequestValidator()
	if err != nil {
		return nil, err
	}

	return &Server{
		registry:     opts.Registry,
		checkpoints:  opts.Checkpoints,
		service:      NewChatService(opts.Registry, logger),
		validator:    validator,
		defaultGraph: defaultGraph,
		logger:       logger,
	}, nil
}

// Handler returns the routed, recovering HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /graphs/{name}/chat", s.handleChat)
	mux.HandleFunc("GET /graphs", s.handleGraphs)
	mux.HandleFunc("GET /threads/{thread_id}", s.handleThread)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /schema/chat", s.handleSchema)
	return s.recoverer(mux)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	graphName := r.PathValue("name")
	if graphName == "" {
		graphName = r.URL.Query().Get("graph_name")
	}
	if graphName == "" {
		graphName = s.defaultGraph
	}

	req, err := s.validator.Decode(r.Body)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			s.sendJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": ve.Fields})
			return
		}
		s.sendDetail(w, http.StatusInternalServerError, "internal server error: "+err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendDetail(w, http.StatusInternalServerError, "internal server error: streaming unsupported")
		return
	}

	threadID, frames := s.service.Start(r.Context(), req, graphName)
	s.logger.Info("chat: graph=%s thread=%s", graphName, threadID)

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Thread-Id", threadID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for frame := range frames {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
			s.logger.Debug("chat: client for thread %s went away: %v", threadID, err)
			return
		}
		flusher.Flush()
	}
}

func (s *Server) handleGraphs(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]any{
		"graphs":  s.registry.List(),
		"default": s.defaultGraph,
	})
}

func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	if s.checkpoints == nil {
		s.sendDetail(w, http.StatusNotImplemented, "checkpointing is disabled")
		return
	}

	threadID := r.PathValue("thread_id")
	cp, err := s.checkpoints.Latest(r.Context(), threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		s.sendDetail(w, http.StatusNotFound, fmt.Sprintf("thread %q not found", threadID))
		return
	}
	if err != nil {
		s.logger.Error("thread %s: %v", threadID, err)
		s.sendDetail(w, http.StatusInternalServerError, "internal server error: "+err.Error())
		return
	}

	state, err := chatgraph.DecodeState(cp.State)
	if err != nil {
		s.sendDetail(w, http.StatusInternalServerError, "internal server error: "+err.Error())
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]any{
		"thread_id":     threadID,
		"checkpoint_id": cp.ID,
		"node":          cp.NodeName,
		"version":       cp.Version,
		"timestamp":     cp.Timestamp,
		"state":         ToJSONable(state),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/schema+json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(s.validator.Schema()); err != nil {
		s.logger.Debug("failed to write schema: %v", err)
	}
}

// recoverer maps panics to 500 while the response has not started, and
// logs each request.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				s.logger.Error("%s %s panicked: %v", r.Method, r.URL.Path, p)
				if !rec.wroteHeader {
					s.sendDetail(rec, http.StatusInternalServerError, fmt.Sprintf("internal server error: %v", p))
				}
			}
			s.logger.Debug("%s %s -> %d (%s)", r.Method, r.URL.Path, rec.status, time.Since(start))
		}()

		next.ServeHTTP(rec, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		r.wroteHeader = true
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("failed to write %d response: %v", status, err)
	}
}

func (s *Server) sendDetail(w http.ResponseWriter, status int, detail string) {
	s.sendJSON(w, status, map[string]any{"detail": detail})
}
