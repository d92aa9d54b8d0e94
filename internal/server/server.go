// Package server exposes the relay over HTTP. Successful answers are the
// upstream event stream passed through unmodified; failures are decided
// before the first byte and answered with a JSON error body.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/iamvkosarev/replica-relay/config"
	"github.com/iamvkosarev/replica-relay/internal/model"
	"github.com/iamvkosarev/replica-relay/internal/usecase"
	"golang.org/x/sync/errgroup"
)

const copyBufferSize = 4 * 1024

type Relay interface {
	Dispatch(ctx context.Context, req model.RelayRequest) (*usecase.Stream, error)
	DispatchAssistant(ctx context.Context, conversation []model.Message) (*usecase.Stream, error)
}

type Server struct {
	cfg        config.HTTP
	assistant  config.Assistant
	relay      Relay
	logger     *slog.Logger
	httpServer *http.Server
}

func NewServer(cfg config.HTTP, assistant config.Assistant, relay Relay, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		assistant: assistant,
		relay:     relay,
		logger:    logger,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /functions/v1/chat-replica", s.handleChat)
	if s.assistant.Enabled {
		mux.HandleFunc("POST /chat/assistant", s.handleAssistant)
		mux.HandleFunc("POST /functions/v1/chat-reli-agent", s.handleAssistant)
	}
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return Chain(
		Recovery(s.logger),
		Logging(s.logger),
		CORS(),
		RateLimit(s.cfg, s.logger),
	)(mux)
}

// Run serves until ctx is done and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(
		func() error {
			s.logger.Info("relay listening", slog.String("addr", s.cfg.Addr))
			if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("failed to serve http: %w", err)
			}
			return nil
		},
	)
	g.Go(
		func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
			defer cancel()
			s.logger.Info("relay shutting down")
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shutdown http server: %w", err)
			}
			return nil
		},
	)
	return g.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeRequest(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	stream, err := s.relay.Dispatch(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.InfoContext(
		r.Context(), "relaying persona stream",
		slog.String("persona", req.PersonaID),
		slog.String("model", stream.Model),
		slog.Int("messages", len(req.Conversation)),
		slog.Int("trimmed", stream.Trimmed),
	)
	s.pipe(w, r, stream)
}

func (s *Server) handleAssistant(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeRequest(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	stream, err := s.relay.DispatchAssistant(r.Context(), req.Conversation)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.InfoContext(
		r.Context(), "relaying assistant stream",
		slog.String("model", stream.Model),
		slog.Int("messages", len(req.Conversation)),
	)
	s.pipe(w, r, stream)
}

func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (model.RelayRequest, error) {
	var req model.RelayRequest
	body := io.Reader(r.Body)
	if s.cfg.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	}
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return model.RelayRequest{}, errBodyTooLarge
		}
		return model.RelayRequest{}, fmt.Errorf("%w: %w", errMalformedRequest, err)
	}
	return req, nil
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, text := errorStatus(err)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "relay request failed", slog.Int("status", status), slog.String("error", err.Error()))
	writeError(w, r, status, text)
}

// pipe copies the upstream body to the caller and flushes after every read.
// A caller disconnect cancels the request context, which aborts the
// upstream read.
func (s *Server) pipe(w http.ResponseWriter, r *http.Request, stream *usecase.Stream) {
	defer stream.Body.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.Flush()

	buf := make([]byte, copyBufferSize)
	for {
		n, err := stream.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				s.logger.InfoContext(r.Context(), "caller went away", slog.String("error", werr.Error()))
				return
			}
			if ferr := rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
				s.logger.InfoContext(r.Context(), "failed to flush stream", slog.String("error", ferr.Error()))
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && r.Context().Err() == nil {
				s.logger.WarnContext(r.Context(), "upstream stream interrupted", slog.String("error", err.Error()))
			}
			return
		}
	}
}
