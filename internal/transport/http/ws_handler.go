package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"regexp"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/flopchat-server/internal/auth"
	"github.com/vovakirdan/flopchat-server/internal/config"
	"github.com/vovakirdan/flopchat-server/internal/core"
	"github.com/vovakirdan/flopchat-server/internal/relay"
	"github.com/vovakirdan/flopchat-server/internal/session"
)

var roomPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// WSHandler upgrades HTTP connections and bridges them to a session.
type WSHandler struct {
	handler   relay.Handler
	registry  session.Membership
	validator auth.Validator
	cfg       config.WSConfig
	log       *zerolog.Logger
	metrics   *core.Metrics
}

// NewWSHandler builds a WebSocket handler for one relay channel.
func NewWSHandler(handler relay.Handler, deps Deps) *WSHandler {
	return &WSHandler{
		handler:   handler,
		registry:  deps.Registry,
		validator: deps.Validator,
		cfg:       deps.Config.WS,
		log:       deps.Logger,
		metrics:   deps.Metrics,
	}
}

// ServeHTTP validates the optional room path value and upgrades the request.
func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	room := r.PathValue("room")
	if room != "" && !roomPattern.MatchString(room) {
		writeJSON(w, stdhttp.StatusBadRequest, ErrorResponse{Error: "invalid room name"})
		return
	}

	start := time.Now()
	h.serve(w, r, room, TokenFromRequest(r))
	h.log.Info().
		Str("path", r.URL.Path).
		Str("channel", h.handler.Channel()).
		Dur("duration", time.Since(start)).
		Msg("ws request")
}

func writeJSON(w stdhttp.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *WSHandler) serve(w stdhttp.ResponseWriter, r *stdhttp.Request, room, token string) {
	opts := &websocket.AcceptOptions{OriginPatterns: h.cfg.AllowedOrigins}
	if len(h.cfg.AllowedOrigins) == 0 {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	sess := session.New(session.Options{
		ID:          uuid.NewString(),
		Room:        room,
		SendBuffer:  h.cfg.SendBuffer,
		Handler:     h.handler,
		Validator:   h.validator,
		Registry:    h.registry,
		Logger:      h.log,
		Metrics:     h.metrics,
		QuietErrors: !h.cfg.ErrorReplies,
	})
	if err := sess.Open(r.Context(), token); err != nil {
		conn.Close(websocket.StatusPolicyViolation, "authentication required")
		return
	}
	defer sess.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	limiter := newRateLimiter(h.cfg.RateLimit, time.Minute)
	limiter.startReset(ctx.Done())

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, sess, limiter)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, sess)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	// Closing the session releases a dispatch waiting on a full send queue.
	sess.Close()
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = "connection error"
			h.log.Warn().Err(err).Str("user", sess.Identity()).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session, limiter *rateLimiter) error {
	// Frames already read are handled to completion even if the peer leaves.
	dispatchCtx := context.WithoutCancel(ctx)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if !limiter.allow() {
			h.metrics.FrameRejected(core.ErrCodeRateLimited)
			if h.cfg.ErrorReplies {
				sess.Emit(relay.ErrorFrame(core.ErrCodeRateLimited, "too many frames"))
			}
			continue
		}
		if err := sess.Dispatch(dispatchCtx, data); err != nil {
			return err
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session) error {
	outbound := sess.Outbound()
	for {
		select {
		case frame := <-outbound:
			if err := h.write(ctx, conn, frame); err != nil {
				h.log.Error().Err(err).Str("user", sess.Identity()).Msg("write ws frame")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) write(ctx context.Context, conn *websocket.Conn, v any) error {
	if h.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.WriteTimeout)
		defer cancel()
	}
	return wsjson.Write(ctx, conn, v)
}
