package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"ecolearn-gamification/internal/app"
	"ecolearn-gamification/internal/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type WSHandler struct {
	service    *app.SubmissionService
	streamSize int
	log        *zap.Logger
	upgrader   websocket.Upgrader
}

func NewWSHandler(service *app.SubmissionService, streamSize int, log *zap.Logger) *WSHandler {
	if streamSize <= 0 {
		streamSize = 10
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHandler{
		service:    service,
		streamSize: streamSize,
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type submitPayload struct {
	Kind           domain.ActivityKind `json:"kind"`
	ActivityID     string              `json:"activityId"`
	Answers        [][]string          `json:"answers,omitempty"`
	Proof          string              `json:"proof,omitempty"`
	IdempotencyKey string              `json:"idempotencyKey,omitempty"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// ServeWS streams the top of the leaderboard to an authenticated client.
// Clients may also submit activities over the same connection; each result
// is answered with a submissionResult message.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		writeError(w, r, &domain.AuthError{Reason: domain.AuthInvalidToken})
		return
	}
	top := h.streamSize
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "top must be a positive integer", http.StatusBadRequest)
			return
		}
		top = n
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, cancel := h.service.SubscribeLeaderboard(top)
	defer cancel()

	out := newOutbox(16)
	closeSignals := make(chan struct{})
	updatesDone := make(chan struct{})

	// single writer: gorilla connections do not support concurrent writes
	go out.run(func(msg outboundMessage[any]) error {
		err := conn.WriteJSON(msg)
		if err != nil {
			h.log.Debug("ws write failed", zap.String("user_id", userID), zap.Error(err))
		}
		return err
	})

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok || !out.push(outboundMessage[any]{Type: "leaderboard", Payload: update}) {
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if !out.push(h.handleInbound(r, userID, inbound)) {
			break
		}
	}

	close(closeSignals)
	<-updatesDone
	out.close()
}

func (h *WSHandler) handleInbound(r *http.Request, userID string, inbound inboundMessage) outboundMessage[any] {
	if inbound.Type != "submit" {
		return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
	}
	var payload submitPayload
	if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
		return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid submit payload"}}
	}
	res, err := h.service.Submit(r.Context(), domain.Submission{
		UserID:         userID,
		Kind:           payload.Kind,
		ActivityID:     payload.ActivityID,
		Answers:        payload.Answers,
		Proof:          payload.Proof,
		IdempotencyKey: payload.IdempotencyKey,
	})
	if err != nil {
		return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error(), Retryable: domain.IsRetryable(err)}}
	}
	return outboundMessage[any]{Type: "submissionResult", Payload: res}
}

// outbox queues messages for the connection's writer goroutine.
type outbox struct {
	msgs chan outboundMessage[any]
	done chan struct{} // closed once the writer stopped
}

func newOutbox(size int) *outbox {
	return &outbox{msgs: make(chan outboundMessage[any], size), done: make(chan struct{})}
}

// run writes queued messages until the queue is closed or a write fails.
func (o *outbox) run(write func(outboundMessage[any]) error) {
	defer close(o.done)
	for msg := range o.msgs {
		if err := write(msg); err != nil {
			return
		}
	}
}

// push queues msg. It reports false without blocking once the writer stopped.
func (o *outbox) push(msg outboundMessage[any]) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case o.msgs <- msg:
		return true
	case <-o.done:
		return false
	}
}

// close ends the queue and waits for the writer. No push may follow.
func (o *outbox) close() {
	close(o.msgs)
	<-o.done
}
