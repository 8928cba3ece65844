package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teilomillet/quill/errors"
	"github.com/teilomillet/quill/server/metrics"
	"github.com/teilomillet/quill/server/transform"
	"github.com/teilomillet/quill/server/validation"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamOutBuffer    = 32
)

// StreamResult is a server frame. Results are sent as their futures resolve,
// so they may arrive in a different order than the requests.
type StreamResult struct {
	ID string `json:"id"`
	transform.Result
	Error *errors.QuillError `json:"error,omitempty"`
}

// StreamHandler serves GET /v1/stream, an asynchronous transformation
// channel over a websocket.
type StreamHandler struct {
	orch    *transform.Orchestrator
	metrics *metrics.Metrics
	logger  *zap.Logger
	accept  *websocket.AcceptOptions
}

// NewStreamHandler creates a stream handler. originPatterns lists extra
// hosts allowed to open cross-origin connections. m may be nil.
func NewStreamHandler(orch *transform.Orchestrator, m *metrics.Metrics, logger *zap.Logger, originPatterns []string) *StreamHandler {
	return &StreamHandler{
		orch:    orch,
		metrics: m,
		logger:  logger,
		accept:  &websocket.AcceptOptions{OriginPatterns: originPatterns},
	}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)

	// Server read and write timeouts would otherwise cut long-lived streams.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	c, err := websocket.Accept(w, r, h.accept)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.String("request_id", reqID), zap.Error(err))
		return
	}
	defer c.CloseNow()
	c.SetReadLimit(validation.MaxBodyBytes)

	if h.metrics != nil {
		h.metrics.StreamConnections.Inc()
		defer h.metrics.StreamConnections.Dec()
	}
	h.logger.Debug("stream opened", zap.String("request_id", reqID))

	out := make(chan StreamResult, streamOutBuffer)
	g, ctx := errgroup.WithContext(r.Context())
	ctx, cancel := context.WithCancel(ctx)

	g.Go(func() error {
		for res := range out {
			wctx, wcancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := wsjson.Write(wctx, c, res)
			wcancel()
			if err != nil {
				cancel()
				return err
			}
		}
		return nil
	})

	var pending sync.WaitGroup
	send := func(res StreamResult) {
		select {
		case out <- res:
		case <-ctx.Done():
		}
	}

	readErr := h.readLoop(ctx, c, reqID, send, &pending)

	cancel()
	pending.Wait()
	close(out)
	writeErr := g.Wait()

	switch websocket.CloseStatus(readErr) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		h.logger.Debug("stream closed by client", zap.String("request_id", reqID))
	default:
		if writeErr != nil {
			readErr = writeErr
		}
		if !stderrors.Is(readErr, context.Canceled) {
			h.logger.Debug("stream ended", zap.String("request_id", reqID), zap.Error(readErr))
		}
	}
	c.Close(websocket.StatusNormalClosure, "")
}

// readLoop reads client frames until the connection fails. Each valid
// frame is queued and answered when its future resolves.
func (h *StreamHandler) readLoop(ctx context.Context, c *websocket.Conn, reqID string, send func(StreamResult), pending *sync.WaitGroup) error {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			return err
		}

		var frame validation.StreamFrame
		if typ != websocket.MessageText {
			send(errorFrame("", errors.NewValidationError(reqID, "frames must be JSON text", nil)))
			continue
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			send(errorFrame("", errors.NewValidationError(reqID, "Invalid request format",
				map[string]interface{}{"error": err.Error()})))
			continue
		}
		if frame.ID == "" {
			frame.ID = uuid.New().String()
		}
		if qerr := validation.Check(reqID, &frame); qerr != nil {
			send(errorFrame(frame.ID, qerr))
			continue
		}

		future, err := h.orch.TransformByName(frame.Identity, frame.Message, frame.Filter)
		if err != nil {
			send(errorFrame(frame.ID, lookupError(reqID, err)))
			continue
		}

		pending.Add(1)
		id := frame.ID
		future.Then(func(res transform.Result) {
			defer pending.Done()
			send(StreamResult{ID: id, Result: res})
		})
	}
}

func errorFrame(id string, err *errors.QuillError) StreamResult {
	return StreamResult{
		ID:     id,
		Result: transform.Result{Outcome: transform.OutcomeFailed, Cause: err.Type},
		Error:  err,
	}
}
