package comfy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/comfystudio/orchestrator/pkg/types"
)

// Outcome is the terminal state of one tracking attempt. The tracker
// never returns an error past its boundary; the orchestrator decides
// how to surface each outcome.
type Outcome int

const (
	Completed Outcome = iota
	TimedOut
	ConnectionError
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	default:
		return "connection_error"
	}
}

// Tracker consumes the backend's push channel for a single job and
// reports progress until terminal completion.
type Tracker struct {
	host     string
	clientID string
	dialer   *websocket.Dialer
	logger   *slog.Logger
}

// NewTracker creates a tracker for the given backend host and push
// channel client id. The client id must match the one prompts are
// queued with, or the backend will not scope events to this channel.
func NewTracker(host, clientID string, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		host:     host,
		clientID: clientID,
		dialer:   websocket.DefaultDialer,
		logger:   logger,
	}
}

// Track opens the push channel and listens until the job identified by
// promptID reaches terminal completion, no event arrives for longer
// than timeout, or the channel fails. Each progress frame invokes
// onProgress with a fraction in [0,1], in arrival order.
//
// The connection is closed on every exit path. Cancelling ctx closes
// it as well, which surfaces as ConnectionError.
func (t *Tracker) Track(ctx context.Context, promptID string, onProgress func(float64), timeout time.Duration) Outcome {
	u := url.URL{Scheme: "ws", Host: t.host, Path: "/ws", RawQuery: "clientId=" + url.QueryEscape(t.clientID)}

	conn, _, err := t.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		t.logger.Error("push channel dial failed", "error", err, slog.String("prompt_id", promptID))
		return ConnectionError
	}
	defer conn.Close()

	// Close the connection when the caller gives up so the blocked
	// read below returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			t.logger.Error("push channel deadline failed", "error", err)
			return ConnectionError
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() && ctx.Err() == nil {
				t.logger.Warn("push channel timed out",
					slog.String("prompt_id", promptID),
					slog.Duration("timeout", timeout),
				)
				return TimedOut
			}
			t.logger.Error("push channel read failed", "error", err, slog.String("prompt_id", promptID))
			return ConnectionError
		}

		// Binary frames carry preview images; only text frames are events.
		if msgType != websocket.TextMessage {
			continue
		}

		var evt types.PushEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			t.logger.Debug("ignoring malformed push frame", "error", err)
			continue
		}

		switch evt.Type {
		case types.PushEventProgress:
			var pd types.ProgressData
			if err := json.Unmarshal(evt.Data, &pd); err != nil {
				continue
			}
			if onProgress != nil {
				onProgress(pd.Fraction())
			}

		case types.PushEventExecuting:
			var ed types.ExecutingData
			if err := json.Unmarshal(evt.Data, &ed); err != nil {
				continue
			}
			// A null active node for our prompt id means nothing is
			// executing anymore: the job is done.
			if ed.Node == nil && ed.PromptID == promptID {
				return Completed
			}

		default:
			// status, execution_cached, executed... all ignored.
		}
	}
}
