package comfy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// pushServer runs a websocket endpoint that plays the given script to
// the first connection, then holds the connection open.
func pushServer(t *testing.T, script func(*websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("clientId") == "" {
			t.Error("push channel opened without clientId")
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn)
		// Keep the channel open until the client disconnects.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestTrackCompletion(t *testing.T) {
	host := pushServer(t, func(conn *websocket.Conn) {
		frames := []string{
			`{"type":"status","data":{"status":{"exec_info":{"queue_remaining":1}}}}`,
			`{"type":"progress","data":{"value":0,"max":10}}`,
			`{"type":"progress","data":{"value":5,"max":10}}`,
			`{"type":"executing","data":{"node":"3","prompt_id":"p1"}}`,
			`{"type":"progress","data":{"value":10,"max":10}}`,
			`{"type":"executing","data":{"node":null,"prompt_id":"other"}}`,
			`{"type":"executing","data":{"node":null,"prompt_id":"p1"}}`,
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
	})

	tr := NewTracker(host, "test-client", testLogger())

	var fractions []float64
	outcome := tr.Track(context.Background(), "p1", func(f float64) {
		fractions = append(fractions, f)
	}, 5*time.Second)

	if outcome != Completed {
		t.Fatalf("outcome = %v, want Completed", outcome)
	}

	want := []float64{0, 0.5, 1.0}
	if len(fractions) != len(want) {
		t.Fatalf("fractions = %v, want %v", fractions, want)
	}
	for i := range want {
		if fractions[i] != want[i] {
			t.Errorf("fractions[%d] = %v, want %v", i, fractions[i], want[i])
		}
	}
}

func TestTrackIgnoresBinaryFrames(t *testing.T) {
	host := pushServer(t, func(conn *websocket.Conn) {
		// Preview image frame, then completion.
		conn.WriteMessage(websocket.BinaryMessage, []byte{0x89, 0x50, 0x4e, 0x47})
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"executing","data":{"node":null,"prompt_id":"p1"}}`))
	})

	tr := NewTracker(host, "test-client", testLogger())
	if outcome := tr.Track(context.Background(), "p1", nil, 5*time.Second); outcome != Completed {
		t.Fatalf("outcome = %v, want Completed", outcome)
	}
}

func TestTrackZeroMaxProgress(t *testing.T) {
	host := pushServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"progress","data":{"value":3,"max":0}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"executing","data":{"node":null,"prompt_id":"p1"}}`))
	})

	tr := NewTracker(host, "test-client", testLogger())

	var fractions []float64
	if outcome := tr.Track(context.Background(), "p1", func(f float64) {
		fractions = append(fractions, f)
	}, 5*time.Second); outcome != Completed {
		t.Fatalf("outcome = %v, want Completed", outcome)
	}
	if len(fractions) != 1 || fractions[0] != 0 {
		t.Errorf("fractions = %v, want [0]", fractions)
	}
}

func TestTrackTimeout(t *testing.T) {
	host := pushServer(t, func(conn *websocket.Conn) {
		// Silence: never send a frame.
	})

	tr := NewTracker(host, "test-client", testLogger())
	start := time.Now()
	outcome := tr.Track(context.Background(), "p1", nil, 100*time.Millisecond)
	if outcome != TimedOut {
		t.Fatalf("outcome = %v, want TimedOut", outcome)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}

func TestTrackConnectionError(t *testing.T) {
	t.Run("unreachable host", func(t *testing.T) {
		tr := NewTracker("127.0.0.1:1", "test-client", testLogger())
		if outcome := tr.Track(context.Background(), "p1", nil, time.Second); outcome != ConnectionError {
			t.Fatalf("outcome = %v, want ConnectionError", outcome)
		}
	})

	t.Run("server drops the channel", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			conn.Close()
		}))
		t.Cleanup(srv.Close)

		tr := NewTracker(strings.TrimPrefix(srv.URL, "http://"), "test-client", testLogger())
		if outcome := tr.Track(context.Background(), "p1", nil, 5*time.Second); outcome != ConnectionError {
			t.Fatalf("outcome = %v, want ConnectionError", outcome)
		}
	})

	t.Run("context cancellation closes the channel", func(t *testing.T) {
		host := pushServer(t, func(conn *websocket.Conn) {})

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		tr := NewTracker(host, "test-client", testLogger())
		if outcome := tr.Track(ctx, "p1", nil, 30*time.Second); outcome != ConnectionError {
			t.Fatalf("outcome = %v, want ConnectionError", outcome)
		}
	})
}
