package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gap-scanner/internal/model"
)

const defaultStreamURL = "wss://socket.polygon.io/stocks"

// Stream reconnect policy: 5s * 2^(attempt-1), give up after 10 attempts.
const (
	reconnectBaseDelay   = 5 * time.Second
	maxReconnectAttempts = 10
)

// AMBar is a minute-aggregate event from the stream.
type AMBar struct {
	Ev     string  `json:"ev"`
	Sym    string  `json:"sym"`
	S      int64   `json:"s"` // bucket start, epoch ms
	E      int64   `json:"e"` // bucket end, epoch ms
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume int64   `json:"v"`
	AccVol int64   `json:"av"`
}

// Candle converts the wire bar into the internal model.
func (b *AMBar) Candle() model.Candle {
	return model.Candle{
		Symbol: b.Sym,
		TS:     time.UnixMilli(b.S).UTC(),
		Open:   b.Open,
		High:   b.High,
		Low:    b.Low,
		Close:  b.Close,
		Volume: b.Volume,
	}
}

// StatusEvent is a control-plane event from the stream.
type StatusEvent struct {
	Ev      string `json:"ev"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type wireFrame struct {
	Action string `json:"action"`
	Params string `json:"params"`
}

// Stream maintains the minute-aggregate WebSocket connection. Symbols can be
// swapped while connected; the desired set is re-subscribed after reconnects.
type Stream struct {
	url       string
	apiKey    string
	baseDelay time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
	subs map[string]bool

	// Callbacks. Set before Start; OnBar runs on the read-loop goroutine.
	OnBar       func(model.Candle)
	OnStatus    func(StatusEvent)
	OnReconnect func()

	log *slog.Logger
}

// NewStream creates a stream client for the given API key.
func NewStream(apiKey string) (*Stream, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	return &Stream{
		url:       defaultStreamURL,
		apiKey:    apiKey,
		baseDelay: reconnectBaseDelay,
		subs:      make(map[string]bool),
		log:       slog.Default().With("component", "stream"),
	}, nil
}

// SetURL overrides the stream endpoint (tests).
func (s *Stream) SetURL(u string) { s.url = u }

// SetSubscriptions replaces the desired symbol set, issuing subscribe and
// unsubscribe frames for the difference when connected.
func (s *Stream) SetSubscriptions(symbols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		next[sym] = true
	}

	var added, removed []string
	for sym := range next {
		if !s.subs[sym] {
			added = append(added, sym)
		}
	}
	for sym := range s.subs {
		if !next[sym] {
			removed = append(removed, sym)
		}
	}
	s.subs = next

	if s.conn == nil {
		return nil // applied on next (re)connect
	}
	if len(removed) > 0 {
		if err := s.writeFrame("unsubscribe", removed); err != nil {
			return err
		}
	}
	if len(added) > 0 {
		return s.writeFrame("subscribe", added)
	}
	return nil
}

// Symbols returns the current desired subscription set.
func (s *Stream) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subs))
	for sym := range s.subs {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Run connects and reads until ctx is cancelled, reconnecting with
// exponential backoff. The backoff ladder is per outage: any session that
// makes it past the handshake resets it, so only consecutive failed
// connections count toward the fatal budget. Returns an error only after the
// reconnect budget is exhausted (fatal) or nil on clean shutdown.
func (s *Stream) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		connected, err := s.runOnce(ctx)
		if err == nil {
			return nil // ctx cancelled cleanly
		}
		if connected {
			attempt = 0
		}

		attempt++
		if attempt >= maxReconnectAttempts {
			return fmt.Errorf("stream: giving up after %d reconnect attempts: %w", attempt, err)
		}
		delay := s.baseDelay << (attempt - 1)
		s.log.Warn("stream disconnected", "err", err, "attempt", attempt, "retry_in", delay)
		if s.OnReconnect != nil {
			s.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// runOnce performs one connect/auth/subscribe/read cycle. A nil error means
// ctx was cancelled; any error means the connection dropped. connected
// reports whether the handshake completed before the drop.
func (s *Stream) runOnce(ctx context.Context) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Close the socket when ctx is cancelled so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-done:
		}
	}()

	s.mu.Lock()
	s.conn = conn
	err = s.writeFrameLocked(conn, wireFrame{Action: "auth", Params: s.apiKey})
	if err == nil && len(s.subs) > 0 {
		var syms []string
		for sym := range s.subs {
			syms = append(syms, sym)
		}
		err = s.writeFrame("subscribe", syms)
	}
	s.mu.Unlock()
	if err != nil {
		return false, fmt.Errorf("handshake: %w", err)
	}
	s.log.Info("stream connected", "symbols", len(s.subs))

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			s.conn = nil
			s.mu.Unlock()
			if ctx.Err() != nil {
				return true, nil
			}
			return true, fmt.Errorf("read: %w", err)
		}
		s.handlePayload(payload)
	}
}

// handlePayload decodes one wire message. Messages arrive as JSON arrays of
// heterogeneous events.
func (s *Stream) handlePayload(payload []byte) {
	var raw []json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		s.log.Warn("undecodable stream payload", "err", err)
		return
	}
	for _, msg := range raw {
		var head struct {
			Ev string `json:"ev"`
		}
		if err := json.Unmarshal(msg, &head); err != nil {
			continue
		}
		switch head.Ev {
		case "AM":
			var bar AMBar
			if err := json.Unmarshal(msg, &bar); err != nil {
				s.log.Warn("bad AM event", "err", err)
				continue
			}
			if s.OnBar != nil {
				s.OnBar(bar.Candle())
			}
		case "status":
			var st StatusEvent
			if err := json.Unmarshal(msg, &st); err != nil {
				continue
			}
			if st.Status == "auth_failed" {
				s.log.Error("stream auth failed", "message", st.Message)
			}
			if s.OnStatus != nil {
				s.OnStatus(st)
			}
		}
	}
}

// writeFrame sends a subscribe/unsubscribe frame for the given symbols.
// Caller must hold s.mu.
func (s *Stream) writeFrame(action string, symbols []string) error {
	if s.conn == nil {
		return nil
	}
	params := make([]string, len(symbols))
	for i, sym := range symbols {
		params[i] = "AM." + sym
	}
	sort.Strings(params)
	return s.writeFrameLocked(s.conn, wireFrame{Action: action, Params: strings.Join(params, ",")})
}

func (s *Stream) writeFrameLocked(conn *websocket.Conn, f wireFrame) error {
	b, _ := json.Marshal(f)
	return conn.WriteMessage(websocket.TextMessage, b)
}
