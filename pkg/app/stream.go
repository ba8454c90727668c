package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mholloway/tideline/pkg/config"
	"github.com/mholloway/tideline/pkg/timeline"
	"github.com/mholloway/tideline/pkg/util"
)

const (
	StreamBufferSize = 256

	// Retry delay starts at the base and grows by a fixed increment on
	// each consecutive failure, unbounded. It resets to the base only
	// on a successful subscribe.
	backoffBase      = 10 * time.Second
	backoffIncrement = 30 * time.Second
)

// MessageKind discriminates what the stream client hands the session.
type MessageKind int

const (
	// MessageEvent carries a timeline event.
	MessageEvent MessageKind = iota

	// MessageResubscribed signals that the connection dropped and the
	// feed's subscription was re-issued. The stream never replays, so
	// the session must run a head-contiguity refresh to cover the
	// outage window.
	MessageResubscribed
)

// StreamMessage is one demultiplexed message for a single feed.
type StreamMessage struct {
	Feed  string
	Kind  MessageKind
	Event timeline.StreamEvent
}

// streamEnvelope is the loosely-typed wire frame. The event tag is a
// string; it is mapped onto the closed timeline.StreamEvent union
// before anything downstream sees it.
type streamEnvelope struct {
	Stream  []string `json:"stream"`
	Event   string   `json:"event"`
	Payload string   `json:"payload"`
}

// StreamClient maintains one websocket carrying every subscribed feed,
// multiplexed by the envelope's stream field. It reconnects forever
// while its context is live; there is no terminal give-up state.
type StreamClient struct {
	url    string
	token  string
	feeds  []string
	dialer *websocket.Dialer
	events chan StreamMessage
}

func NewStreamClient(cfg config.Config, feeds []string) *StreamClient {
	return &StreamClient{
		url:    cfg.StreamURL,
		token:  cfg.AccessToken,
		feeds:  feeds,
		dialer: websocket.DefaultDialer,
		events: make(chan StreamMessage, StreamBufferSize),
	}
}

// Events delivers typed messages until Run returns, then is closed.
func (c *StreamClient) Events() <-chan StreamMessage {
	return c.events
}

// Run owns the connect/subscribe/read/retry lifecycle. It returns only
// when ctx is cancelled; no message is delivered after cancellation.
func (c *StreamClient) Run(ctx context.Context) {
	defer close(c.events)

	failures := 0
	connectedBefore := false

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn(util.WrapErr("failed to connect to stream", err).Error(), "retry_in", retryDelay(failures))
			if !sleep(ctx, retryDelay(failures)) {
				return
			}
			failures++
			continue
		}

		// Subscribed: reset the backoff schedule.
		failures = 0
		slog.Info("stream subscribed", "feeds", c.feeds)

		if connectedBefore {
			for _, feed := range c.feeds {
				if !c.emit(ctx, StreamMessage{Feed: feed, Kind: MessageResubscribed}) {
					conn.Close()
					return
				}
			}
		}
		connectedBefore = true

		c.read(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		slog.Warn("stream connection lost", "retry_in", retryDelay(failures))
		if !sleep(ctx, retryDelay(failures)) {
			return
		}
		failures++
	}
}

// connect dials the streaming endpoint and re-issues a subscribe frame
// for every active feed.
func (c *StreamClient) connect(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return nil, util.WrapErr("failed to dial stream", err)
	}

	for _, feed := range c.feeds {
		frame := map[string]string{"type": "subscribe", "stream": feed}
		if err := conn.WriteJSON(frame); err != nil {
			conn.Close()
			return nil, util.WrapErr("failed to subscribe", err)
		}
	}

	return conn, nil
}

// read pumps frames until the transport fails or ctx is cancelled. A
// frame that fails to parse is logged and dropped; one bad message
// never tears down the connection.
func (c *StreamClient) read(ctx context.Context, conn *websocket.Conn) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close() // unblocks ReadMessage
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return // transport failure; caller retries
		}

		var envelope streamEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			slog.Warn(util.WrapErr("failed to parse stream frame", err).Error())
			continue
		}

		message, err := parseStreamMessage(envelope)
		if err != nil {
			if !errors.Is(err, errIgnoredEvent) {
				slog.Warn(util.WrapErr("failed to parse stream event", err).Error(), "event", envelope.Event)
			}
			continue
		}

		if !c.emit(ctx, message) {
			return
		}
	}
}

// emit delivers a message unless the context is done. Returning false
// means shutdown; the caller must stop reading.
func (c *StreamClient) emit(ctx context.Context, message StreamMessage) bool {
	select {
	case c.events <- message:
		return true
	case <-ctx.Done():
		return false
	}
}

var errIgnoredEvent = errors.New("ignored event type")

// parseStreamMessage maps the string-tagged envelope onto the typed
// event union.
func parseStreamMessage(envelope streamEnvelope) (StreamMessage, error) {
	feed := ""
	if len(envelope.Stream) > 0 {
		feed = envelope.Stream[0]
	}

	switch envelope.Event {
	case "update":
		var status apiStatus
		if err := json.Unmarshal([]byte(envelope.Payload), &status); err != nil {
			return StreamMessage{}, util.WrapErr("failed to parse update payload", err)
		}
		if status.ID == "" {
			return StreamMessage{}, errors.New("update payload missing id")
		}
		return StreamMessage{
			Feed:  feed,
			Kind:  MessageEvent,
			Event: timeline.StreamEvent{Kind: timeline.KindInsert, Entry: status.entry()},
		}, nil

	case "delete":
		if envelope.Payload == "" {
			return StreamMessage{}, errors.New("delete payload missing id")
		}
		return StreamMessage{
			Feed:  feed,
			Kind:  MessageEvent,
			Event: timeline.StreamEvent{Kind: timeline.KindDelete, ID: envelope.Payload},
		}, nil

	case "status.update":
		var status apiStatus
		if err := json.Unmarshal([]byte(envelope.Payload), &status); err != nil {
			return StreamMessage{}, util.WrapErr("failed to parse edit payload", err)
		}
		if status.ID == "" {
			return StreamMessage{}, errors.New("edit payload missing id")
		}
		entry := status.entry()
		return StreamMessage{
			Feed: feed,
			Kind: MessageEvent,
			Event: timeline.StreamEvent{
				Kind:    timeline.KindEdit,
				ID:      entry.ID,
				Payload: entry.Payload,
				Version: entry.Version,
			},
		}, nil

	default:
		// Notifications, announcements, and whatever servers add next.
		return StreamMessage{}, errIgnoredEvent
	}
}

func retryDelay(failures int) time.Duration {
	return backoffBase + backoffIncrement*time.Duration(failures)
}

// sleep waits for d, returning false if ctx was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
