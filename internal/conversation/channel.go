package conversation

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/fluentprep/speaking-gateway/internal/config"
	"github.com/fluentprep/speaking-gateway/internal/resilience"
)

// Channel is the streaming examiner conversation: directives go out, examiner
// turn notifications and candidate transcripts come back as Events.
type Channel interface {
	Connect(ctx context.Context) error
	Disconnect() error
	SendText(directive string) error
	StartListening() error
	StopListening() error
	SendAudio(pcm []byte) error
	Events() <-chan Event
}

// directiveMessage is the outbound frame instructing the examiner's next turn.
type directiveMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// serverMessage is an inbound frame from the conversation endpoint.
type serverMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

// LiveChannel is the production Channel: a WebSocket to the hosted
// conversation endpoint for examiner turns, plus a Deepgram transcriber for
// candidate audio while listening. Dropped connections are redialed with
// backoff; consumers see a disconnected/connected event pair.
type LiveChannel struct {
	cfg         *config.Config
	transcriber *Transcriber
	events      chan Event
	logger      zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	listening bool
	ctx       context.Context
	cancel    context.CancelFunc

	writeMu sync.Mutex
}

func NewLiveChannel(cfg *config.Config, logger zerolog.Logger) *LiveChannel {
	ch := &LiveChannel{
		cfg:    cfg,
		events: make(chan Event, 100),
		logger: logger.With().Str("component", "conversation").Logger(),
	}
	ch.transcriber = NewTranscriber(cfg, ch.emitTranscript, logger)
	return ch
}

// Connect dials the conversation endpoint. Failure here is fatal to starting
// a test; the caller reports it and does not begin.
func (c *LiveChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return fmt.Errorf("conversation channel already connected")
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect conversation channel: %w", err)
	}

	channelCtx, cancel := context.WithCancel(context.Background())
	c.conn = conn
	c.connected = true
	c.ctx = channelCtx
	c.cancel = cancel

	go c.readLoop(channelCtx, conn)

	c.emit(Event{Type: EventConnected})
	c.logger.Info().Str("url", c.cfg.ConversationURL).Msg("Conversation channel connected")
	return nil
}

func (c *LiveChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.cfg.ConversationAPIKey != "" {
		header.Set("Authorization", "Token "+c.cfg.ConversationAPIKey)
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: time.Duration(c.cfg.ConversationTimeout) * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, c.cfg.ConversationURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return conn, nil
}

// Disconnect closes the channel and the transcriber. Safe to call twice.
func (c *LiveChannel) Disconnect() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	c.listening = false
	conn := c.conn
	c.conn = nil
	cancel := c.cancel
	c.mu.Unlock()

	cancel()

	c.writeMu.Lock()
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	conn.Close()

	if err := c.transcriber.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to close transcriber")
	}

	c.logger.Info().Msg("Conversation channel disconnected")
	return nil
}

// SendText sends a directive prompting the examiner's next spoken turn.
func (c *LiveChannel) SendText(directive string) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return fmt.Errorf("conversation channel not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(directiveMessage{Type: "directive", Text: directive}); err != nil {
		return fmt.Errorf("failed to send directive: %w", err)
	}
	return nil
}

// StartListening opens the candidate transcription stream.
func (c *LiveChannel) StartListening() error {
	c.mu.Lock()
	if c.listening {
		c.mu.Unlock()
		return nil
	}
	c.listening = true
	c.mu.Unlock()

	if err := c.transcriber.Start(); err != nil {
		c.mu.Lock()
		c.listening = false
		c.mu.Unlock()
		return fmt.Errorf("failed to start listening: %w", err)
	}
	return nil
}

// StopListening closes the candidate transcription stream.
func (c *LiveChannel) StopListening() error {
	c.mu.Lock()
	if !c.listening {
		c.mu.Unlock()
		return nil
	}
	c.listening = false
	c.mu.Unlock()

	return c.transcriber.Stop()
}

// SendAudio forwards a candidate microphone fragment to the transcriber.
// Fragments arriving while not listening are dropped.
func (c *LiveChannel) SendAudio(pcm []byte) error {
	c.mu.Lock()
	listening := c.listening
	c.mu.Unlock()

	if !listening {
		return nil
	}
	return c.transcriber.SendAudio(pcm)
}

// Events returns the channel's event stream.
func (c *LiveChannel) Events() <-chan Event {
	return c.events
}

func (c *LiveChannel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var msg serverMessage
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}

			c.logger.Warn().Err(err).Msg("Conversation channel read failed")
			c.emit(Event{Type: EventDisconnected, Err: err})
			c.reconnect(ctx)
			return
		}

		switch msg.Type {
		case "speech_started":
			c.emit(Event{Type: EventSpeechStarted, Text: msg.Text})
		case "speech_finished":
			c.emit(Event{Type: EventSpeechFinished, Text: msg.Text})
		case "error":
			c.emit(Event{Type: EventError, Err: fmt.Errorf("conversation endpoint error: %s", msg.Message)})
		default:
			c.logger.Debug().Str("type", msg.Type).Msg("Ignoring unknown conversation message")
		}
	}
}

func (c *LiveChannel) reconnect(ctx context.Context) {
	reconnectConfig := &resilience.ReconnectConfig{
		MaxAttempts: c.cfg.ReconnectMaxAttempts,
		Backoff:     time.Duration(c.cfg.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}

	err := resilience.Reconnect(ctx, func() error {
		conn, err := c.dial(ctx)
		if err != nil {
			return err
		}

		c.mu.Lock()
		if !c.connected {
			// Disconnect raced the redial; drop the new connection
			c.mu.Unlock()
			conn.Close()
			return nil
		}
		c.conn = conn
		c.mu.Unlock()

		go c.readLoop(ctx, conn)
		c.emit(Event{Type: EventConnected})
		return nil
	}, reconnectConfig)

	if err != nil {
		c.logger.Error().Err(err).Msg("Conversation channel reconnect failed")
		c.emit(Event{Type: EventError, Err: fmt.Errorf("conversation channel lost: %w", err)})
	}
}

func (c *LiveChannel) emitTranscript(text string, isFinal bool) {
	if isFinal {
		c.emit(Event{Type: EventTranscriptFinal, Text: text})
		return
	}
	c.emit(Event{Type: EventTranscriptPartial, Text: text})
}

func (c *LiveChannel) emit(event Event) {
	select {
	case c.events <- event:
	default:
		c.logger.Warn().Str("event", string(event.Type)).Msg("Event channel full, dropping event")
	}
}
