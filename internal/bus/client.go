package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/glossalabs/glossa-core/internal/config"
	"github.com/glossalabs/glossa-core/internal/protocol"
)

// Events stay replayable for this long so consumers that were down during a
// broadcast (event-store backfill, external recorders) can catch up.
const eventRetention = 24 * time.Hour

const streamName = "GLOSSA_EVENTS"

// Client publishes segment and utterance announcements on the event bus.
// Both subjects are backed by a JetStream stream, so publication is durable
// rather than fire-and-forget.
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	log  *slog.Logger
}

func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("glossa-runtime"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}

	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	c := &Client{conn: conn, js: js, log: log}
	if err := c.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}

	log.Info("connected to NATS", slog.String("servers", url))
	return c, nil
}

// ensureStream creates the event stream on first run; an existing stream is
// left as deployed.
func (c *Client) ensureStream() error {
	_, err := c.js.StreamInfo(streamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("inspect event stream: %w", err)
	}
	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{protocol.SubjectUtteranceFinal, protocol.SubjectSegmentPrefix + ".>"},
		Storage:  nats.FileStorage,
		MaxAge:   eventRetention,
	})
	if err != nil {
		return fmt.Errorf("create event stream: %w", err)
	}
	return nil
}

// PublishSegment announces a validated speech segment on its room's subject.
func (c *Client) PublishSegment(event protocol.SegmentEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode segment event: %w", err)
	}
	if _, err := c.js.Publish(protocol.SubjectSegmentPrefix+"."+event.Room, data); err != nil {
		return fmt.Errorf("publish segment event: %w", err)
	}
	return nil
}

// PublishUtterance announces a finalized utterance.
func (c *Client) PublishUtterance(event protocol.UtteranceEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode utterance event: %w", err)
	}
	if _, err := c.js.Publish(protocol.SubjectUtteranceFinal, data); err != nil {
		return fmt.Errorf("publish utterance event: %w", err)
	}
	return nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}
