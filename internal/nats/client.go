package nats

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/saviobatista/flightgen/internal/codec"
	"github.com/saviobatista/flightgen/internal/parser"
	"github.com/saviobatista/flightgen/internal/types"
)

const (
	StreamFlights        = "FLIGHTS"
	SubjectFlightRecords = "flights.records"
)

// maxLineBytes bounds a single NDJSON line read from a stream
const maxLineBytes = 1 << 20

// Client represents a NATS client
type Client struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *slog.Logger
}

// New connects and makes sure the FLIGHTS stream exists
func New(url string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(url, nats.Name("flightgen"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamFlights,
		Subjects: []string{SubjectFlightRecords},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	})
	if err != nil && !strings.Contains(err.Error(), "stream name already in use") {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &Client{
		conn:   nc,
		js:     js,
		logger: logger,
	}, nil
}

// PublishRecord publishes one record as an NDJSON line
func (c *Client) PublishRecord(ctx context.Context, rec types.FlightRecord) error {
	line, err := codec.RecordToLine(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return c.publish(ctx, []byte(line))
}

func (c *Client) publish(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Without a deadline the JetStream default ack wait applies
	var opts []nats.PubOpt
	if _, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Context(ctx))
	}
	if _, err := c.js.Publish(SubjectFlightRecords, data, opts...); err != nil {
		return fmt.Errorf("failed to publish record: %w", err)
	}
	return nil
}

// PublishNDJSON publishes every non-blank line of r as one message and
// returns how many were published
func (c *Client) PublishNDJSON(ctx context.Context, r io.Reader) (int, error) {
	return publishLines(ctx, r, func(line []byte) error {
		return c.publish(ctx, line)
	})
}

func publishLines(ctx context.Context, r io.Reader, publish func([]byte) error) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	n := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := publish(line); err != nil {
			return n, fmt.Errorf("line %d: %w", n+1, err)
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("failed to read NDJSON: %w", err)
	}
	return n, nil
}

// SubscribeRecords delivers every valid record published on the stream.
// Messages that fail validation are logged and dropped.
func (c *Client) SubscribeRecords(handler func(types.FlightRecord)) (*nats.Subscription, error) {
	sub, err := c.js.Subscribe(SubjectFlightRecords, func(msg *nats.Msg) {
		c.handle(msg.Data, handler)
	}, nats.DeliverAll())
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return sub, nil
}

func (c *Client) handle(data []byte, handler func(types.FlightRecord)) {
	rec, err := parser.ParseRecord(string(data))
	if err != nil {
		c.logger.Warn("dropping invalid flight record", "error", err)
		return
	}
	handler(rec)
}

// Close closes the NATS connection
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
