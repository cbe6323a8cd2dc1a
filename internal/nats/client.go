// Package nats wires the archiver to NATS JetStream for downstream consumers.
package nats

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// StreamName holds every event the archiver emits; subjects are scoped
// under "archive.".
const (
	StreamName    = "ARCHIVE"
	SubjectPrefix = "archive.>"
)

// Client wraps the nats connection and its jetstream context.
// Publishing goes through Conn directly; jetstream captures the subjects.
type Client struct {
	Conn *nats.Conn
	js   jetstream.JetStream
}

// New connects to the nats server and opens a jetstream context.
func New(_ context.Context, natsURL string) (*Client, error) {
	conn, err := nats.Connect(natsURL, nats.Name("tg-archiver"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Client{Conn: conn, js: js}, nil
}

// EnsureStream creates or updates the stream capturing the given subjects.
func (c *Client) EnsureStream(ctx context.Context, name string, subjects []string) error {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     name,
		Subjects: subjects,
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", name, err)
	}
	return nil
}

// Close drains and closes the connection.
func (c *Client) Close() {
	c.Conn.Close()
}
