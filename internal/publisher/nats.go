package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/dialogport/tg-archiver/internal/archiver"
)

// SubjectMessageArchived carries one event per newly archived message,
// under the subject space captured by the ARCHIVE stream.
const SubjectMessageArchived = "archive.message.new"

// NATSClient interface to allow mocking
type NATSClient interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher implements archiver.EventPublisher
type NATSPublisher struct {
	nc NATSClient
}

// NewNATSPublisher creates a new publisher
func NewNATSPublisher(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{nc: conn}
}

// PublishMessageArchived publishes an archived-message event
func (p *NATSPublisher) PublishMessageArchived(ctx context.Context, event archiver.MessageArchivedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.nc.Publish(SubjectMessageArchived, data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	return nil
}
