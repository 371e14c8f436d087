package eventbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/egv/yolo-wave/internal/contracts"
)

// NATSSink publishes each event on <subject>.<event type>.
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

func ConnectNATS(url string, subject string) (*NATSSink, error) {
	if strings.TrimSpace(subject) == "" {
		return nil, errors.New("nats subject is required")
	}
	conn, err := nats.Connect(url, nats.Name("yolo-wave"), nats.Timeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSSink{conn: conn, subject: strings.TrimSuffix(subject, ".")}, nil
}

func (s *NATSSink) Emit(_ context.Context, event contracts.Event) error {
	payload, err := contracts.MarshalEventJSONL(event)
	if err != nil {
		return err
	}
	subject := s.subject + "." + string(event.Type)
	if err := s.conn.Publish(subject, []byte(strings.TrimSuffix(payload, "\n"))); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close flushes pending publishes and closes the connection.
func (s *NATSSink) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	err := s.conn.FlushTimeout(5 * time.Second)
	s.conn.Close()
	return err
}
