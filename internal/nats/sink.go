package nats

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"mysql-binlog-watcher/internal/watcher"
)

// Sink republishes dispatched events to NATS. It is registered as a topic
// listener; the event's own topic becomes the subject suffix, so a record for
// shop.orders.update lands on "<prefix>.shop.orders.update".
type Sink struct {
	conn   *nats.Conn
	prefix string
	logger *logrus.Logger
}

// NewSink connects to NATS with the usual reconnect handlers.
func NewSink(url, prefix string, maxReconnect int, reconnectWait time.Duration, logger *logrus.Logger) (*Sink, error) {
	opts := []nats.Option{
		nats.MaxReconnects(maxReconnect),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Warn("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Infof("Connected to NATS at %s", url)

	return &Sink{conn: conn, prefix: prefix, logger: logger}, nil
}

// Handle is a watcher.EventFunc. Publish failures are logged, not propagated;
// dispatch ordering must not stall on a broker hiccup.
func (s *Sink) Handle(ev *watcher.Event) {
	data, err := json.Marshal(ev.Record())
	if err != nil {
		s.logger.Errorf("Failed to marshal event for %s: %v", ev.Topic(), err)
		return
	}

	subject := s.prefix + "." + ev.Topic().String()
	if err := s.conn.Publish(subject, data); err != nil {
		s.logger.Errorf("Failed to publish to %s: %v", subject, err)
		return
	}
	s.logger.Debugf("Published %s event for %s.%s", ev.Type(), ev.Schema(), ev.Table())
}

// Conn returns the underlying NATS connection.
func (s *Sink) Conn() *nats.Conn {
	return s.conn
}

// Close drains nothing; pending buffered publishes are flushed by the client
// on Close.
func (s *Sink) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}
