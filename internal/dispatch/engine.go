package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"orchestra/internal/logging"
)

// Engine is the transport the dispatcher publishes events to and pulls
// events from, grounded on the teacher's runtime.NATSEngine.
type Engine interface {
	Publish(ctx context.Context, namespace string, event Event) error
	SubscribeDurable(namespace, consumer string, handler func(msg *nats.Msg)) (*nats.Subscription, error)
	Close()
}

// NATSEngine implements Engine over NATS JetStream, optionally starting an
// embedded server for single-binary local use.
type NATSEngine struct {
	opts   Options
	server *natsserver.Server
	conn   *nats.Conn
	js     nats.JetStreamContext
}

// NewEngine connects to NATS (starting an embedded server first if
// opts.Embedded) and ensures the configured JetStream stream exists. It
// returns (nil, nil) if opts.Enabled is false, matching the teacher's
// convention of letting a nil *NATSEngine mean "no-op dispatcher".
func NewEngine(opts Options) (*NATSEngine, error) {
	if !opts.Enabled {
		return nil, nil
	}

	engine := &NATSEngine{opts: opts}
	if opts.Embedded {
		srv, err := natsserver.NewServer(&natsserver.Options{Port: -1, JetStream: true})
		if err != nil {
			return nil, fmt.Errorf("failed to start embedded nats: %w", err)
		}
		go srv.Start()
		if !srv.ReadyForConnections(5 * time.Second) {
			return nil, fmt.Errorf("embedded nats failed to start")
		}
		engine.server = srv
		engine.opts.URL = fmt.Sprintf("nats://%s", srv.Addr().String())
	}

	conn, err := nats.Connect(engine.opts.URL)
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	engine.conn = conn

	js, err := conn.JetStream()
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("failed to init jetstream: %w", err)
	}
	engine.js = js

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     opts.Stream,
		Subjects: []string{fmt.Sprintf("%s.>", opts.SubjectPrefix)},
		Storage:  nats.FileStorage,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		engine.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return engine, nil
}

// Publish sends event to wf.events.<namespace>.<kind>.
func (e *NATSEngine) Publish(ctx context.Context, namespace string, event Event) error {
	if e == nil || e.js == nil {
		return nil
	}
	subject := subjectFor(e.opts.SubjectPrefix, namespace, event.Kind)
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.EventID, err)
	}
	if _, err := e.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish event %s to %s: %w", event.EventID, subject, err)
	}
	return nil
}

// SubscribeDurable creates an ephemeral pull consumer over every event kind
// in namespace and starts a fetch loop delivering messages to handler.
func (e *NATSEngine) SubscribeDurable(namespace, consumer string, handler func(msg *nats.Msg)) (*nats.Subscription, error) {
	if e == nil || e.js == nil {
		return nil, fmt.Errorf("engine not initialized")
	}

	if consumer == "" {
		consumer = e.opts.ConsumerName
	}
	subject := subjectWildcard(e.opts.SubjectPrefix, namespace)
	ephemeralName := fmt.Sprintf("%s-%d", consumer, time.Now().UnixNano())

	if err := e.js.DeleteConsumer(e.opts.Stream, consumer); err == nil {
		logging.Info("dispatch: deleted stale consumer %s", consumer)
	}

	sub, err := e.js.PullSubscribe(
		subject,
		ephemeralName,
		nats.AckExplicit(),
		nats.ManualAck(),
		nats.DeliverNew(),
	)
	if err != nil {
		return nil, fmt.Errorf("jetstream pull subscribe failed: %w", err)
	}

	go e.pullFetchLoop(sub, handler)
	return sub, nil
}

func (e *NATSEngine) pullFetchLoop(sub *nats.Subscription, handler func(msg *nats.Msg)) {
	for {
		if !sub.IsValid() {
			return
		}
		msgs, err := sub.Fetch(10, nats.MaxWait(5*time.Second))
		if err != nil {
			if err == nats.ErrTimeout {
				continue
			}
			if err == nats.ErrConnectionClosed || err == nats.ErrConsumerDeleted {
				return
			}
			logging.Error("dispatch: fetch error: %v", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		for _, msg := range msgs {
			handler(msg)
		}
	}
}

// Close drains and closes the connection, and shuts down the embedded
// server if one was started.
func (e *NATSEngine) Close() {
	if e == nil {
		return
	}
	if e.conn != nil {
		e.conn.Drain()
		e.conn.Close()
	}
	if e.server != nil {
		e.server.Shutdown()
	}
}
