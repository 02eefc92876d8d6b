package notify

import (
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/sigmod/ns-server/cluster"
	"github.com/sigmod/ns-server/errors"
	"github.com/sigmod/ns-server/natsclient"
)

// DefaultSubject is the NATS subject configuration mutations are announced on.
const DefaultSubject = "cluster.config.changed"

// Bridge propagates configuration-change markers between nodes over NATS.
// Listen advances the local ConfigRevision (and thereby publishes on the
// local bus) when a remote node announces a change; Announce tells the rest
// of the cluster about a local one. The bridge is optional: a standalone
// gateway runs without it.
type Bridge struct {
	client   *natsclient.Client
	subject  string
	revision *cluster.ConfigRevision
	logger   *slog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewBridge wires a bridge over an already connected client.
func NewBridge(client *natsclient.Client, subject string, revision *cluster.ConfigRevision, logger *slog.Logger) *Bridge {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		client:   client,
		subject:  subject,
		revision: revision,
		logger:   logger,
	}
}

// Listen subscribes to the change subject. Message content is ignored; the
// arrival itself is the signal.
func (b *Bridge) Listen() error {
	conn := b.client.GetConnection()
	if conn == nil {
		return errors.WrapTransient(errors.ErrNoConnection, "Bridge", "Listen", "connection check")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Bridge", "Listen", "subscription check")
	}

	sub, err := conn.Subscribe(b.subject, func(_ *nats.Msg) {
		rev := b.revision.Advance()
		b.logger.Debug("remote configuration change observed",
			"subject", b.subject, "revision", rev)
	})
	if err != nil {
		return errors.WrapTransient(err, "Bridge", "Listen", "subscribe")
	}

	b.sub = sub
	b.logger.Info("change bridge listening", "subject", b.subject)
	return nil
}

// Announce publishes a change marker for the other nodes. The local
// revision must already have been advanced by the configuration owner.
func (b *Bridge) Announce() error {
	conn := b.client.GetConnection()
	if conn == nil {
		return errors.WrapTransient(errors.ErrNoConnection, "Bridge", "Announce", "connection check")
	}

	if err := conn.Publish(b.subject, nil); err != nil {
		return errors.WrapTransient(err, "Bridge", "Announce", "publish")
	}
	return nil
}

// Close drops the subscription. The underlying client is owned by the
// caller and closed separately.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub == nil {
		return nil
	}
	err := b.sub.Unsubscribe()
	b.sub = nil
	if err != nil {
		return errors.WrapTransient(err, "Bridge", "Close", "unsubscribe")
	}
	return nil
}
