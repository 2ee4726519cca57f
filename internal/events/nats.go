// Package events fans game events out over NATS so that other services can
// follow a game without holding a WebSocket.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/magicmatch/internal/game"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// SubjectPrefix is the root of every subject this package publishes on.
const SubjectPrefix = "magicmatch.games"

// publisher is the subset of *nats.Conn used here.
type publisher interface {
	Publish(subj string, data []byte) error
}

// Publisher writes game events to per-game NATS subjects.
type Publisher struct {
	conn   publisher
	nc     *nats.Conn
	logger logrus.FieldLogger
}

// Connect dials NATS at url.
func Connect(url string, logger logrus.FieldLogger) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("magicmatch-server"),
		nats.Timeout(10 * time.Second),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(5),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return &Publisher{conn: nc, nc: nc, logger: logger}, nil
}

// EventSubject is where every event of a game is published.
func EventSubject(gameID uuid.UUID) string {
	return fmt.Sprintf("%s.%s.events", SubjectPrefix, gameID)
}

// CompletedSubject collects completion summaries from every game.
func CompletedSubject() string {
	return SubjectPrefix + ".completed"
}

// PublishEvent sends ev on the game's event subject. nats.Conn buffers
// publishes, so this does not block on the network.
func (p *Publisher) PublishEvent(ev game.GameEvent) {
	p.publish(EventSubject(ev.GameID), game.EncodeEvent(ev))
}

// PublishCompletion announces a finished game.
func (p *Publisher) PublishCompletion(summary game.CompletionSummary) {
	data, err := json.Marshal(summary)
	if err != nil {
		p.logger.WithError(err).Warn("failed to marshal completion summary")
		return
	}
	p.publish(CompletedSubject(), data)
}

func (p *Publisher) publish(subject string, data []byte) {
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.WithError(err).WithField("subject", subject).Warn("NATS publish failed")
	}
}

// Close drains pending publishes and closes the connection.
func (p *Publisher) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.logger.WithError(err).Warn("NATS drain failed")
	}
}
