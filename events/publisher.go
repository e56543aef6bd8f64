// Package events bridges registry changes onto a message bus for host-app
// badges and diagnostics.
package events

import (
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-wallet-refresh/registry"
)

const defaultTopic = "wallet.refresh.registry"

// ChangeEvent summarizes one registry snapshot. It deliberately carries ids
// and counts only, never credential contents.
type ChangeEvent struct {
	Credentials  int       `json:"credentials"`
	Refreshing   int       `json:"refreshing"`
	Expired      []string  `json:"expired"`
	Replacements int       `json:"replacements"`
	Blocked      int       `json:"blocked"`
	LastSweepAt  time.Time `json:"lastSweepAt,omitempty"`
}

// Publisher forwards every registry change to a watermill publisher. Publishing
// is advisory: failures are logged and never gate refresh control flow.
type Publisher struct {
	publisher message.Publisher
	topic     string
	logger    zerolog.Logger
}

type Option func(*Publisher)

// WithTopic overrides the destination topic.
func WithTopic(topic string) Option {
	return func(p *Publisher) {
		p.topic = topic
	}
}

// NewPublisher subscribes to reg and republishes change summaries.
func NewPublisher(reg *registry.Registry, publisher message.Publisher, logger zerolog.Logger, options ...Option) *Publisher {
	p := &Publisher{
		publisher: publisher,
		topic:     defaultTopic,
		logger:    logger,
	}
	for _, opt := range options {
		opt(p)
	}
	reg.Subscribe(p.publish)
	return p
}

func (p *Publisher) publish(s registry.State) {
	event := ChangeEvent{
		Credentials:  len(s.ByID),
		Refreshing:   len(s.Refreshing),
		Expired:      append([]string{}, s.Expired...),
		Replacements: len(s.Replacements),
		Blocked:      len(s.Blocked),
		LastSweepAt:  s.LastSweepAt,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Msg("marshal registry change event failed")
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := p.publisher.Publish(p.topic, msg); err != nil {
		p.logger.Error().Err(err).Str("topic", p.topic).Msg("publish registry change event failed")
	}
}
