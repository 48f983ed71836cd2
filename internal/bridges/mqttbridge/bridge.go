package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/kefd/internal/infrastructure/mqtt"
	"github.com/nerrad567/kefd/internal/kef"
	"github.com/nerrad567/kefd/internal/speaker"
)

// commandTimeout bounds one command dispatch triggered from a broker
// message.
const commandTimeout = 5 * time.Second

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Control is the registry surface the bridge drives. Satisfied by
// *speaker.Registry.
type Control interface {
	IssueCommand(ctx context.Context, identity string, cmd kef.Command) error
	Subscribe() *speaker.Subscription
}

// Logger defines the logging interface for the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Bridge mirrors registry events onto MQTT topics and feeds broker
// commands back into the registry.
type Bridge struct {
	mqtt    MQTTClient
	control Control
	qos     byte
	logger  Logger

	sub *speaker.Subscription

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Config holds settings for the bridge.
type Config struct {
	// QoS for published messages and the command subscription.
	QoS byte

	// Logger is optional.
	Logger Logger
}

// New creates a bridge. Call Start to begin relaying.
func New(cfg Config, client MQTTClient, control Control) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Bridge{
		mqtt:    client,
		control: control,
		qos:     cfg.QoS,
		logger:  logger,
	}
}

// Start subscribes to the command topics and begins mirroring registry
// events to the broker.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	topic := mqtt.Topics{}.AllSpeakerCommands()
	if err := b.mqtt.Subscribe(topic, b.qos, b.handleCommand); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	b.sub = b.control.Subscribe()
	b.wg.Add(1)
	go b.relay()

	b.logger.Info("mqtt bridge started", "command_topic", topic)
	return nil
}

// Stop ends relaying and waits for the event pump to exit. Safe to call
// multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		if b.sub != nil {
			b.sub.Close()
		}
		b.wg.Wait()
	})
}

// relay pumps registry events to the broker until the bridge stops.
func (b *Bridge) relay() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case ev, ok := <-b.sub.Events():
			if !ok {
				return
			}
			b.publishEvent(ev)
		}
	}
}

// publishEvent translates one registry event into retained topic writes.
// Publish failures are logged, not fatal; the next event for the speaker
// repairs the retained value.
func (b *Bridge) publishEvent(ev speaker.Event) {
	topics := mqtt.Topics{}
	identity := ev.Speaker.Identity

	switch ev.Kind {
	case speaker.EventSpeakerAdded:
		b.publish(topics.SpeakerPresence(identity), presencePayload(ev.Speaker, true))
		if ev.Speaker.State != nil {
			b.publish(topics.SpeakerState(identity), statePayload(ev.Speaker))
		}

	case speaker.EventSpeakerUpdated:
		// Retained presence carries the address; refresh it after a
		// retarget so late joiners resolve the speaker correctly.
		b.publish(topics.SpeakerPresence(identity), presencePayload(ev.Speaker, true))

	case speaker.EventSpeakerRemoved:
		b.publish(topics.SpeakerPresence(identity), presencePayload(ev.Speaker, false))
		// Clear retained state for a speaker that no longer exists.
		b.publish(topics.SpeakerState(identity), nil)
		b.publish(topics.SpeakerConnectivity(identity), nil)

	case speaker.EventStateChanged:
		b.publish(topics.SpeakerState(identity), statePayload(ev.Speaker))

	case speaker.EventConnectivityChanged:
		b.publish(topics.SpeakerConnectivity(identity), connectivityPayload(ev.Speaker))
	}
}

// publish writes one retained message, logging failures.
func (b *Bridge) publish(topic string, payload []byte) {
	if err := b.mqtt.Publish(topic, payload, b.qos, true); err != nil {
		b.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}

// handleCommand decodes a broker command message and dispatches it.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	identity := mqtt.CommandIdentity(topic)
	if identity == "" {
		return fmt.Errorf("not a speaker command topic: %s", topic)
	}

	var cmd kef.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("decoding command for %s: %w", identity, err)
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if err := b.control.IssueCommand(ctx, identity, cmd); err != nil {
		return fmt.Errorf("dispatching %s to %s: %w", cmd.Type, identity, err)
	}

	b.logger.Debug("mqtt command dispatched", "identity", identity, "command", cmd.Type)
	return nil
}
