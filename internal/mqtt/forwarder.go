package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/grantdesk/internal/config"
	"github.com/nugget/grantdesk/internal/events"
)

// busBuffer is the forwarder's subscription buffer. Events beyond it
// are dropped by the bus while the broker is slow.
const busBuffer = 256

// publisher is the part of [autopaho.ConnectionManager] the forwarder
// uses.
type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Forwarder manages the MQTT connection and republishes bus events to
// the broker.
type Forwarder struct {
	cfg    config.MQTTConfig
	bus    *events.Bus
	totals *DailyTotals
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// New creates a Forwarder but does not connect. Call [Forwarder.Start]
// to connect and begin forwarding.
func New(cfg config.MQTTConfig, bus *events.Bus, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		cfg:    cfg,
		bus:    bus,
		totals: NewDailyTotals(nil),
		logger: logger.With("component", "mqtt"),
	}
}

// Start connects to the broker and forwards bus events until ctx is
// cancelled. Broker outages are retried in the background; events
// published while disconnected are dropped.
func (f *Forwarder) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(f.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: f.cfg.Username,
		ConnectPassword: []byte(f.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   f.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			f.logger.Info("mqtt connected to broker", "broker", f.cfg.Broker)
			f.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			f.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: f.cfg.ClientID,
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	f.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		f.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	sub := f.bus.Subscribe(busBuffer)
	defer sub.Close()
	f.forward(ctx, cm, sub.C)
	return nil
}

// Stop publishes "offline" to the availability topic and disconnects.
// The provided context bounds both.
func (f *Forwarder) Stop(ctx context.Context) error {
	if f.cm == nil {
		return nil
	}
	f.publishAvailability(ctx, f.cm, "offline")
	return f.cm.Disconnect(ctx)
}

// Totals returns today's accumulated activity.
func (f *Forwarder) Totals() Totals {
	return f.totals.Snapshot()
}

// --- Topic helpers ---

func (f *Forwarder) availabilityTopic() string {
	return f.cfg.TopicPrefix + "/availability"
}

func (f *Forwarder) statsTopic() string {
	return f.cfg.TopicPrefix + "/stats"
}

func (f *Forwarder) eventTopic(ev events.Event) string {
	return f.cfg.TopicPrefix + "/events/" + ev.Source + "/" + ev.Kind
}

// --- Forwarding ---

func (f *Forwarder) forward(ctx context.Context, pub publisher, in <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			f.handle(ctx, pub, ev)
		}
	}
}

func (f *Forwarder) handle(ctx context.Context, pub publisher, ev events.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		f.logger.Error("mqtt marshal event", "kind", ev.Kind, "error", err)
		return
	}
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   f.eventTopic(ev),
		Payload: payload,
		QoS:     0,
	}); err != nil {
		f.logger.Debug("mqtt event publish failed", "kind", ev.Kind, "error", err)
	}

	if ev.Source != events.SourceAgent {
		return
	}
	switch ev.Kind {
	case events.KindLLMResponse:
		f.totals.ModelCall(intField(ev.Data, "tokens_in"), intField(ev.Data, "tokens_out"))
	case events.KindTurnComplete, events.KindTurnFailed:
		f.totals.TurnFinished(ev.Kind == events.KindTurnComplete)
		f.publishTotals(ctx, pub)
	}
}

func (f *Forwarder) publishTotals(ctx context.Context, pub publisher) {
	payload, err := json.Marshal(f.totals.Snapshot())
	if err != nil {
		f.logger.Error("mqtt marshal totals", "error", err)
		return
	}
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   f.statsTopic(),
		Payload: payload,
		QoS:     1,
		Retain:  true,
	}); err != nil {
		f.logger.Debug("mqtt stats publish failed", "error", err)
	}
}

func (f *Forwarder) publishAvailability(ctx context.Context, pub publisher, status string) {
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   f.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		f.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		f.logger.Info("mqtt availability published", "status", status)
	}
}

// intField reads a numeric event field. Events published in-process
// carry Go ints; events that went through JSON carry float64.
func intField(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
