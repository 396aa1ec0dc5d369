// Package mqttpub mirrors the device list, the scanning flag and user
// messages to an MQTT broker.
//
// Topics, under the configured prefix:
//
//	<prefix>/devices   retained JSON array of device views
//	<prefix>/scanning  retained "true" or "false"
//	<prefix>/messages  JSON user message, not retained
//	<prefix>/status    retained "online"/"offline", also the last will
package mqttpub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/bavix/btscan/internal/config"
	"github.com/bavix/btscan/internal/devices"
	customerrors "github.com/bavix/btscan/internal/errors"
	"github.com/bavix/btscan/internal/session"
)

const (
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
	defaultKeepAlive         = 60 * time.Second

	statusOnline  = "online"
	statusOffline = "offline"
)

// Client is the part of a paho client the publisher needs.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Topics names the publisher topics under one prefix.
type Topics struct {
	Prefix string
}

func (t Topics) Devices() string  { return t.Prefix + "/devices" }
func (t Topics) Scanning() string { return t.Prefix + "/scanning" }
func (t Topics) Messages() string { return t.Prefix + "/messages" }
func (t Topics) Status() string   { return t.Prefix + "/status" }

// Publisher is an events.Presenter and a session.Notifier. Publishing never
// waits for the broker: tokens are checked in the background and failures
// are logged.
type Publisher struct {
	client Client
	topics Topics
	qos    byte
	logger zerolog.Logger

	// mu orders wg.Add against Close: once closed is set no publish can
	// join wg, so Close's Wait sees every in-flight token.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New wraps an already connected client.
func New(client Client, topics Topics, qos byte, logger zerolog.Logger) *Publisher {
	return &Publisher{
		client: client,
		topics: topics,
		qos:    qos,
		logger: logger.With().Str("component", "mqtt").Logger(),
	}
}

// Connect dials the broker from cfg and announces the publisher online.
func Connect(ctx context.Context, cfg config.MQTTConfig) (*Publisher, error) {
	topics := Topics{Prefix: cfg.TopicPrefix}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetKeepAlive(defaultKeepAlive).
		SetWill(topics.Status(), statusOffline, byte(cfg.QoS), true) //nolint:gosec // qos validated to 0..2

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	logger := zerolog.Ctx(ctx)

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn().Err(err).Str("broker", cfg.Broker).Msg("mqtt connection lost")
	})

	client := pahomqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", customerrors.ErrMQTTConnectionFailed, cfg.ConnectTimeout)
	}

	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", customerrors.ErrMQTTConnectionFailed, err)
	}

	p := New(client, topics, byte(cfg.QoS), *logger) //nolint:gosec // qos validated to 0..2
	p.publish(topics.Status(), true, statusOnline)

	logger.Info().Str("broker", cfg.Broker).Str("prefix", cfg.TopicPrefix).Msg("mqtt connected")

	return p, nil
}

// Refresh implements events.Presenter.
func (p *Publisher) Refresh(snapshot []devices.Record) {
	b, err := json.Marshal(devices.Views(snapshot))
	if err != nil {
		p.logger.Error().Err(err).Msg("encode devices")

		return
	}

	p.publish(p.topics.Devices(), true, b)
}

// SetScanning implements events.Presenter.
func (p *Publisher) SetScanning(visible bool) {
	p.publish(p.topics.Scanning(), true, strconv.FormatBool(visible))
}

// Notify implements session.Notifier.
func (p *Publisher) Notify(_ context.Context, msg session.Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error().Err(err).Msg("encode message")

		return
	}

	p.publish(p.topics.Messages(), false, b)
}

func (p *Publisher) publish(topic string, retained bool, payload any) {
	if !p.track(false) {
		p.logger.Debug().Err(customerrors.ErrMQTTNotConnected).Str("topic", topic).Msg("publish skipped")

		return
	}

	p.send(topic, retained, payload)
}

// track registers one publish with wg unless the publisher is closed. With
// closing set it also marks the publisher closed; only the first such call
// succeeds.
func (p *Publisher) track(closing bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}

	p.closed = closing
	p.wg.Add(1)

	return true
}

// send publishes a message already counted in wg.
func (p *Publisher) send(topic string, retained bool, payload any) {
	token := p.client.Publish(topic, p.qos, retained, payload)

	go func() {
		defer p.wg.Done()

		if !token.WaitTimeout(defaultPublishTimeout) {
			p.logger.Warn().Str("topic", topic).Msg("mqtt publish timed out")

			return
		}

		if err := token.Error(); err != nil {
			p.logger.Warn().Err(err).Str("topic", topic).Msg("mqtt publish failed")
		}
	}()
}

// Close publishes the offline status, waits for in-flight publishes and
// disconnects. Safe to call more than once.
func (p *Publisher) Close() error {
	if !p.track(true) {
		return nil
	}

	p.send(p.topics.Status(), true, statusOffline)
	p.wg.Wait()
	p.client.Disconnect(defaultDisconnectQuiesce)

	return nil
}
