// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package mqtt

import (
	"encoding/json"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"light-sequencer/internal/api"
	"light-sequencer/internal/config"
	"light-sequencer/internal/sequencer"
)

// Client is the MQTT control plane: cue commands arrive on <prefix>/cmd and
// composed state fans out on <prefix>/event.
type Client struct {
	cfg      *config.MQTTConfig
	api      *api.Handler
	seq      *sequencer.Sequencer
	logger   *slog.Logger
	client   mqtt.Client
	stopChan chan struct{}
}

// NewClient creates a new MQTT client
func NewClient(cfg *config.MQTTConfig, seq *sequencer.Sequencer, logger *slog.Logger) *Client {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "lights"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "light-sequencer"
	}

	return &Client{
		cfg:      cfg,
		api:      api.NewHandler(seq),
		seq:      seq,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start connects to broker and subscribes to topics
func (c *Client) Start() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.Broker)
	opts.SetClientID(c.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = mqtt.NewClient(opts)
	token := c.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}

	// Start event forwarder
	go c.forwardEvents()

	c.logger.Info("MQTT client started", "broker", c.cfg.Broker, "prefix", c.cfg.TopicPrefix)
	return nil
}

// Stop disconnects from broker
func (c *Client) Stop() {
	close(c.stopChan)
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(1000)
	}
	c.logger.Info("MQTT client stopped")
}

func (c *Client) onConnect(client mqtt.Client) {
	c.logger.Info("MQTT connected")

	// Subscribe to command topic
	cmdTopic := c.cfg.TopicPrefix + "/cmd"
	client.Subscribe(cmdTopic, 1, c.handleCommand)
	c.logger.Debug("MQTT subscribed", "topic", cmdTopic)

	// Publish initial status
	c.publishStatus()
}

func (c *Client) onConnectionLost(client mqtt.Client, err error) {
	c.logger.Warn("MQTT connection lost", "error", err)
}

// handleCommand processes incoming MQTT commands
func (c *Client) handleCommand(client mqtt.Client, msg mqtt.Message) {
	c.logger.Debug("MQTT command received", "topic", msg.Topic(), "payload", string(msg.Payload()))

	// Use unified API handler
	resp := c.api.HandleJSON(msg.Payload())

	// Publish response
	respTopic := c.cfg.TopicPrefix + "/response"
	client.Publish(respTopic, 0, false, resp)
}

// forwardEvents forwards composed state changes to MQTT
func (c *Client) forwardEvents() {
	updates := c.seq.Subscribe()
	defer c.seq.Unsubscribe(updates)

	for {
		select {
		case data, ok := <-updates:
			if !ok {
				return
			}
			c.publishEvent(data)
		case <-c.stopChan:
			return
		}
	}
}

// publishEvent publishes a state change event (data is pre-marshaled JSON)
func (c *Client) publishEvent(data []byte) {
	if c.client == nil || !c.client.IsConnected() {
		return
	}

	topic := c.cfg.TopicPrefix + "/event"
	c.client.Publish(topic, 0, false, data)
}

// statusMessage for status publish (typed to avoid map allocation)
type statusMessage struct {
	Type string           `json:"type"`
	Data sequencer.Status `json:"data"`
}

// publishStatus publishes current status
func (c *Client) publishStatus() {
	if c.client == nil || !c.client.IsConnected() {
		return
	}

	data, _ := json.Marshal(statusMessage{
		Type: "status",
		Data: c.seq.Status(),
	})
	topic := c.cfg.TopicPrefix + "/status"
	c.client.Publish(topic, 0, true, data) // retained
}
