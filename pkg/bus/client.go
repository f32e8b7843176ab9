// Package bus implements the device-bus client used by the hardware drivers.
// A device exposes named channels (JSON payloads published under
// <root>/state/<name>) and a command endpoint (<root>/commands) that answers
// on <root>/replies with "_ACK_<code>[=<value>];" or "_NACK_<code>;".
package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

var (
	ErrNotConnected = errors.New("bus client is not connected")
	ErrBadReply     = errors.New("malformed command reply")
)

const (
	defaultReplyTimeout = 5 * time.Second
	defaultSendTimeout  = time.Second
)

type Config struct {
	Broker    string // e.g. "tcp://localhost:1883"
	Username  string
	Password  string
	ClientID  string
	TopicRoot string
}

// Reply is a parsed command reply from the device controller.
type Reply struct {
	Code  byte   // The code of the command that was sent
	Value string // The value of the reply, if any
	Error bool   // True if the controller NACKed the command
}

// Client wraps an MQTT connection to one device controller.
type Client struct {
	client mqtt.Client
	config Config

	replyChan    chan Reply
	replyTimeout time.Duration
	sendTimeout  time.Duration
	logger       log.FieldLogger
}

// Connect creates the MQTT client, connects to the broker and subscribes to
// the reply topic.
func Connect(cfg Config, logger log.FieldLogger) (*Client, error) {
	opts := mqtt.NewClientOptions()
	opts.SetClientID(cfg.ClientID)
	opts.AddBroker(cfg.Broker)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)

	mqttClient := mqtt.NewClient(opts)
	if token := mqttClient.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %v", token.Error())
	}

	c := Client{
		client:       mqttClient,
		config:       cfg,
		replyChan:    make(chan Reply, 1),
		replyTimeout: defaultReplyTimeout,
		sendTimeout:  defaultSendTimeout,
		logger:       logger.WithField("component", "bus"),
	}

	replyTopic := cfg.TopicRoot + "/replies"
	if token := mqttClient.Subscribe(replyTopic, 0, c.replyHandler); token.Wait() && token.Error() != nil {
		mqttClient.Disconnect(100)
		return nil, fmt.Errorf("failed to subscribe to reply topic: %v", token.Error())
	}

	return &c, nil
}

// Close unsubscribes from the reply topic and disconnects from the broker.
func (c *Client) Close() {
	if !c.client.IsConnected() {
		return
	}
	c.client.Unsubscribe(c.config.TopicRoot + "/replies")
	c.client.Disconnect(100)
}

func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Watch subscribes to a named channel. The handler receives the raw JSON
// payload of every change notification.
func (c *Client) Watch(name string, handler func(payload []byte)) error {
	if !c.client.IsConnected() {
		return ErrNotConnected
	}

	topic := c.config.TopicRoot + "/state/" + name
	cb := func(client mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	}
	if token := c.client.Subscribe(topic, 0, cb); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to channel %s: %v", name, token.Error())
	}
	return nil
}

// Unwatch cancels the subscription to a named channel.
func (c *Client) Unwatch(name string) {
	if !c.client.IsConnected() {
		return
	}
	c.client.Unsubscribe(c.config.TopicRoot + "/state/" + name)
}

// WriteChannel publishes a value to a writable channel.
func (c *Client) WriteChannel(name string, value any) error {
	if !c.client.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal channel value: %v", err)
	}

	topic := c.config.TopicRoot + "/set/" + name
	if token := c.client.Publish(topic, 0, false, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish to channel %s: %v", name, token.Error())
	}
	return nil
}

// Command publishes a command and waits for the matching reply.
// The first character of cmd is the command code, e.g. "G=150" or "A".
func (c *Client) Command(cmd string) (Reply, error) {
	if !c.client.IsConnected() {
		return Reply{}, ErrNotConnected
	}
	if len(cmd) == 0 {
		return Reply{}, fmt.Errorf("empty command")
	}

	// Create the message string
	msg := "_" + cmd + ";"
	c.logger.Debugf("Sending command: %s", msg)

	topic := c.config.TopicRoot + "/commands"
	if token := c.client.Publish(topic, 0, false, msg); token.Wait() && token.Error() != nil {
		return Reply{}, fmt.Errorf("failed to publish command: %v", token.Error())
	}

	return c.awaitReply(cmd[0])
}

// awaitReply waits for the controller's reply to the given command code.
func (c *Client) awaitReply(code byte) (Reply, error) {
	select {
	case reply := <-c.replyChan:
		if reply.Error {
			return reply, fmt.Errorf("command failed: %c", reply.Code)
		}

		if reply.Code != code {
			return reply, fmt.Errorf("unexpected reply command: %c", reply.Code)
		}

		c.logger.Debugf("Reply: %+v", reply)
		return reply, nil

	case <-time.After(c.replyTimeout):
		return Reply{}, fmt.Errorf("timeout waiting for reply to command %c", code)
	}
}

func (c *Client) replyHandler(client mqtt.Client, msg mqtt.Message) {
	c.pushReply(string(msg.Payload()))
}

func (c *Client) pushReply(payload string) {
	reply, err := parseReply(payload)
	if err != nil {
		c.logger.Errorf("Failed to parse reply: %v", err)
		return
	}

	// Attempt to send the reply to the channel with a timeout
	select {
	case c.replyChan <- reply:
		// Successfully sent the reply
	case <-time.After(c.sendTimeout):
		c.logger.Warn("Timeout while sending reply to the channel")
	}
}

// Replies have the format:
// "_ACK_<command>;"
// "_ACK_<command>=<value>;"
// "_NACK_<command>;"
func parseReply(msg string) (Reply, error) {
	var reply Reply

	fields := strings.Split(msg, "_")
	if len(fields) != 3 {
		return reply, fmt.Errorf("%w: bad number of fields: %s", ErrBadReply, msg)
	}
	if !strings.HasSuffix(fields[2], ";") {
		return reply, fmt.Errorf("%w: invalid suffix: %s", ErrBadReply, msg)
	}

	// Check if the reply is an acknowledgment or not
	if fields[1] == "NACK" {
		reply.Error = true
	} else if fields[1] != "ACK" {
		return reply, fmt.Errorf("%w: invalid ack indicator: %s", ErrBadReply, msg)
	}

	// Extract the command and value
	cmd := strings.Trim(fields[2], ";")

	parts := strings.Split(cmd, "=")
	if len(parts[0]) != 1 {
		return reply, fmt.Errorf("%w: invalid command format: %s", ErrBadReply, msg)
	}
	reply.Code = parts[0][0]

	if len(parts) == 2 {
		reply.Value = parts[1]
	} else if len(parts) != 1 {
		return reply, fmt.Errorf("%w: invalid reply value: %s", ErrBadReply, msg)
	}

	return reply, nil
}
