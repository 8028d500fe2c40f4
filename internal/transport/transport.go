// Package transport implements the AMQP message bus client (§4.H): a thin
// wrapper around a single RabbitMQ connection/channel exposing exactly the
// operations the agent loop needs (declare, publish, subscribe-with-ack).
//
// Ported from muranoagent/common/messaging/mqclient.py, rebased onto
// github.com/streadway/amqp (named, not teacher-grounded: no repo in the
// example pack imports an AMQP client; streadway/amqp was adopted from the
// wider pack's go.mod manifests, see DESIGN.md).
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/streadway/amqp"
)

// Config is the connection parameters for one RabbitMQ broker, matching
// MqClient.__init__'s keyword arguments.
type Config struct {
	Login       string
	Password    string
	Host        string
	Port        int
	VirtualHost string

	SSL        bool
	SSLVersion string
	CACerts    string
	Insecure   bool
}

// url builds the amqp(s):// dial URL for c.
func (c Config) url() string {
	scheme := "amqp"
	if c.SSL {
		scheme = "amqps"
	}
	return fmt.Sprintf("%s://%s:%s@%s:%d/%s", scheme, c.Login, c.Password, c.Host, c.Port, c.VirtualHost)
}

// tlsConfig mirrors mqclient.py's ssl_params/cert_reqs derivation: insecure
// with no ca_certs means no verification at all; in every other case the
// broker certificate is verified (against ca_certs when given, else the
// system roots), so insecure has no effect once ca_certs is set.
func (c Config) tlsConfig() (*tls.Config, error) {
	if !c.SSL {
		return nil, nil
	}

	cfg := &tls.Config{}
	if c.CACerts != "" {
		pool := x509.NewCertPool()
		pem, err := os.ReadFile(c.CACerts)
		if err != nil {
			return nil, fmt.Errorf("reading ca_certs %s: %w", c.CACerts, err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in ca_certs %s", c.CACerts)
		}
		cfg.RootCAs = pool
	}

	if c.Insecure {
		if c.CACerts == "" {
			cfg.InsecureSkipVerify = true
		}
	}
	return cfg, nil
}

// RandomHeartbeat returns a heartbeat interval randomized in [20s, 40s),
// exactly as mqclient.py's heartbeat_rate = 20 + 20*random.random() does,
// so agents across a fleet don't all ping RabbitMQ in lockstep.
func RandomHeartbeat() time.Duration {
	return time.Duration(20_000+rand.Intn(20_000)) * time.Millisecond
}

// Client is a connected AMQP session.
type Client struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	closed chan *amqp.Error
	lastErr error
}

// Connect dials cfg and opens one channel, matching MqClient.connect.
func Connect(cfg Config) (*Client, error) {
	tlsCfg, err := cfg.tlsConfig()
	if err != nil {
		return nil, err
	}

	amqpCfg := amqp.Config{Heartbeat: RandomHeartbeat()}
	if tlsCfg != nil {
		amqpCfg.TLSClientConfig = tlsCfg
	}

	conn, err := amqp.DialConfig(cfg.url(), amqpCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	c := &Client{conn: conn, ch: ch, closed: make(chan *amqp.Error, 1)}
	conn.NotifyClose(c.closed)
	return c, nil
}

// Close tears down the channel and connection.
func (c *Client) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

// checkException surfaces (and clears) a connection-level error observed
// asynchronously since the last call, matching MqClient._check_exception.
func (c *Client) checkException() error {
	select {
	case err := <-c.closed:
		c.lastErr = nil
		if err != nil {
			return fmt.Errorf("amqp connection closed: %w", err)
		}
		return nil
	default:
		return c.lastErr
	}
}

// Declare declares a direct, durable exchange and a non-durable queue bound
// to it by name, matching MqClient.declare.
func (c *Client) Declare(queue, exchange string) error {
	if err := c.checkException(); err != nil {
		return err
	}

	if exchange != "" {
		if err := c.ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declaring exchange %s: %w", exchange, err)
		}
	}
	if _, err := c.ch.QueueDeclare(queue, false, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring queue %s: %w", queue, err)
	}
	if exchange != "" {
		if err := c.ch.QueueBind(queue, queue, exchange, false, nil); err != nil {
			return fmt.Errorf("binding queue %s to %s: %w", queue, exchange, err)
		}
	}
	return nil
}

// Send publishes body (already-serialized JSON) to exchange with routing
// key, stamping messageID, matching MqClient.send.
func (c *Client) Send(body []byte, messageID, key, exchange string) error {
	if err := c.checkException(); err != nil {
		return err
	}
	return c.ch.Publish(exchange, key, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		MessageId:   messageID,
	})
}

// Open starts consuming queue with manual acks and the given prefetch
// count, matching MqClient.open/subscription.Subscription.
func (c *Client) Open(queue string, prefetchCount int) (*Subscription, error) {
	if err := c.checkException(); err != nil {
		return nil, err
	}
	if err := c.ch.Qos(prefetchCount, 0, false); err != nil {
		return nil, fmt.Errorf("setting QoS: %w", err)
	}
	deliveries, err := c.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consuming queue %s: %w", queue, err)
	}
	return &Subscription{deliveries: deliveries, checkException: c.checkException}, nil
}
