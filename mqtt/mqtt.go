// Package mqtt wraps the broker connection the host uses to publish
// reader status and tag events. The client is optional: with no host
// configured every operation is a no-op, so the core runs standalone.
package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// Config holds broker connection settings.
type Config struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// Handlers holds callback functions for connection events.
type Handlers struct {
	OnConnect    func()
	OnDisconnect func()
}

// Client wraps the paho client with the application's lifecycle.
type Client struct {
	client       paho.Client
	clientID     string
	enabled      bool
	log          *logrus.Logger
	onConnect    func()
	onDisconnect func()
}

// New creates a broker client. Returns a disabled no-op client if no
// host is configured.
func New(cfg Config, clientID string, handlers Handlers, log *logrus.Logger) (*Client, error) {
	if log == nil {
		log = logrus.New()
	}
	c := &Client{
		clientID:     clientID,
		log:          log,
		onConnect:    handlers.OnConnect,
		onDisconnect: handlers.OnDisconnect,
	}

	if cfg.Host == "" {
		c.enabled = false
		log.Info("mqtt disabled (no host configured)")
		return c, nil
	}
	c.enabled = true

	var broker string
	var tlsConfig *tls.Config

	if cfg.CACert != "" || cfg.ClientCert != "" {
		broker = fmt.Sprintf("ssl://%s:%d", cfg.Host, cfg.Port)
		var err error
		tlsConfig, err = buildTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("build TLS config: %w", err)
		}
	} else {
		if cfg.Port == 0 {
			cfg.Port = 1883
		}
		broker = fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetKeepAlive(60 * time.Second).
		SetConnectionLostHandler(c.handleConnectionLost).
		SetOnConnectHandler(c.handleConnect)

	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	c.client = paho.NewClient(opts)
	return c, nil
}

func buildTLSConfig(cfg Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if cfg.CACert != "" {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA cert: %w", err)
		}
		caPool := x509.NewCertPool()
		caPool.AppendCertsFromPEM(caCert)
		tlsConfig.RootCAs = caPool
	}

	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Connect connects to the broker. If disabled, the OnConnect handler
// fires immediately so the host proceeds as if online.
func (c *Client) Connect() error {
	if !c.enabled {
		if c.onConnect != nil {
			c.onConnect()
		}
		return nil
	}

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect: %w", token.Error())
	}
	return nil
}

// Disconnect disconnects from the broker. No-op if disabled.
func (c *Client) Disconnect() {
	if !c.enabled || c.client == nil {
		return
	}
	c.client.Disconnect(250)
}

// Publish publishes a message to a topic. No-op if disabled.
func (c *Client) Publish(topic, payload string) {
	if !c.enabled {
		return
	}
	c.client.Publish(topic, 0, false, payload)
}

// IsEnabled reports whether a broker is configured.
func (c *Client) IsEnabled() bool {
	return c.enabled
}

func (c *Client) handleConnect(paho.Client) {
	c.log.Info("mqtt connected")
	if c.onConnect != nil {
		c.onConnect()
	}
}

func (c *Client) handleConnectionLost(_ paho.Client, err error) {
	c.log.WithError(err).Warn("mqtt connection lost")
	if c.onDisconnect != nil {
		c.onDisconnect()
	}
}
