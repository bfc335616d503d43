package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"k8s.io/klog/v2"
)

// ClientConfig holds broker connection settings
type ClientConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// Client owns the broker connection shared by the Subscriber and Publisher
type Client struct {
	client paho.Client
	config ClientConfig
}

// NewClient connects to the broker with auto-reconnect enabled
func NewClient(config ClientConfig) (*Client, error) {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetOnConnectHandler(func(paho.Client) {
		klog.V(2).InfoS("MQTT connection established", "broker", config.Broker)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		klog.ErrorS(err, "MQTT connection lost", "broker", config.Broker)
	})
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(config.ConnectTimeout)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(config.ConnectTimeout) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", config.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %v", err)
	}

	klog.InfoS("Connected to MQTT broker", "broker", config.Broker, "clientID", config.ClientID)
	return &Client{client: client, config: config}, nil
}

// Native returns the underlying paho client
func (c *Client) Native() paho.Client {
	return c.client
}

// IsConnected reports whether the client is currently connected
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Close disconnects, allowing in-flight work 250ms to finish
func (c *Client) Close() {
	c.client.Disconnect(250)
	klog.V(2).InfoS("Disconnected from MQTT broker", "broker", c.config.Broker)
}
