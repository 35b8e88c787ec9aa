// Package config defines the configuration of the credential authority.
package config

import (
	"time"

	"github.com/pkg/errors"
)

// ReservedProxyPrefix is the name prefix reserved for instance-scoped
// proxies. Organization proxies must not use it.
const ReservedProxyPrefix = "infisical-"

// Default.* hold the values applied by Config.Init when a field is unset.
const (
	DefaultKeyType = "RSA"
	DefaultKeyBits = 2048

	DefaultRootValidity         = 20 * 365 * 24 * time.Hour
	DefaultIntermediateValidity = 10 * 365 * 24 * time.Hour

	DefaultServerCertTTL  = 30 * 24 * time.Hour
	DefaultClientCertTTL  = 5 * time.Minute
	DefaultSSHHostCertTTL = 30 * 24 * time.Hour
	DefaultGatewayCertTTL = 5 * time.Minute

	DefaultSSHProxyPort = 2222
)

// Config holds the knobs of the CA hierarchy builder and credential issuer.
type Config struct {
	// KeyType, Curve and KeyBits select the key algorithm for every CA and
	// leaf key pair, in the fashion of keyutil ("RSA", "EC", "OKP").
	KeyType string `json:"keyType,omitempty"`
	Curve   string `json:"curve,omitempty"`
	KeyBits int    `json:"keyBits,omitempty"`

	// RootValidity and IntermediateValidity bound the CA certificates.
	RootValidity         time.Duration `json:"rootValidity,omitempty"`
	IntermediateValidity time.Duration `json:"intermediateValidity,omitempty"`

	// Leaf TTLs.
	ServerCertTTL  time.Duration `json:"serverCertTtl,omitempty"`
	ClientCertTTL  time.Duration `json:"clientCertTtl,omitempty"`
	SSHHostCertTTL time.Duration `json:"sshHostCertTtl,omitempty"`
	GatewayCertTTL time.Duration `json:"gatewayCertTtl,omitempty"`

	// SSHProxyPort is appended to the proxy IP in SSH host certificate
	// principals.
	SSHProxyPort int `json:"sshProxyPort,omitempty"`
}

// Init applies defaults to unset fields.
func (c *Config) Init() {
	if c.KeyType == "" {
		c.KeyType = DefaultKeyType
		if c.KeyBits == 0 {
			c.KeyBits = DefaultKeyBits
		}
	}
	if c.RootValidity == 0 {
		c.RootValidity = DefaultRootValidity
	}
	if c.IntermediateValidity == 0 {
		c.IntermediateValidity = DefaultIntermediateValidity
	}
	if c.ServerCertTTL == 0 {
		c.ServerCertTTL = DefaultServerCertTTL
	}
	if c.ClientCertTTL == 0 {
		c.ClientCertTTL = DefaultClientCertTTL
	}
	if c.SSHHostCertTTL == 0 {
		c.SSHHostCertTTL = DefaultSSHHostCertTTL
	}
	if c.GatewayCertTTL == 0 {
		c.GatewayCertTTL = DefaultGatewayCertTTL
	}
	if c.SSHProxyPort == 0 {
		c.SSHProxyPort = DefaultSSHProxyPort
	}
}

// Validate checks the consistency of the configuration.
func (c *Config) Validate() error {
	switch c.KeyType {
	case "RSA", "EC", "OKP":
	default:
		return errors.Errorf("unsupported keyType %q", c.KeyType)
	}
	if c.KeyType == "RSA" && c.KeyBits < 2048 {
		return errors.Errorf("keyBits %d is below the 2048 minimum for RSA", c.KeyBits)
	}
	if c.RootValidity < c.IntermediateValidity {
		return errors.New("rootValidity must not be shorter than intermediateValidity")
	}
	for _, ttl := range []time.Duration{c.ServerCertTTL, c.ClientCertTTL, c.SSHHostCertTTL, c.GatewayCertTTL} {
		if ttl <= 0 {
			return errors.New("leaf certificate TTLs must be positive")
		}
	}
	return nil
}

// Default returns an initialized default configuration.
func Default() *Config {
	c := new(Config)
	c.Init()
	return c
}
