// Package config provides the relaychat configuration, loaded from TOML.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "NOTICE"

	// DefaultPort is the relay's default TCP port.
	DefaultPort = 7890

	// DefaultMaxMessageLength is the chat message cap, in characters.
	DefaultMaxMessageLength = 2000

	defaultRelayAddress = "0.0.0.0"
	defaultChatAddress  = "127.0.0.1"
	defaultWriteTimeout = 10 * 1000 // 10 sec.
	defaultDialTimeout  = 10 * 1000 // 10 sec.
	defaultBaseBits     = 512
	defaultModulusBits  = 2048
)

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

// Validate validates the logging configuration.
func (lCfg *Logging) Validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = DefaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl // Force uppercase.
	return nil
}

// Relay is the relay server configuration.
type Relay struct {
	// Address is the address to listen on.
	Address string

	// Port is the TCP port to listen on.
	Port int

	// WriteTimeout is the per-envelope write deadline in milliseconds. A peer
	// that does not drain its socket within it is disconnected.
	WriteTimeout int

	// MetricsAddress is the host:port of the HTTP status endpoint, empty disables it.
	MetricsAddress string

	// Discovery publishes the relay over mDNS under a generated code.
	Discovery bool

	// BaseBits and ModulusBits size the handshake parameters g and n.
	BaseBits    int
	ModulusBits int
}

func (rCfg *Relay) applyDefaults() {
	if rCfg.Address == "" {
		rCfg.Address = defaultRelayAddress
	}
	if rCfg.Port == 0 {
		rCfg.Port = DefaultPort
	}
	if rCfg.WriteTimeout == 0 {
		rCfg.WriteTimeout = defaultWriteTimeout
	}
	if rCfg.BaseBits == 0 {
		rCfg.BaseBits = defaultBaseBits
	}
	if rCfg.ModulusBits == 0 {
		rCfg.ModulusBits = defaultModulusBits
	}
}

func (rCfg *Relay) validate() error {
	if err := validatePort(rCfg.Port); err != nil {
		return fmt.Errorf("config: Relay: %w", err)
	}
	if rCfg.WriteTimeout < 0 {
		return errors.New("config: Relay: WriteTimeout can't be negative")
	}
	if rCfg.BaseBits < 2 || rCfg.ModulusBits < 2 {
		return errors.New("config: Relay: BaseBits and ModulusBits must be at least 2")
	}
	if rCfg.MetricsAddress != "" {
		if _, _, err := net.SplitHostPort(rCfg.MetricsAddress); err != nil {
			return fmt.Errorf("config: Relay: MetricsAddress '%v' is invalid: %w", rCfg.MetricsAddress, err)
		}
	}
	return nil
}

// ListenAddress returns the host:port the relay listens on.
func (rCfg *Relay) ListenAddress() string {
	return net.JoinHostPort(rCfg.Address, strconv.Itoa(rCfg.Port))
}

// WriteDeadline returns WriteTimeout as a duration.
func (rCfg *Relay) WriteDeadline() time.Duration {
	return time.Duration(rCfg.WriteTimeout) * time.Millisecond
}

// Chat is the chat client configuration.
type Chat struct {
	// Address is the relay host to connect to.
	Address string

	// Port is the relay port to connect to.
	Port int

	// DialTimeout is the connect timeout in milliseconds.
	DialTimeout int

	// WriteTimeout is the per-envelope write deadline in milliseconds.
	WriteTimeout int

	// MaxMessageLength caps outgoing messages, in characters.
	MaxMessageLength int

	// HandshakeTimeout abandons a handshake whose peer never answers, in
	// milliseconds. 0 waits forever.
	HandshakeTimeout int
}

func (cCfg *Chat) applyDefaults() {
	if cCfg.Address == "" {
		cCfg.Address = defaultChatAddress
	}
	if cCfg.Port == 0 {
		cCfg.Port = DefaultPort
	}
	if cCfg.DialTimeout == 0 {
		cCfg.DialTimeout = defaultDialTimeout
	}
	if cCfg.WriteTimeout == 0 {
		cCfg.WriteTimeout = defaultWriteTimeout
	}
	if cCfg.MaxMessageLength == 0 {
		cCfg.MaxMessageLength = DefaultMaxMessageLength
	}
}

func (cCfg *Chat) validate() error {
	if err := validatePort(cCfg.Port); err != nil {
		return fmt.Errorf("config: Chat: %w", err)
	}
	if cCfg.DialTimeout < 0 || cCfg.WriteTimeout < 0 || cCfg.HandshakeTimeout < 0 {
		return errors.New("config: Chat: timeouts can't be negative")
	}
	if cCfg.MaxMessageLength < 1 {
		return errors.New("config: Chat: MaxMessageLength must be positive")
	}
	return nil
}

// RelayAddress returns the relay host:port to dial.
func (cCfg *Chat) RelayAddress() string {
	return net.JoinHostPort(cCfg.Address, strconv.Itoa(cCfg.Port))
}

// Config is the top level relaychat configuration.
type Config struct {
	Relay   *Relay
	Chat    *Chat
	Logging *Logging
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.
func (cfg *Config) FixupAndValidate() error {
	if cfg.Relay == nil {
		cfg.Relay = new(Relay)
	}
	if cfg.Chat == nil {
		cfg.Chat = new(Chat)
	}
	if cfg.Logging == nil {
		cfg.Logging = new(Logging)
	}

	cfg.Relay.applyDefaults()
	cfg.Chat.applyDefaults()

	if err := cfg.Relay.validate(); err != nil {
		return err
	}
	if err := cfg.Chat.validate(); err != nil {
		return err
	}
	return cfg.Logging.Validate()
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := new(Config)
	if err := cfg.FixupAndValidate(); err != nil {
		panic("config: defaults are invalid: " + err.Error())
	}
	return cfg
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("Port %d is out of range", port)
	}
	return nil
}
