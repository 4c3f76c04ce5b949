package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	AMI        AMIConfig        `yaml:"ami"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Database   DatabaseConfig   `yaml:"database"`
	Dedup      DedupConfig      `yaml:"dedup"`
	HTTP       HTTPConfig       `yaml:"http"`
	Correlator CorrelatorConfig `yaml:"correlator"`
	PBX        PBXConfig        `yaml:"pbx"`
	Log        LogConfig        `yaml:"log"`
}

type AMIConfig struct {
	Host           string        `yaml:"host" validate:"required"`
	Port           int           `yaml:"port" validate:"min=1,max=65535"`
	Username       string        `yaml:"username" validate:"required"`
	Secret         string        `yaml:"secret" validate:"required"`
	ActionTimeout  time.Duration `yaml:"action_timeout" validate:"gt=0"`
	ActionRate     float64       `yaml:"action_rate" validate:"gte=0"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" validate:"gt=0"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker" validate:"required_if=Enabled true"`
	ClientID    string `yaml:"client_id" validate:"required_if=Enabled true"`
	TopicPrefix string `yaml:"topic_prefix" validate:"required_if=Enabled true"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

type DedupConfig struct {
	Backend string        `yaml:"backend" validate:"oneof=memory badger"`
	Path    string        `yaml:"path"`
	Window  time.Duration `yaml:"window" validate:"gte=0"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen" validate:"required_if=Enabled true"`
}

type CorrelatorConfig struct {
	QueueSize    int           `yaml:"queue_size" validate:"min=1"`
	KeyQueueSize int           `yaml:"key_queue_size" validate:"min=1"`
	CallTimeout  time.Duration `yaml:"call_timeout" validate:"gt=0"`
}

// PBXConfig describes the dial plan conventions of the exchange.
type PBXConfig struct {
	ExtensionPrefix    string   `yaml:"extension_prefix" validate:"required,numeric"`
	TrunkDigits        string   `yaml:"trunk_digits" validate:"omitempty,numeric"`
	MinStripLength     int      `yaml:"min_strip_length" validate:"min=5"` // longer than any extension
	OperatorNumbers    []string `yaml:"operator_numbers"`
	OperatorChannels   []string `yaml:"operator_channels"`
	OutboundExtensions []string `yaml:"outbound_extensions"`
	TrunkMarkers       []string `yaml:"trunk_markers" validate:"dive,required"`
	UnknownSentinel    string   `yaml:"unknown_sentinel"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

func (c *AMIConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Default returns the configuration used for any key the file leaves out.
func Default() *Config {
	return &Config{
		AMI: AMIConfig{
			Host:           "127.0.0.1",
			Port:           5038,
			ActionTimeout:  3 * time.Second,
			ActionRate:     20,
			ReconnectDelay: 5 * time.Second,
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "asterisk-ledger",
			TopicPrefix: "asterisk",
		},
		Dedup: DedupConfig{
			Backend: "memory",
			Window:  5 * time.Minute,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Listen:  ":8080",
		},
		Correlator: CorrelatorConfig{
			QueueSize:    1024,
			KeyQueueSize: 32,
			CallTimeout:  5 * time.Second,
		},
		PBX: PBXConfig{
			ExtensionPrefix:  "4",
			TrunkDigits:      "012",
			MinStripLength:   10,
			OperatorNumbers:  []string{"1000"},
			OperatorChannels: []string{"PJSIP/1000", "SIP/1000"},
			UnknownSentinel:  "<unknown>",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

var validate = newValidator()

// newValidator reports fields by their yaml key so errors read like the file.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Dedup.Backend == "memory" && c.Dedup.Path != "" {
		return fmt.Errorf("dedup.path is only valid with the badger backend")
	}
	return nil
}

// describe renders a validation failure using yaml key names.
func describe(fe validator.FieldError) string {
	// Namespace is "Config.ami.host"; drop the root type name.
	_, field, _ := strings.Cut(fe.Namespace(), ".")
	switch fe.Tag() {
	case "required", "required_if":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s, got %v", field, fe.Param(), fe.Value())
	case "max":
		return fmt.Sprintf("%s must be at most %s, got %v", field, fe.Param(), fe.Value())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "numeric":
		return fmt.Sprintf("%s must be numeric, got %q", field, fe.Value())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
