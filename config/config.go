package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/franksops/gotransfer/rse"
	"github.com/franksops/gotransfer/tool"
	"github.com/franksops/gotransfer/transfer"
)

// EnvPrefix is prepended to environment variable overrides, e.g.
// GXFER_GROUP_BULK=50.
const EnvPrefix = "GXFER"

const (
	BackendMemory = "memory"
	BackendDirect = "direct"
)

// ErrNoConfig is returned when a config file path is given but cannot be read.
var ErrNoConfig = errors.New("cannot read config file")

// Config is the gxfer configuration.
type Config struct {
	Transfertool       string        `mapstructure:"transfertool" validate:"required"`
	Backend            string        `mapstructure:"backend" validate:"oneof=memory direct"`
	GroupPolicy        string        `mapstructure:"group_policy" validate:"required"`
	GroupBulk          int           `mapstructure:"group_bulk" validate:"min=1"`
	EndpointAttribute  string        `mapstructure:"endpoint_attribute"`
	RequiredAttributes []string      `mapstructure:"required_attributes"`
	Schemes            []string      `mapstructure:"schemes"`
	ExternalHost       string        `mapstructure:"external_host"`
	StateDir           string        `mapstructure:"state_dir" validate:"required"`
	Streams            int           `mapstructure:"streams" validate:"min=1"`
	BufferSize         int           `mapstructure:"buffer_size" validate:"min=0"`
	Checksum           bool          `mapstructure:"checksum"`
	PollInterval       time.Duration `mapstructure:"poll_interval" validate:"min=100ms"`

	RSEs      []RSEConfig      `mapstructure:"rses" validate:"dive"`
	Endpoints []EndpointConfig `mapstructure:"endpoints" validate:"dive"`
}

// RSEConfig declares one storage element.
type RSEConfig struct {
	Name       string            `mapstructure:"name" validate:"required"`
	Attributes map[string]string `mapstructure:"attributes"`
	Protocol   ProtocolConfig    `mapstructure:"protocol"`
}

// ProtocolConfig is the addressing scheme of a storage element.
type ProtocolConfig struct {
	Scheme   string `mapstructure:"scheme"`
	Hostname string `mapstructure:"hostname"`
	Port     int    `mapstructure:"port" validate:"min=0,max=65535"`
	Prefix   string `mapstructure:"prefix"`
}

// EndpointConfig maps a backend endpoint id onto the storage root the direct
// backend copies from and to: file:///dir or s3://bucket/prefix.
type EndpointConfig struct {
	ID   string `mapstructure:"id" validate:"required"`
	Root string `mapstructure:"root" validate:"required"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("transfertool", tool.GlobusName)
	v.SetDefault("backend", BackendMemory)
	v.SetDefault("group_policy", string(transfer.DefaultPolicy))
	v.SetDefault("group_bulk", transfer.DefaultBulkSize)
	v.SetDefault("external_host", "")
	v.SetDefault("endpoint_attribute", rse.AttrEndpointID)
	v.SetDefault("state_dir", ".gxfer-state")
	v.SetDefault("streams", 8)
	v.SetDefault("buffer_size", 1024*1024)
	v.SetDefault("checksum", false)
	v.SetDefault("poll_interval", 2*time.Second)
}

// Load reads the configuration from path, which may be empty, and applies
// GXFER_ environment overrides on top of it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w %s: %w", ErrNoConfig, path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("error occurred when unmarshalling config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the struct tags and the values they cannot express.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := transfer.ParsePolicy(c.GroupPolicy); err != nil {
		return err
	}
	return nil
}

// Catalog builds the storage element catalog.
func (c *Config) Catalog() (*rse.Catalog, error) {
	rses := make([]rse.RSE, 0, len(c.RSEs))
	for _, r := range c.RSEs {
		rses = append(rses, rse.RSE{
			Name:       r.Name,
			Attributes: r.Attributes,
			Protocol: rse.Protocol{
				Scheme:   r.Protocol.Scheme,
				Hostname: r.Protocol.Hostname,
				Port:     r.Protocol.Port,
				Prefix:   r.Protocol.Prefix,
			},
		})
	}
	return rse.NewCatalog(rses...)
}

// EndpointRoots returns the endpoint id to storage root map.
func (c *Config) EndpointRoots() map[string]string {
	roots := make(map[string]string, len(c.Endpoints))
	for _, e := range c.Endpoints {
		roots[e.ID] = e.Root
	}
	return roots
}

// ToolOptions assembles the options of the configured transfer tool.
func (c *Config) ToolOptions(backend tool.Backend, attrs rse.AttributeStore) (tool.Options, error) {
	policy, err := transfer.ParsePolicy(c.GroupPolicy)
	if err != nil {
		return tool.Options{}, err
	}
	return tool.Options{
		ExternalHost:       c.ExternalHost,
		GroupPolicy:        policy,
		GroupBulk:          c.GroupBulk,
		EndpointAttribute:  c.EndpointAttribute,
		RequiredAttributes: c.RequiredAttributes,
		Schemes:            c.Schemes,
		Backend:            backend,
		Attributes:         attrs,
	}, nil
}
