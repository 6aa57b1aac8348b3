package config

import (
	"github.com/spf13/pflag"
)

// Overrides holds command-line values that take precedence over the config
// file. Only flags the user actually set are applied.
type Overrides struct {
	ConfigPath      string
	Socket          string
	RepeatThreshold int
	Relay           bool
	Port            int
	LogLevel        string

	flagSet *pflag.FlagSet
}

// DefaultConfigPath is read when --config is not given.
const DefaultConfigPath = "/etc/lircj/config.yaml"

// AddFlags registers the shared flags on flagSet.
func (o *Overrides) AddFlags(flagSet *pflag.FlagSet) {
	o.flagSet = flagSet
	flagSet.StringVarP(&o.ConfigPath, "config", "c", DefaultConfigPath, "path to config file (missing file means defaults)")
	flagSet.StringVarP(&o.Socket, "socket", "s", "", "lircd socket path (overrides lirc.socket)")
	flagSet.IntVar(&o.RepeatThreshold, "repeat-threshold", 0, "minimum repeat count delivered; -1 accepts every press")
	flagSet.BoolVar(&o.Relay, "relay", false, "enable the WebSocket relay")
	flagSet.IntVarP(&o.Port, "port", "p", 0, "relay port (overrides relay.port)")
	flagSet.StringVar(&o.LogLevel, "log-level", "", "debug, info, warn or error (overrides log.level)")
}

// Apply copies every flag that was set on the command line into cfg.
func (o *Overrides) Apply(cfg *Config) {
	if o.changed("socket") {
		cfg.Lirc.Socket = o.Socket
	}
	if o.changed("repeat-threshold") {
		cfg.Lirc.RepeatThreshold = o.RepeatThreshold
	}
	if o.changed("relay") {
		cfg.Relay.Enabled = o.Relay
	}
	if o.changed("port") {
		cfg.Relay.Port = o.Port
	}
	if o.changed("log-level") {
		cfg.Log.Level = o.LogLevel
	}
}

// Resolve loads the config file named by --config and applies the
// overrides. An explicitly named file must exist.
func (o *Overrides) Resolve() (*Config, error) {
	var cfg *Config
	var err error
	if o.changed("config") {
		cfg, err = Load(o.ConfigPath)
	} else {
		cfg, err = LoadOrDefault(o.ConfigPath)
	}
	if err != nil {
		return nil, err
	}

	o.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *Overrides) changed(name string) bool {
	return o.flagSet != nil && o.flagSet.Changed(name)
}
