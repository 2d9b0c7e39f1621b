// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/CeresDB/ceresshard/pkg/log"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPPort      = 8080
	defaultEnableMetrics = true

	defaultEnableLimiter                 = true
	defaultTokenBucketFillRate           = 1
	defaultTokenBucketBurstEventCapacity = 10

	envPrefix = "CERESSHARD_"
)

// LimiterConfig configures the throttle of noisy log events.
type LimiterConfig struct {
	Enable                        bool     `toml:"enable" yaml:"enable" json:"enable"`
	TokenBucketFillRate           int      `toml:"token-bucket-fill-rate" yaml:"token-bucket-fill-rate" json:"tokenBucketFillRate"`
	TokenBucketBurstEventCapacity int      `toml:"token-bucket-burst-event-capacity" yaml:"token-bucket-burst-event-capacity" json:"tokenBucketBurstEventCapacity"`
	UnLimitList                   []string `toml:"unlimit-list" yaml:"unlimit-list" json:"unlimitList"`
}

func (c LimiterConfig) Validate() error {
	if c.TokenBucketFillRate < 0 {
		return ErrInvalidConfig.WithCausef("invalid log limiter fill rate:%d", c.TokenBucketFillRate)
	}
	if c.Enable && c.TokenBucketBurstEventCapacity <= 0 {
		return ErrInvalidConfig.WithCausef("invalid log limiter burst capacity:%d", c.TokenBucketBurstEventCapacity)
	}
	return nil
}

// ShardIdentityConfig is the identity the node recovers its cluster role from at startup.
type ShardIdentityConfig struct {
	// Roles contains the cluster roles of the node, e.g. "shardsvr", "configsvr".
	Roles                  []string `toml:"roles" yaml:"roles"`
	ShardID                string   `toml:"shard-id" yaml:"shard-id"`
	ClusterID              string   `toml:"cluster-id" yaml:"cluster-id"`
	ConfigConnectionString string   `toml:"config-connection-string" yaml:"config-connection-string"`
}

type Config struct {
	NodeName        string `toml:"node-name" yaml:"node-name"`
	MaintenanceMode bool   `toml:"maintenance-mode" yaml:"maintenance-mode"`
	HTTPPort        int    `toml:"http-port" yaml:"http-port"`
	EnableMetrics   bool   `toml:"enable-metrics" yaml:"enable-metrics"`

	Log        log.Config           `toml:"log" yaml:"log"`
	LogLimiter LimiterConfig        `toml:"log-limiter" yaml:"log-limiter"`
	Identity   *ShardIdentityConfig `toml:"shard-identity" yaml:"shard-identity"`

	// ConfigFile is set by the command line only.
	ConfigFile string `toml:"-" yaml:"-"`
}

// DefaultConfig returns a Config filled with the default values.
func DefaultConfig() *Config {
	return &Config{
		HTTPPort:      defaultHTTPPort,
		EnableMetrics: defaultEnableMetrics,
		Log: log.Config{
			Level: log.DefaultLogLevel,
			File:  log.DefaultLogFile,
		},
		LogLimiter: LimiterConfig{
			Enable:                        defaultEnableLimiter,
			TokenBucketFillRate:           defaultTokenBucketFillRate,
			TokenBucketBurstEventCapacity: defaultTokenBucketBurstEventCapacity,
			UnLimitList:                   []string{},
		},
	}
}

// ValidateAndAdjust validates the config fields and adjusts some fields which should be adjusted.
func (c *Config) ValidateAndAdjust() error {
	if c.NodeName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return ErrRetrieveHostname.WithCause(err)
		}
		c.NodeName = hostname
	}

	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return ErrInvalidConfig.WithCausef("invalid http port:%d", c.HTTPPort)
	}

	return c.LogLimiter.Validate()
}

// Parser builds the Config from the command line, the config file and the environment, in this order.
type Parser struct {
	flagSet *flag.FlagSet
	cfg     *Config
}

func MakeConfigParser() (*Parser, error) {
	cfg := DefaultConfig()
	fs := flag.NewFlagSet("ceresshard", flag.ContinueOnError)

	builder := &Parser{
		flagSet: fs,
		cfg:     cfg,
	}

	fs.StringVar(&cfg.ConfigFile, "config", "", "config file path, toml or yaml")
	fs.StringVar(&cfg.NodeName, "node-name", cfg.NodeName, "name of this node")
	fs.BoolVar(&cfg.MaintenanceMode, "maintenance-mode", cfg.MaintenanceMode, "start the node in maintenance mode")
	fs.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "port of the http service")
	fs.BoolVar(&cfg.EnableMetrics, "enable-metrics", cfg.EnableMetrics, "expose prometheus metrics")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level")
	fs.StringVar(&cfg.Log.File, "log-file", cfg.Log.File, "log file")

	return builder, nil
}

// Parse parses the command line arguments. ErrHelpRequested is returned if the usage is printed.
func (p *Parser) Parse(arguments []string) (*Config, error) {
	if err := p.flagSet.Parse(arguments); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, ErrHelpRequested.WithCause(err)
		}
		return nil, ErrInvalidCommandArgs.WithCausef("fail to parse flag arguments:%v, err:%v", arguments, err)
	}
	return p.cfg, nil
}

// ParseConfigFromFile parses the config file if it is provided.
// Flags provided in the command line take precedence over the config file.
func (p *Parser) ParseConfigFromFile() error {
	if p.cfg.ConfigFile == "" {
		return nil
	}

	data, err := os.ReadFile(p.cfg.ConfigFile)
	if err != nil {
		return ErrReadConfigFile.WithCause(err)
	}

	fileCfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(p.cfg.ConfigFile)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, fileCfg)
	default:
		err = toml.Unmarshal(data, fileCfg)
	}
	if err != nil {
		return ErrInvalidConfig.WithCausef("parse config file:%s, err:%v", p.cfg.ConfigFile, err)
	}

	p.mergeFileConfig(fileCfg)
	return nil
}

func (p *Parser) mergeFileConfig(fileCfg *Config) {
	fileCfg.ConfigFile = p.cfg.ConfigFile
	setByFlag := map[string]struct{}{}
	p.flagSet.Visit(func(f *flag.Flag) {
		setByFlag[f.Name] = struct{}{}
	})

	flagCfg := *p.cfg
	*p.cfg = *fileCfg
	for name := range setByFlag {
		switch name {
		case "node-name":
			p.cfg.NodeName = flagCfg.NodeName
		case "maintenance-mode":
			p.cfg.MaintenanceMode = flagCfg.MaintenanceMode
		case "http-port":
			p.cfg.HTTPPort = flagCfg.HTTPPort
		case "enable-metrics":
			p.cfg.EnableMetrics = flagCfg.EnableMetrics
		case "log-level":
			p.cfg.Log.Level = flagCfg.Log.Level
		case "log-file":
			p.cfg.Log.File = flagCfg.Log.File
		}
	}
}

// ParseConfigFromEnv overrides the config with the CERESSHARD_* environment variables.
func (p *Parser) ParseConfigFromEnv() error {
	lookup := func(name string) (string, bool) {
		return os.LookupEnv(envPrefix + name)
	}

	if v, ok := lookup("NODE_NAME"); ok {
		p.cfg.NodeName = v
	}
	if v, ok := lookup("MAINTENANCE_MODE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return ErrInvalidConfig.WithCausef("parse env %sMAINTENANCE_MODE:%s, err:%v", envPrefix, v, err)
		}
		p.cfg.MaintenanceMode = b
	}
	if v, ok := lookup("HTTP_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return ErrInvalidConfig.WithCausef("parse env %sHTTP_PORT:%s, err:%v", envPrefix, v, err)
		}
		p.cfg.HTTPPort = port
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		p.cfg.Log.Level = v
	}
	return nil
}

// String dumps the config in toml, for logging.
func (c *Config) String() string {
	b, err := toml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("<invalid config, err:%v>", err)
	}
	return string(b)
}
