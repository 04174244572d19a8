package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/danielpatrickdp/decision-dialogue/internal/policy"
	"github.com/danielpatrickdp/decision-dialogue/internal/retrain"
	"github.com/danielpatrickdp/decision-dialogue/internal/schema"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// #region types

// Config is the on-disk configuration of the decision engine and the
// programs built around it.
type Config struct {
	Schema     []schema.Attribute `yaml:"schema" validate:"required,min=1,dive"`
	Actions    []schema.Action    `yaml:"actions" validate:"required,min=1,unique"`
	Responses  map[string]string  `yaml:"responses"`
	Policy     PolicyConfig       `yaml:"policy"`
	Retrain    retrain.Config     `yaml:"retrain"`
	Classifier ClassifierConfig   `yaml:"classifier"`
	Storage    StorageConfig      `yaml:"storage"`
	Server     ServerConfig       `yaml:"server"`
	Game       GameConfig         `yaml:"game"`
	Logging    LoggingConfig      `yaml:"logging"`
}

// PolicyConfig selects the initial policy.
type PolicyConfig struct {
	Kind           string           `yaml:"kind" validate:"oneof=rule_table classifier"`
	Rules          *policy.RuleNode `yaml:"rules"`
	FallbackAction schema.Action    `yaml:"fallback_action"`
	KeepRuleTable  bool             `yaml:"keep_rule_table"` // never promote the classifier
}

// ClassifierConfig mirrors policy.ClassifierConfig with file tags.
type ClassifierConfig struct {
	Seed               int64 `yaml:"seed"`
	MaxDepth           int   `yaml:"max_depth" validate:"gte=0"`
	MinSamplesSplit    int   `yaml:"min_samples_split" validate:"gte=0"`
	MinSamplesPerClass int   `yaml:"min_samples_per_class" validate:"gte=0"`
}

// StorageConfig locates the SQLite database. An empty path keeps everything in memory.
type StorageConfig struct {
	Path         string `yaml:"path"`
	RestoreLog   bool   `yaml:"restore_log"`
	RestoreModel bool   `yaml:"restore_model"`
	LogLimit     int    `yaml:"log_limit" validate:"gte=0"`
}

// ServerConfig holds listen addresses for the serve command.
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr" validate:"required"`
	HTTPAddr string `yaml:"http_addr" validate:"required"`
}

// GameConfig drives the console game's NPC and world sampling.
type GameConfig struct {
	NPCName         string   `yaml:"npc_name" validate:"required"`
	Seed            int64    `yaml:"seed"`
	PlayerHealth    int      `yaml:"player_health" validate:"gte=0,lte=100"`
	PlayerFriendly  bool     `yaml:"player_friendly"`
	PlayerHasItem   bool     `yaml:"player_has_item"`
	InitialHealth   int      `yaml:"initial_health" validate:"gte=0,lte=100"`
	TimeOptions     []string `yaml:"time_options"`
	LocationOptions []string `yaml:"location_options"`
	MoodOptions     []string `yaml:"mood_options"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// #endregion types

// #region validate

var validate = validator.New()

// Validate checks struct constraints. Schema and rule-table consistency is
// checked later by Build.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// #endregion validate

// #region load

// Load reads path, fills unset fields from Default and applies environment
// overrides. An empty path loads the defaults.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		cfg, err = Parse(data)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	} else {
		cfg = Default()
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes a YAML document, rejecting unknown fields, and fills unset
// fields from Default.
func Parse(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(c *Config) {
	d := Default()
	if len(c.Schema) == 0 && len(c.Actions) == 0 {
		c.Schema, c.Actions = d.Schema, d.Actions
		if c.Policy.Rules == nil {
			c.Policy.Rules = d.Policy.Rules
		}
		if c.Responses == nil {
			c.Responses = d.Responses
		}
	}
	if c.Policy.Kind == "" {
		c.Policy.Kind = d.Policy.Kind
	}
	if c.Retrain.Interval == 0 {
		c.Retrain.Interval = d.Retrain.Interval
		if c.Retrain.Window == 0 {
			c.Retrain.Window = d.Retrain.Window
		}
	}
	if c.Classifier == (ClassifierConfig{}) {
		c.Classifier = d.Classifier
	}
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = d.Server.GRPCAddr
	}
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = d.Server.HTTPAddr
	}
	if c.Game.NPCName == "" {
		g := c.Game
		c.Game = d.Game
		if g.Seed != 0 {
			c.Game.Seed = g.Seed
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
}

func applyEnv(c *Config) {
	c.Storage.Path = envOr("NPC_DB", c.Storage.Path)
	c.Server.GRPCAddr = envOr("NPC_GRPC_ADDR", c.Server.GRPCAddr)
	c.Server.HTTPAddr = envOr("NPC_HTTP_ADDR", c.Server.HTTPAddr)
	c.Logging.Level = envOr("NPC_LOG_LEVEL", c.Logging.Level)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion load
