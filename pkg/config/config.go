// Package config holds the experiment configuration: viper-backed defaults,
// config files, environment and flags, decoded into a validated Experiment.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/gilchrisn/graph-mia/pkg/dataset"
	"github.com/gilchrisn/graph-mia/pkg/errs"
)

// EnvPrefix prefixes environment overrides, e.g. MIA_EPOCHS_TARGET=50.
const EnvPrefix = "MIA"

// Config manages experiment configuration using Viper
type Config struct {
	v *viper.Viper
}

// New creates a configuration with defaults
func New() *Config {
	v := viper.New()

	// Experiment
	v.SetDefault("name", "unnamed")
	v.SetDefault("attack", "basic-shadow")
	v.SetDefault("dataset", "cora")
	v.SetDefault("split", "sampled")
	v.SetDefault("experiments", 1)
	v.SetDefault("seed", 0)
	v.SetDefault("device", "cpu")
	v.SetDefault("workers", 1)

	// Models and training
	v.SetDefault("model", "GCN")
	v.SetDefault("batch_size", 32)
	v.SetDefault("epochs_target", 100)
	v.SetDefault("epochs_attack", 100)
	v.SetDefault("lr", 1e-3)
	v.SetDefault("weight_decay", 0.0)
	v.SetDefault("dropout", 0.2)
	v.SetDefault("early_stopping", false)
	v.SetDefault("patience", 20)
	v.SetDefault("optimizer", "Adam")
	v.SetDefault("hidden_dim_target", 256)
	v.SetDefault("hidden_dim_attack", []int{128, 64})
	v.SetDefault("query_hops", 0)

	// Attacks
	v.SetDefault("num_shadow_models", 64)
	v.SetDefault("shadow_sample_ratio", 0.5)
	v.SetDefault("confidence_threshold", 0.5)
	v.SetDefault("rmia_offline_interp_param", 0.6)
	v.SetDefault("rmia_gamma", 1.0)
	v.SetDefault("rmia_population_samples", 1000)

	// Synthetic dataset
	syn := dataset.DefaultSyntheticConfig()
	v.SetDefault("synthetic.nodes", syn.Nodes)
	v.SetDefault("synthetic.classes", syn.Classes)
	v.SetDefault("synthetic.features", syn.Features)
	v.SetDefault("synthetic.p_in", syn.PIn)
	v.SetDefault("synthetic.p_out", syn.POut)
	v.SetDefault("synthetic.noise", syn.Noise)

	// IO and logging
	v.SetDefault("datadir", "./data")
	v.SetDefault("savedir", "./results")
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Config{v: v}
}

// LoadFromFile merges a configuration file (yaml, json or toml) over the
// defaults.
func (c *Config) LoadFromFile(path string) error {
	c.v.SetConfigFile(path)
	if err := c.v.ReadInConfig(); err != nil {
		return errs.Configf("read config %s: %v", path, err)
	}
	return nil
}

// AddFlags defines a command-line flag for every top-level key, named with
// dashes instead of underscores and defaulting to the current value.
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	fs.String("name", c.Name(), "experiment name used in reports")
	fs.String("attack", c.v.GetString("attack"), "attack: basic-shadow, confidence, lira, rmia")
	fs.String("dataset", c.v.GetString("dataset"), "dataset: cora, citeseer, synthetic")
	fs.String("split", c.v.GetString("split"), "target/shadow split: sampled, disjoint")
	fs.Int("experiments", c.v.GetInt("experiments"), "number of repetitions")
	fs.Uint64("seed", c.v.GetUint64("seed"), "base random seed")
	fs.String("device", c.v.GetString("device"), "compute device")
	fs.Int("workers", c.v.GetInt("workers"), "concurrent shadow model trainers")

	fs.String("model", c.v.GetString("model"), "architecture: GCN, SGC, GraphSAGE, GIN")
	fs.Int("batch-size", c.v.GetInt("batch_size"), "attack classifier batch size")
	fs.Int("epochs-target", c.v.GetInt("epochs_target"), "target and shadow training epochs")
	fs.Int("epochs-attack", c.v.GetInt("epochs_attack"), "attack classifier training epochs")
	fs.Float64("lr", c.v.GetFloat64("lr"), "learning rate")
	fs.Float64("weight-decay", c.v.GetFloat64("weight_decay"), "L2 weight decay")
	fs.Float64("dropout", c.v.GetFloat64("dropout"), "dropout rate")
	fs.Bool("early-stopping", c.v.GetBool("early_stopping"), "stop on validation loss plateau")
	fs.Int("patience", c.v.GetInt("patience"), "early stopping patience in epochs")
	fs.String("optimizer", c.v.GetString("optimizer"), "optimizer: Adam, SGD")
	fs.Int("hidden-dim-target", c.v.GetInt("hidden_dim_target"), "target model hidden dimension")
	fs.IntSlice("hidden-dim-attack", c.v.GetIntSlice("hidden_dim_attack"), "attack classifier hidden dimensions")
	fs.Int("query-hops", c.v.GetInt("query_hops"), "neighbourhood hops per query (0 = full graph)")

	fs.Int("num-shadow-models", c.v.GetInt("num_shadow_models"), "shadow models for LiRA and RMIA")
	fs.Float64("shadow-sample-ratio", c.v.GetFloat64("shadow_sample_ratio"), "population share per shadow model")
	fs.Float64("confidence-threshold", c.v.GetFloat64("confidence_threshold"), "membership decision threshold")
	fs.Float64("rmia-offline-interp-param", c.v.GetFloat64("rmia_offline_interp_param"), "offline RMIA interpolation a")
	fs.Float64("rmia-gamma", c.v.GetFloat64("rmia_gamma"), "RMIA likelihood ratio threshold")
	fs.Int("rmia-population-samples", c.v.GetInt("rmia_population_samples"), "RMIA population reference nodes")

	fs.String("datadir", c.v.GetString("datadir"), "dataset directory")
	fs.String("savedir", c.v.GetString("savedir"), "results directory")
	fs.String("log-level", c.LogLevel(), "log level")
}

// BindFlags binds every flag of fs whose dashed name matches a key, so that
// explicitly set flags override files and environment.
func (c *Config) BindFlags(fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if !isKnown(c.v, key) {
			return
		}
		if bindErr := c.v.BindPFlag(key, f); bindErr != nil && err == nil {
			err = errs.Configf("bind flag %s: %v", f.Name, bindErr)
		}
	})
	return err
}

func isKnown(v *viper.Viper, key string) bool {
	for _, k := range v.AllKeys() {
		if k == key {
			return true
		}
	}
	return false
}

// Getters for the values needed before an Experiment is decoded
func (c *Config) Name() string     { return c.v.GetString("name") }
func (c *Config) LogLevel() string { return c.v.GetString("log_level") }
func (c *Config) SaveDir() string  { return c.v.GetString("savedir") }
func (c *Config) DataDir() string  { return c.v.GetString("datadir") }

// Set allows dynamic configuration changes
func (c *Config) Set(key string, value any) {
	c.v.Set(key, value)
}

// Experiment decodes and validates the configuration.
func (c *Config) Experiment() (Experiment, error) {
	var e Experiment
	if err := c.v.Unmarshal(&e); err != nil {
		return Experiment{}, errs.Configf("decode configuration: %v", err)
	}
	if err := e.normalise(); err != nil {
		return Experiment{}, err
	}
	if err := validate(e); err != nil {
		return Experiment{}, err
	}
	return e, nil
}

// CreateLogger creates a zerolog logger based on config
func (c *Config) CreateLogger() zerolog.Logger {
	return NewLogger(c.LogLevel())
}

// NewLogger creates the console logger used by the mia command.
func NewLogger(levelName string) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05",
	}).Level(level).With().Timestamp().Str("service", "mia").Logger()
}

// String renders the effective settings, one key per line.
func (c *Config) String() string {
	keys := c.v.AllKeys()
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, c.v.Get(k))
	}
	return b.String()
}
