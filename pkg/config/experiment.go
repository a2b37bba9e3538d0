package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/gilchrisn/graph-mia/pkg/attack"
	"github.com/gilchrisn/graph-mia/pkg/dataset"
	"github.com/gilchrisn/graph-mia/pkg/errs"
	"github.com/gilchrisn/graph-mia/pkg/nn"
	"github.com/gilchrisn/graph-mia/pkg/shadow"
	"github.com/gilchrisn/graph-mia/pkg/trainer"
)

// AttackLR is the learning rate of the basic-shadow attack classifier.
const AttackLR = 1e-3

// Experiment is the decoded, validated configuration of one experiment.
// Names are normalised: Attack is an attack.Kind, Model a canonical
// architecture, Optimizer lower case.
type Experiment struct {
	Name        string `mapstructure:"name" json:"name" validate:"required"`
	Attack      string `mapstructure:"attack" json:"attack" validate:"required"`
	Dataset     string `mapstructure:"dataset" json:"dataset" validate:"oneof=cora citeseer synthetic"`
	Split       string `mapstructure:"split" json:"split" validate:"required"`
	Experiments int    `mapstructure:"experiments" json:"experiments" validate:"min=1"`
	Seed        uint64 `mapstructure:"seed" json:"seed"`
	Device      string `mapstructure:"device" json:"device" validate:"oneof=cpu"`
	Workers     int    `mapstructure:"workers" json:"workers" validate:"min=1"`

	Model           string  `mapstructure:"model" json:"model" validate:"required"`
	BatchSize       int     `mapstructure:"batch_size" json:"batch_size" validate:"min=1"`
	EpochsTarget    int     `mapstructure:"epochs_target" json:"epochs_target" validate:"min=1"`
	EpochsAttack    int     `mapstructure:"epochs_attack" json:"epochs_attack" validate:"min=1"`
	LR              float64 `mapstructure:"lr" json:"lr" validate:"gt=0"`
	WeightDecay     float64 `mapstructure:"weight_decay" json:"weight_decay" validate:"gte=0"`
	Dropout         float64 `mapstructure:"dropout" json:"dropout" validate:"gte=0,lt=1"`
	EarlyStopping   bool    `mapstructure:"early_stopping" json:"early_stopping"`
	Patience        int     `mapstructure:"patience" json:"patience" validate:"min=1"`
	Optimizer       string  `mapstructure:"optimizer" json:"optimizer" validate:"oneof=adam sgd"`
	HiddenDimTarget int     `mapstructure:"hidden_dim_target" json:"hidden_dim_target" validate:"min=1"`
	HiddenDimAttack []int   `mapstructure:"hidden_dim_attack" json:"hidden_dim_attack" validate:"dive,min=1"`
	QueryHops       int     `mapstructure:"query_hops" json:"query_hops" validate:"min=0"`

	NumShadowModels        int     `mapstructure:"num_shadow_models" json:"num_shadow_models" validate:"min=1"`
	ShadowSampleRatio      float64 `mapstructure:"shadow_sample_ratio" json:"shadow_sample_ratio" validate:"gt=0,lte=1"`
	ConfidenceThreshold    float64 `mapstructure:"confidence_threshold" json:"confidence_threshold" validate:"gte=0,lte=1"`
	RMIAOfflineInterpParam float64 `mapstructure:"rmia_offline_interp_param" json:"rmia_offline_interp_param" validate:"gte=0,lte=1"`
	RMIAGamma              float64 `mapstructure:"rmia_gamma" json:"rmia_gamma" validate:"gt=0"`
	RMIAPopulationSamples  int     `mapstructure:"rmia_population_samples" json:"rmia_population_samples" validate:"min=1"`

	Synthetic dataset.SyntheticConfig `mapstructure:"synthetic" json:"synthetic"`

	DataDir  string `mapstructure:"datadir" json:"datadir"`
	SaveDir  string `mapstructure:"savedir" json:"savedir"`
	LogLevel string `mapstructure:"log_level" json:"log_level"`
}

// normalise canonicalises names, rejecting unknown ones.
func (e *Experiment) normalise() error {
	kind, err := attack.ParseKind(e.Attack)
	if err != nil {
		return err
	}
	e.Attack = string(kind)
	if kind == attack.LiRAKind && e.NumShadowModels < 2 {
		return errs.Configf("lira needs at least 2 shadow models for a standard deviation, got %d", e.NumShadowModels)
	}

	if _, err := dataset.ParseSplitMode(e.Split); err != nil {
		return err
	}
	if e.Model, err = nn.ParseArch(e.Model); err != nil {
		return err
	}
	if e.Model == nn.MLP {
		return errs.Configf("model %q cannot be a graph target", e.Model)
	}
	e.Dataset = strings.ToLower(e.Dataset)
	e.Optimizer = strings.ToLower(e.Optimizer)
	e.Device = strings.ToLower(e.Device)
	return nil
}

var structValidator = validator.New()

func validate(e Experiment) error {
	err := structValidator.Struct(e)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errs.Configf("validation: %v", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, formatFieldError(fe))
	}
	return errs.Configf("%s", strings.Join(msgs, "; "))
}

func formatFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got: %v)", field, fe.Param(), fe.Value())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s (got: %v)", field, fe.Param(), fe.Value())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s (got: %v)", field, fe.Param(), fe.Value())
	case "lt", "lte":
		return fmt.Sprintf("%s must be at most %s (got: %v)", field, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s validation (got: %v)", field, fe.Tag(), fe.Value())
	}
}

// Kind returns the attack kind.
func (e Experiment) Kind() attack.Kind {
	return attack.Kind(e.Attack)
}

// SplitMode returns the target/shadow split mode.
func (e Experiment) SplitMode() dataset.SplitMode {
	return dataset.SplitMode(e.Split)
}

// TargetSpec describes the target model; shadow models share it.
func (e Experiment) TargetSpec(numFeatures, numClasses int) nn.Spec {
	return nn.Spec{
		Arch:        e.Model,
		NumFeatures: numFeatures,
		Hidden:      e.HiddenDimTarget,
		NumClasses:  numClasses,
		Dropout:     e.Dropout,
	}
}

// TargetTrain returns the training configuration of target and shadow models.
func (e Experiment) TargetTrain() trainer.Config {
	return trainer.Config{
		Device:        e.Device,
		Epochs:        e.EpochsTarget,
		EarlyStopping: e.EarlyStopping,
		Patience:      e.Patience,
		LR:            e.LR,
		WeightDecay:   e.WeightDecay,
		Optimizer:     e.Optimizer,
		BatchSize:     e.BatchSize,
	}
}

// AttackTrain returns the training configuration of the attack classifier.
func (e Experiment) AttackTrain() trainer.Config {
	c := e.TargetTrain()
	c.Epochs = e.EpochsAttack
	c.LR = AttackLR
	return c
}

// ShadowConfig returns the ensemble configuration for a repetition seed.
func (e Experiment) ShadowConfig(seed uint64) shadow.Config {
	return shadow.Config{
		NumModels:   e.NumShadowModels,
		SampleRatio: e.ShadowSampleRatio,
		QueryHops:   e.QueryHops,
		Workers:     e.Workers,
		Seed:        seed,
		Model:       e.TargetSpec(0, 0),
		Train:       e.TargetTrain(),
		Masks:       dataset.DefaultMaskFractions(),
	}
}

func (e Experiment) BasicShadowConfig(seed uint64) attack.BasicShadowConfig {
	return attack.BasicShadowConfig{
		Model:        e.TargetSpec(0, 0),
		ShadowTrain:  e.TargetTrain(),
		AttackHidden: e.HiddenDimAttack,
		AttackTrain:  e.AttackTrain(),
		QueryHops:    e.QueryHops,
		Threshold:    e.ConfidenceThreshold,
		Seed:         seed,
	}
}

func (e Experiment) ConfidenceConfig() attack.ConfidenceConfig {
	return attack.ConfidenceConfig{QueryHops: e.QueryHops, Threshold: e.ConfidenceThreshold}
}

func (e Experiment) LiRAConfig(seed uint64) attack.LiRAConfig {
	return attack.LiRAConfig{Shadow: e.ShadowConfig(seed), Threshold: e.ConfidenceThreshold}
}

func (e Experiment) RMIAConfig(seed uint64) attack.RMIAConfig {
	return attack.RMIAConfig{
		Shadow:            e.ShadowConfig(seed),
		InterpParam:       e.RMIAOfflineInterpParam,
		Gamma:             e.RMIAGamma,
		PopulationSamples: e.RMIAPopulationSamples,
		Threshold:         e.ConfidenceThreshold,
	}
}
