package secrets

// ApplyTo names the literal a rule inspects.
type ApplyTo string

const (
	ApplyEnvName    ApplyTo = "env_name"
	ApplyEnvValue   ApplyTo = "env_value"
	ApplyArgName    ApplyTo = "arg_name"
	ApplyArgValue   ApplyTo = "arg_value"
	ApplyLabelValue ApplyTo = "label_value"
)

type Severity string

const (
	SeverityWarn  Severity = "warn"
	SeverityBlock Severity = "block"
)

// Mode decides what blocking findings do to a run.
type Mode string

const (
	ModeWarn  Mode = "warn"
	ModeBlock Mode = "block"
	ModeOff   Mode = "off"
)

type Rule struct {
	ID        string    `json:"id" yaml:"id"`
	Enabled   *bool     `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Severity  Severity  `json:"severity" yaml:"severity"`
	AppliesTo []ApplyTo `json:"applies_to,omitempty" yaml:"applies_to,omitempty"`
	Regex     string    `json:"regex,omitempty" yaml:"regex,omitempty"`
	Message   string    `json:"message,omitempty" yaml:"message,omitempty"`
	Suggest   string    `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
}

type Config struct {
	Version string `json:"version" yaml:"version"`
	Rules   []Rule `json:"rules" yaml:"rules"`
}
