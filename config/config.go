// Site configuration.
//
// One YAML file describes everything site-specific: where period files live (per metric), which
// providers answer which capability and in what order, the time zone used when formatting dates
// into paths, and the coordinates of optional backends (database, Kafka broker).  The file is
// loaded once at startup and treated as immutable for the process lifetime.
//
// Template values are recursive: a scalar is a literal strftime pattern, a sequence is an ordered
// list of alternatives, and a mapping selects among named sub-templates by selector key.  Pattern
// validity is deliberately *not* checked here - whether a template is well formed can depend on
// the selector used, so patterns are compiled at first use.
//
// Example:
//
//	timezone: UTC
//	metrics:
//	  ostreads:
//	    dataset: readrate
//	    template:
//	      cscratch: /data/cscratch/%Y-%m-%d/ostrates.tts
//	      bscratch:
//	        - /data/bscratch/%Y-%m-%d/ostrates.tts
//	        - /data/bscratch-old/%Y/%m/%d/ostrates.tts
//	chains:
//	  jobinfo: [slurmfile, jobsdb]
//	files:
//	  jobinfo: /var/log/acct/%Y-%m-%d.acct
//	  lfsstatus: /var/log/lfs/%Y-%m-%d.status

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"iostitch/datepath"
	"iostitch/errs"
)

const ConfigEnvVar = "IOSTITCH_CONFIG"

type Config struct {
	// MT: Immutable after initialization
	Timezone     string                   `yaml:"timezone"`
	Database     string                   `yaml:"database"`
	CacheFile    string                   `yaml:"cache_file"`
	Kafka        KafkaConfig              `yaml:"kafka"`
	Metrics      map[string]MetricConfig  `yaml:"metrics"`
	Chains       map[string][]string      `yaml:"chains"`
	Files        map[string]*TemplateNode `yaml:"files"`
	LookbackDays int                      `yaml:"lookback_days"`

	loc *time.Location
}

type KafkaConfig struct {
	Broker string   `yaml:"broker"`
	Topics []string `yaml:"topics"`
}

type MetricConfig struct {
	Dataset  string        `yaml:"dataset"`
	Template *TemplateNode `yaml:"template"`
	// Grid resolution for ingested samples, default 60.  Irrelevant for querying, where the
	// period files themselves carry the timestamps.
	TimestepSeconds int `yaml:"timestep_seconds"`
	// True when the samples are monotonic counters that should be stored as per-step deltas.
	Deltas bool `yaml:"deltas"`
}

// TemplateNode carries a template through YAML decoding without forcing eager validation.
type TemplateNode struct {
	tmpl *datepath.Template
}

func (n *TemplateNode) Template() *datepath.Template {
	if n == nil {
		return nil
	}
	return n.tmpl
}

func (n *TemplateNode) UnmarshalYAML(node *yaml.Node) error {
	tmpl, err := decodeTemplate(node)
	if err != nil {
		return err
	}
	n.tmpl = tmpl
	return nil
}

func decodeTemplate(node *yaml.Node) (*datepath.Template, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		var pattern string
		if err := node.Decode(&pattern); err != nil {
			return nil, err
		}
		return datepath.Literal(pattern), nil
	case yaml.SequenceNode:
		alts := make([]*datepath.Template, 0, len(node.Content))
		for _, item := range node.Content {
			sub, err := decodeTemplate(item)
			if err != nil {
				return nil, err
			}
			alts = append(alts, sub)
		}
		return datepath.Alternatives(alts...), nil
	case yaml.MappingNode:
		keyed := make(map[string]*datepath.Template, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			var key string
			if err := node.Content[i].Decode(&key); err != nil {
				return nil, err
			}
			if _, dup := keyed[key]; dup {
				return nil, fmt.Errorf("duplicate template key %q at line %d", key, node.Content[i].Line)
			}
			sub, err := decodeTemplate(node.Content[i+1])
			if err != nil {
				return nil, err
			}
			keyed[key] = sub
		}
		return datepath.Keyed(keyed), nil
	default:
		return nil, fmt.Errorf("bad template value at line %d", node.Line)
	}
}

func (c *Config) Location() *time.Location {
	return c.loc
}

// Lookback is the window providers search backward from a reference date when the request carries
// no time hints.
func (c *Config) Lookback() time.Duration {
	days := c.LookbackDays
	if days <= 0 {
		days = 7
	}
	return time.Duration(days) * 24 * time.Hour
}

// Load reads the site configuration from filename; if filename is empty the ConfigEnvVar
// environment variable names the file.
func Load(filename string) (*Config, error) {
	if filename == "" {
		filename = os.Getenv(ConfigEnvVar)
	}
	if filename == "" {
		return nil, errs.Configuration("no site configuration: pass -config or set %s", ConfigEnvVar)
	}
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, errs.Configuration("cannot read site configuration %s: %v", filename, err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, errs.Configuration("bad site configuration: %v", err)
	}
	c.loc = time.UTC
	if c.Timezone != "" {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return nil, errs.Configuration("bad timezone %q: %v", c.Timezone, err)
		}
		c.loc = loc
	}
	return &c, nil
}
