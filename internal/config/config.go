// Package config loads taskfabric's viper-backed configuration: the broker's
// transition table and valid-status set, the registry's TTL, the worker
// harness's task names and periodic callback table, and the service client
// layer's URL-template table.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"taskfabric.dev/internal/task"
)

// CallbackConfig describes one periodic callback the worker harness should
// run: POST to URI every PeriodSeconds, across Threads concurrent runners,
// backing off for SleepSeconds after any response other than 200.
type CallbackConfig struct {
	URI           string `mapstructure:"uri"`
	PeriodSeconds int    `mapstructure:"period_seconds"`
	Threads       int    `mapstructure:"threads"`
	SleepSeconds  int    `mapstructure:"sleep_seconds"`
}

// EndpointTemplate is one `<method>: <url-template>` entry in the service
// client table.
type EndpointTemplate struct {
	Method      string
	URLTemplate string
}

// Config is the fully-resolved configuration shared by the broker, registry
// and worker binaries. Each binary reads only the subtree it needs.
type Config struct {
	Name string `mapstructure:"name"`

	Server struct {
		Port string `mapstructure:"port"`
	} `mapstructure:"server"`

	CouchDB struct {
		URL      string `mapstructure:"url"`
		Database string `mapstructure:"database"`
	} `mapstructure:"couchdb"`

	Registry struct {
		URL         string        `mapstructure:"url"`
		TTL         time.Duration `mapstructure:"ttl"`
		BoltPath    string        `mapstructure:"bolt_path"`
		HealthCheck time.Duration `mapstructure:"health_check_interval"`
	} `mapstructure:"registry"`

	Tasks struct {
		Todo string `mapstructure:"todo"`
		Do   string `mapstructure:"do"`
	} `mapstructure:"tasks"`

	Actions   map[string]map[string]string `mapstructure:"actions"`
	Statuses  []string                     `mapstructure:"statuses"`
	Callbacks map[string]CallbackConfig    `mapstructure:"callbacks"`

	// Services is services.<svc>.<op>.<method>: <url-template>.
	Services map[string]map[string]map[string]string `mapstructure:"services"`

	SSO struct {
		Enabled bool   `mapstructure:"enabled"`
		Secret  string `mapstructure:"secret"`
	} `mapstructure:"sso"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`

	Redis struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"redis"`

	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
}

// Load reads the full configuration tree out of v, applying defaults for
// any key neither the config file, environment, nor flags supplied.
func Load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("couchdb.url", "http://localhost:5984")
	v.SetDefault("couchdb.database", "taskfabric")
	v.SetDefault("registry.url", "http://localhost:8096")
	v.SetDefault("registry.ttl", "0s")
	v.SetDefault("registry.bolt_path", "registry.db")
	v.SetDefault("registry.health_check_interval", "30s")
	v.SetDefault("tasks.todo", "todo")
	v.SetDefault("tasks.do", "do")
	v.SetDefault("statuses", []string{"none", "todo", "doing", "done", "toredo", "fail"})
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("metrics.enabled", true)
}

// Transitions converts the config's Actions subtree into the
// task.Transitions the broker's Machine expects. A nil/empty Actions falls
// back to task.DefaultTransitions.
func (c *Config) Transitions() task.Transitions {
	if len(c.Actions) == 0 {
		return task.DefaultTransitions()
	}
	out := make(task.Transitions, len(c.Actions))
	for action, byStatus := range c.Actions {
		table := make(map[task.Status]task.Status, len(byStatus))
		for from, to := range byStatus {
			table[task.Status(from)] = task.Status(to)
		}
		out[task.Action(action)] = table
	}
	return out
}

// ValidStatuses converts the config's Statuses list into the
// task.ValidStatuses set Force validates against.
func (c *Config) ValidStatuses() task.ValidStatuses {
	if len(c.Statuses) == 0 {
		return task.DefaultValidStatuses()
	}
	out := make(task.ValidStatuses, len(c.Statuses))
	for _, s := range c.Statuses {
		out[task.Status(s)] = true
	}
	return out
}
