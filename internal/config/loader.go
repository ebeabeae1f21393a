package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Load reads the configuration file at path (or $CONFIG_PATH, or the
// compiled-in defaults when neither exists) and applies environment
// overrides of the form RESEARCH_<SECTION>_<KEY>.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}

	v := viper.New()
	v.SetEnvPrefix("RESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	// Bind keys so AutomaticEnv sees nested values even without a file.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// envKeys lists the nested keys that accept env overrides. Viper only
// consults AutomaticEnv for keys it already knows about.
var envKeys = []string{
	"service.port",
	"service.metrics_port",
	"logging.level",
	"logging.encoding",
	"temporal.host_port",
	"temporal.namespace",
	"temporal.task_queue",
	"redis.addr",
	"redis.password",
	"database.enabled",
	"database.host",
	"database.port",
	"database.user",
	"database.password",
	"database.name",
	"capabilities.text_generation.base_url",
	"capabilities.document_search.base_url",
	"research.default_fanout",
	"research.max_fanout",
	"research.worker_timeout",
	"research.coordinator_deadline",
	"research.low_confidence_threshold",
	"research.decomposer",
	"pipeline.max_reflection_redos",
	"pipeline.reflection_threshold",
	"pipeline.credibility_rules",
	"memory.default_ttl",
	"tracing.enabled",
	"tracing.otlp_endpoint",
}
