package policy

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// UserRule is a single operator-supplied regex rule, loaded from YAML
// alongside the built-in rules.
type UserRule struct {
	Name     string `yaml:"name"`
	Pattern  string `yaml:"pattern"`
	Severity string `yaml:"severity"`
	Reason   string `yaml:"reason"`
}

// Config is the Policy Engine's frozen, hot-swappable rule configuration.
type Config struct {
	Rules     []UserRule `yaml:"rules"`
	CacheSize int        `yaml:"cache_size"`
	LoadedAt  time.Time  `yaml:"-"`
}

// LoadConfigFile parses a YAML rule file into a Config.
func LoadConfigFile(path string, loadedAt time.Time) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("policy: parse config %s: %w", path, err)
	}
	for _, r := range cfg.Rules {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return nil, fmt.Errorf("policy: rule %q has invalid pattern: %w", r.Name, err)
		}
	}
	cfg.LoadedAt = loadedAt
	return &cfg, nil
}

// userRule compiles a UserRule into an evaluatable Rule.
type userRule struct {
	UserRule
	re *regexp.Regexp
}

func (u userRule) Name() string { return u.UserRule.Name }

func (u userRule) Evaluate(ctx SemanticContext) []Violation {
	matches := boundedFindAll(u.re, ctx.ActionText)
	if len(matches) == 0 {
		return nil
	}
	sev := Severity(u.Severity)
	if sev == "" {
		sev = SeverityLow
	}
	reason := u.Reason
	if reason == "" {
		reason = fmt.Sprintf("matched user rule %q", u.UserRule.Name)
	}
	return []Violation{{Rule: u.UserRule.Name, Severity: sev, Reason: reason}}
}

func compileUserRules(cfg *Config) ([]Rule, error) {
	if cfg == nil {
		return nil, nil
	}
	rules := make([]Rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("policy: rule %q has invalid pattern: %w", r.Name, err)
		}
		rules = append(rules, userRule{UserRule: r, re: re})
	}
	return rules, nil
}
