package capture

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	RuleYouTubeTimedText = "youtube-timedtext"
	RuleNotionChunks     = "notion-chunks"
)

// Rule matches intercepted request URLs by substring. Refetch lets the
// tracker re-issue a GET with the tab's cookies when the browser has already
// dropped the body; requests with any other method are never replayed.
type Rule struct {
	Name       string `yaml:"name"`
	URLPattern string `yaml:"url_pattern"`
	Method     string `yaml:"method,omitempty"`
	Refetch    bool   `yaml:"refetch,omitempty"`
}

// RulesConfig is the top-level YAML configuration.
type RulesConfig struct {
	Rules        []Rule `yaml:"rules"`
	MaxBodyBytes int    `yaml:"max_body_bytes,omitempty"`
}

// DefaultRules covers YouTube caption tracks and Notion page chunks.
func DefaultRules() []Rule {
	return []Rule{
		{Name: RuleYouTubeTimedText, URLPattern: "/api/timedtext", Refetch: true},
		{Name: RuleNotionChunks, URLPattern: "/api/v3/loadCachedPageChunks"},
		{Name: RuleNotionChunks, URLPattern: "/api/v3/loadCachedPageChunkV2"},
	}
}

// LoadRules reads and validates an intercept YAML config file.
func LoadRules(path string) (*RulesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("intercept config: %w", err)
	}
	var cfg RulesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("intercept config: %w", err)
	}
	for i, r := range cfg.Rules {
		if r.Name == "" {
			return nil, fmt.Errorf("intercept config: rule[%d] missing name", i)
		}
		if r.URLPattern == "" {
			return nil, fmt.Errorf("intercept config: rule[%d] (%s) missing url_pattern", i, r.Name)
		}
	}
	if len(cfg.Rules) == 0 {
		cfg.Rules = DefaultRules()
	}
	return &cfg, nil
}

// matchRule returns the first rule whose pattern occurs in url.
func matchRule(rules []Rule, method, url string) (Rule, bool) {
	for _, r := range rules {
		if r.Method != "" && !strings.EqualFold(r.Method, method) {
			continue
		}
		if strings.Contains(url, r.URLPattern) {
			return r, true
		}
	}
	return Rule{}, false
}
