// Package phrase implements wake/sleep phrase detection for the voice front
// end.
//
// A [Config] lists the wake and sleep phrases together with the sentences
// spoken when one of them is heard. It is loaded from a JSON file:
//
//	{
//	  "wake_words":      ["hey luna", "wake up luna"],
//	  "sleep_words":     ["goodbye luna", "go to sleep"],
//	  "wake_responses":  ["Yes?", "I'm listening."],
//	  "sleep_responses": ["Goodbye!"]
//	}
//
// The [Matcher] scores transcripts against the active config using a
// normalised longest-common-subsequence ratio. The active config can be
// replaced at any time without stopping capture; each detection observes
// either the old or the new config in full.
package phrase

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrConfig marks a phrase configuration that is missing or malformed.
// Callers degrade to an empty config rather than terminating.
var ErrConfig = errors.New("phrase: configuration error")

// Config is an immutable set of phrase lists. Treat values returned by
// [Matcher.Config] as read-only; build a new Config to change anything.
type Config struct {
	WakeWords      []string `json:"wake_words"`
	SleepWords     []string `json:"sleep_words"`
	WakeResponses  []string `json:"wake_responses"`
	SleepResponses []string `json:"sleep_responses"`
}

// Empty reports whether no wake and no sleep phrase is configured, meaning no
// wake or sleep event can ever fire.
func (c *Config) Empty() bool {
	return c == nil || (len(c.WakeWords) == 0 && len(c.SleepWords) == 0)
}

// Patch is a partial update. A nil list leaves the corresponding list
// unchanged; a non-nil list (even an empty one) replaces it.
type Patch struct {
	WakeWords      []string `json:"wake_words"`
	SleepWords     []string `json:"sleep_words"`
	WakeResponses  []string `json:"wake_responses"`
	SleepResponses []string `json:"sleep_responses"`
}

// Apply returns a new Config with p's non-nil lists replacing those of c.
// c itself is not modified.
func (c *Config) Apply(p Patch) *Config {
	next := c.clone()
	if p.WakeWords != nil {
		next.WakeWords = p.WakeWords
	}
	if p.SleepWords != nil {
		next.SleepWords = p.SleepWords
	}
	if p.WakeResponses != nil {
		next.WakeResponses = p.WakeResponses
	}
	if p.SleepResponses != nil {
		next.SleepResponses = p.SleepResponses
	}
	return next.normalize()
}

// Parse decodes a phrase config from JSON. Phrases are lower-cased and
// trimmed; blank entries are dropped. Missing keys yield empty lists.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrConfig, err)
	}
	return cfg.normalize(), nil
}

// LoadFile reads and parses the phrase config at path. Every failure wraps
// [ErrConfig].
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %q: %v", ErrConfig, path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// clone returns a deep copy; a nil receiver yields an empty config.
func (c *Config) clone() *Config {
	if c == nil {
		return &Config{}
	}
	return &Config{
		WakeWords:      append([]string(nil), c.WakeWords...),
		SleepWords:     append([]string(nil), c.SleepWords...),
		WakeResponses:  append([]string(nil), c.WakeResponses...),
		SleepResponses: append([]string(nil), c.SleepResponses...),
	}
}

// normalize returns a copy with phrases lower-cased and every entry trimmed.
func (c *Config) normalize() *Config {
	if c == nil {
		return &Config{}
	}
	return &Config{
		WakeWords:      cleanList(c.WakeWords, true),
		SleepWords:     cleanList(c.SleepWords, true),
		WakeResponses:  cleanList(c.WakeResponses, false),
		SleepResponses: cleanList(c.SleepResponses, false),
	}
}

func cleanList(in []string, lower bool) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if lower {
			s = strings.ToLower(s)
		}
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
