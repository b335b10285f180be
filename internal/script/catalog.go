// Package script loads the funnel copy from YAML.
package script

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultScript []byte

// Keys used by the bot.
const (
	KeyBootLines            = "boot.lines"
	KeyIntroLines           = "intro.lines"
	KeyIntroAccept          = "intro.accept"
	KeyIntroDecline         = "intro.decline"
	KeyTerminatedText       = "terminated.text"
	KeyTerminatedRecover    = "terminated.recover"
	KeyTransitionText       = "transition.text"
	KeyTransitionSkip       = "transition.skip"
	KeyCalibration1Prompt   = "calibration1.prompt"
	KeyCalibration2Prompt   = "calibration2.prompt"
	KeyCalibration2Thinking = "calibration2_thinking.lines"
	KeyCognition1Prompt     = "cognition1.prompt"
	KeyCognition1Hint       = "cognition1.placeholder"
	KeyCognition2Prompt     = "cognition2.prompt"
	KeyCognition2Hint       = "cognition2.placeholder"
	KeyCommitmentPrompt     = "commitment.prompt"
	KeyCommitmentOptions    = "commitment.options"
	KeyContactPrompt        = "contact.prompt"
	KeyContactAsk           = "contact.ask"
	KeyContactSubmitting    = "contact.submitting"
	KeyFinalThinkingLines   = "final_thinking.lines"
	KeyFinalText            = "final.text"
	KeyFinalCTA             = "final.cta"
	KeyFinalCommunity       = "final.community"
	KeyFinalFooter          = "final.footer"
	KeySubmit               = "labels.submit"
	KeySelected             = "labels.selected"
	KeyPending              = "labels.pending"
	KeyUnknownCommand       = "labels.unknown_command"
	KeyCancelled            = "labels.cancelled"
)

// ContactFieldKey returns the label key of a contact field.
func ContactFieldKey(field string) string {
	return "contact.fields." + field
}

// EffectKey returns the caption key of a transition effect.
func EffectKey(effect string) string {
	return "effects." + effect
}

// Catalog is an immutable set of flattened entries. Lists are stored as key.0, key.1, ...
type Catalog struct {
	entries map[string]string
}

// Default returns the embedded script.
func Default() (*Catalog, error) {
	return Parse(defaultScript)
}

// Load reads the embedded script and overlays path when it is not empty.
func Load(path string) (*Catalog, error) {
	catalog, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return catalog, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("script: read file %s: %w", path, err)
	}

	override, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("script: %s: %w", path, err)
	}

	return catalog.merge(override), nil
}

// Parse decodes a YAML document into a Catalog.
func Parse(data []byte) (*Catalog, error) {
	entries := make(map[string]string)
	if strings.TrimSpace(string(data)) == "" {
		return &Catalog{entries: entries}, nil
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("script: parse: %w", err)
	}

	flatten("", raw, entries)
	return &Catalog{entries: entries}, nil
}

// Text returns the entry for key, or key itself when missing.
func (c *Catalog) Text(key string) string {
	if value, ok := c.entries[key]; ok {
		return value
	}
	return key
}

// Textf formats the entry for key.
func (c *Catalog) Textf(key string, args ...any) string {
	return fmt.Sprintf(c.Text(key), args...)
}

// Lines returns the list stored under key.
func (c *Catalog) Lines(key string) []string {
	var lines []string
	for i := 0; ; i++ {
		value, ok := c.entries[key+"."+strconv.Itoa(i)]
		if !ok {
			return lines
		}
		lines = append(lines, value)
	}
}

// Keys returns every key in sorted order.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// merge overlays other on c. A list in other replaces the whole list in c.
func (c *Catalog) merge(other *Catalog) *Catalog {
	merged := make(map[string]string, len(c.entries))
	for k, v := range c.entries {
		merged[k] = v
	}

	for list := range other.listKeys() {
		for i := 0; ; i++ {
			key := list + "." + strconv.Itoa(i)
			if _, ok := merged[key]; !ok {
				break
			}
			delete(merged, key)
		}
	}
	for k, v := range other.entries {
		merged[k] = v
	}

	return &Catalog{entries: merged}
}

func (c *Catalog) listKeys() map[string]struct{} {
	lists := make(map[string]struct{})
	for k := range c.entries {
		if strings.HasSuffix(k, ".0") {
			lists[strings.TrimSuffix(k, ".0")] = struct{}{}
		}
	}
	return lists
}

func flatten(prefix string, value any, out map[string]string) {
	join := func(key string) string {
		if prefix == "" {
			return key
		}
		return prefix + "." + key
	}

	switch v := value.(type) {
	case string:
		if prefix != "" {
			out[prefix] = v
		}
	case int, int64, float64, bool:
		if prefix != "" {
			out[prefix] = fmt.Sprint(v)
		}
	case []any:
		for i, item := range v {
			flatten(join(strconv.Itoa(i)), item, out)
		}
	case map[string]any:
		for key, item := range v {
			if key == "" {
				continue
			}
			flatten(join(key), item, out)
		}
	}
}
