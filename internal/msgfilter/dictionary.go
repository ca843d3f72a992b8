package msgfilter

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

//go:embed dictionary.yaml
var defaultDictionary []byte

// Rule rewrites any message its pattern matches into a fixed template.
type Rule struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// Apply returns the expanded replacement when the rule matches message.
func (r Rule) Apply(message string) (string, bool) {
	match := r.Pattern.FindStringSubmatchIndex(message)
	if match == nil {
		return "", false
	}
	return string(r.Pattern.ExpandString(nil, r.Replacement, message, match)), true
}

// Dictionary maps exception class names to message rules. A class may share
// the rules of another class through an alias.
type Dictionary struct {
	rules   map[string][]Rule
	aliases map[string]string
}

type ruleEntry struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// DefaultDictionary returns the dictionary shipped with the binary.
func DefaultDictionary() (*Dictionary, error) {
	return ParseDictionary(defaultDictionary)
}

// LoadDictionary reads a dictionary from a YAML file.
func LoadDictionary(path string) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read message dictionary: %w", err)
	}
	return ParseDictionary(data)
}

// ParseDictionary parses YAML of the form
//
//	Some::Error:
//	  - pattern: "regexp"
//	    replacement: "template"
//	Other::Error: Some::Error
//
// Alias targets must exist and aliases must not form a cycle.
func ParseDictionary(data []byte) (*Dictionary, error) {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse message dictionary: %w", err)
	}

	d := &Dictionary{
		rules:   make(map[string][]Rule),
		aliases: make(map[string]string),
	}

	for class, node := range raw {
		switch node.Kind {
		case yaml.ScalarNode:
			d.aliases[class] = node.Value
		case yaml.SequenceNode:
			var entries []ruleEntry
			if err := node.Decode(&entries); err != nil {
				return nil, fmt.Errorf("class %s: %w", class, err)
			}
			rules := make([]Rule, 0, len(entries))
			for i, e := range entries {
				re, err := regexp.Compile(e.Pattern)
				if err != nil {
					return nil, fmt.Errorf("class %s rule %d: %w", class, i, err)
				}
				rules = append(rules, Rule{Pattern: re, Replacement: e.Replacement})
			}
			d.rules[class] = rules
		default:
			return nil, fmt.Errorf("class %s: expected a rule list or a class name", class)
		}
	}

	for class := range d.aliases {
		if _, err := d.resolve(class); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Rules returns the rules for a class, following aliases. Unknown classes
// have no rules.
func (d *Dictionary) Rules(class string) []Rule {
	rules, _ := d.resolve(class)
	return rules
}

// Len returns the number of classes with rules or aliases.
func (d *Dictionary) Len() int {
	return len(d.rules) + len(d.aliases)
}

func (d *Dictionary) resolve(class string) ([]Rule, error) {
	seen := make(map[string]bool)
	for {
		if rules, ok := d.rules[class]; ok {
			return rules, nil
		}
		target, ok := d.aliases[class]
		if !ok {
			if len(seen) > 0 {
				return nil, fmt.Errorf("alias to unknown class %s", class)
			}
			return nil, nil
		}
		if seen[class] {
			return nil, fmt.Errorf("alias cycle through class %s", class)
		}
		seen[class] = true
		class = target
	}
}
