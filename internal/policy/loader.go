// SPDX-License-Identifier: MIT

package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/randomparity/vpo-sub005/internal/log"
)

// Load parses and validates a single policy document.
func Load(data []byte) (*Policy, error) {
	var pol Policy
	if err := yaml.Unmarshal(data, &pol); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if err := pol.compile(); err != nil {
		return nil, err
	}
	if err := pol.Validate(); err != nil {
		return nil, err
	}
	return &pol, nil
}

// LoadFile loads a policy from a YAML file. When the document omits a
// name, the file basename (without extension) is used.
func LoadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	pol, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if pol.Name == "" {
		base := filepath.Base(path)
		pol.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return pol, nil
}

// LoadDir loads every .yaml/.yml policy under dir, sorted by name.
func LoadDir(dir string) ([]*Policy, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read policy dir %s: %w", dir, err)
	}

	logger := log.WithComponent("policy")
	var out []*Policy
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		pol, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, pol)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	logger.Debug().Int("count", len(out)).Str("dir", dir).Msg("policies loaded")
	return out, nil
}

// Serialize renders the policy back to YAML. Load(Serialize(p)) yields a
// policy equal to p.
func (p *Policy) Serialize() ([]byte, error) {
	return yaml.Marshal(p)
}

// compile parses every expression in the document once. Errors name the
// rule or synthesis definition they belong to.
func (p *Policy) compile() error {
	for pi := range p.Phases {
		ph := &p.Phases[pi]
		if ph.ConditionalRules != nil {
			for ri := range ph.ConditionalRules.Rules {
				rule := &ph.ConditionalRules.Rules[ri]
				if err := rule.When.compileInto(); err != nil {
					return fmt.Errorf("phase %q rule %q: %w", ph.Name, rule.Name, err)
				}
			}
		}
		for si := range ph.AudioSynthesis {
			syn := &ph.AudioSynthesis[si]
			if syn.CreateIf != nil {
				if err := syn.CreateIf.compileInto(); err != nil {
					return fmt.Errorf("phase %q synthesis %q create_if: %w", ph.Name, syn.Name, err)
				}
			}
		}
	}
	return nil
}

func (c *Condition) compileInto() error {
	if c.compiled != nil {
		return nil
	}
	if c.Source != "" {
		node, err := parseExpression(c.Source)
		if err != nil {
			return err
		}
		c.compiled = node
		return nil
	}
	if c.Structured != nil {
		node, err := compileStructured(c.Structured)
		if err != nil {
			return err
		}
		c.compiled = node
		return nil
	}
	return fmt.Errorf("empty condition")
}
