package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SavedPrompt is a reusable prompt that collection requests can reference by id.
type SavedPrompt struct {
	ID        string    `yaml:"id" json:"id"`
	Name      string    `yaml:"name" json:"name"`
	Content   string    `yaml:"content" json:"content"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
}

// PromptsFile is the top-level YAML layout of the prompts file.
type PromptsFile struct {
	Prompts []SavedPrompt `yaml:"prompts"`
}

// Prompts is a read-only, ordered prompt library.
type Prompts struct {
	list []SavedPrompt
	byID map[string]int
}

// LoadPrompts reads and validates a prompts YAML file. A missing file yields
// an os.ErrNotExist-wrapped error; callers treat that as an empty library.
func LoadPrompts(path string) (*Prompts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("prompts config: %w", err)
	}
	var file PromptsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("prompts config: %w", err)
	}
	return NewPrompts(file.Prompts)
}

// NewPrompts validates ids and content. Duplicate ids are rejected.
func NewPrompts(list []SavedPrompt) (*Prompts, error) {
	p := &Prompts{byID: make(map[string]int, len(list))}
	for i, sp := range list {
		if sp.ID == "" {
			return nil, fmt.Errorf("prompts config: prompts[%d] missing id", i)
		}
		if sp.Content == "" {
			return nil, fmt.Errorf("prompts config: prompts[%d] (%s) missing content", i, sp.ID)
		}
		if _, dup := p.byID[sp.ID]; dup {
			return nil, fmt.Errorf("prompts config: duplicate prompt id %q", sp.ID)
		}
		if sp.Name == "" {
			sp.Name = sp.ID
		}
		p.byID[sp.ID] = len(p.list)
		p.list = append(p.list, sp)
	}
	return p, nil
}

// List returns the prompts in file order.
func (p *Prompts) List() []SavedPrompt {
	if p == nil {
		return nil
	}
	out := make([]SavedPrompt, len(p.list))
	copy(out, p.list)
	return out
}

func (p *Prompts) Get(id string) (SavedPrompt, bool) {
	if p == nil {
		return SavedPrompt{}, false
	}
	i, ok := p.byID[id]
	if !ok {
		return SavedPrompt{}, false
	}
	return p.list[i], true
}
