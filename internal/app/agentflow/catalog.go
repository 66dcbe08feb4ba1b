package agentflow

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/PabloGalante/deckflow-agent/internal/domain"
)

// Agent names referenced by the pipeline.
const (
	AgentJobInterpreter = "JobInterpreterAgent"
	AgentDeckArchitect  = "SimpleDeckArchitectAgent"
	AgentAnalyst        = "analyst_agent"
	AgentScript         = "script_agent"
	AgentVisualizer     = "visualizer"
	AgentSlideComposite = "data_analyst_and_script_agent"
)

//go:embed agents.yaml
var defaultCatalog []byte

type catalogFile struct {
	Agents []agentEntry `yaml:"agents"`
}

type agentEntry struct {
	Name          string   `yaml:"name"`
	Model         string   `yaml:"model"`
	Description   string   `yaml:"description"`
	Instruction   string   `yaml:"instruction"`
	OutputKey     string   `yaml:"output_key"`
	Tools         []string `yaml:"tools"`
	SubAgents     []string `yaml:"sub_agents"`
	MaxToolRounds int      `yaml:"max_tool_rounds"`
}

// Catalog holds the agent descriptors built at process start.
type Catalog struct {
	agents map[string]*domain.AgentDescriptor
}

// DefaultCatalog parses the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return LoadCatalog(bytes.NewReader(defaultCatalog))
}

// LoadCatalogFile reads a catalog from path, or the embedded one if path is empty.
func LoadCatalogFile(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open agent catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// LoadCatalog decodes a YAML catalog and links composites to their sub-agents.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode agent catalog: %w", err)
	}

	entries := make(map[string]agentEntry, len(file.Agents))
	for _, e := range file.Agents {
		if e.Name == "" {
			return nil, fmt.Errorf("agent catalog: entry without name")
		}
		if _, dup := entries[e.Name]; dup {
			return nil, fmt.Errorf("agent catalog: duplicate agent %q", e.Name)
		}
		if e.Instruction == "" && len(e.SubAgents) == 0 {
			return nil, fmt.Errorf("agent catalog: %s has neither instruction nor sub_agents", e.Name)
		}
		entries[e.Name] = e
	}

	c := &Catalog{agents: make(map[string]*domain.AgentDescriptor, len(entries))}
	for name := range entries {
		if _, err := c.build(name, entries, nil); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) build(name string, entries map[string]agentEntry, path []string) (*domain.AgentDescriptor, error) {
	if d, ok := c.agents[name]; ok {
		return d, nil
	}
	if slices.Contains(path, name) {
		return nil, fmt.Errorf("agent catalog: cycle %s -> %s", strings.Join(path, " -> "), name)
	}
	e, ok := entries[name]
	if !ok {
		return nil, fmt.Errorf("agent catalog: unknown sub-agent %q", name)
	}

	d := &domain.AgentDescriptor{
		Name:          e.Name,
		Model:         e.Model,
		Description:   e.Description,
		Instruction:   e.Instruction,
		OutputKey:     e.OutputKey,
		Tools:         slices.Clone(e.Tools),
		MaxToolRounds: e.MaxToolRounds,
	}
	for _, sub := range e.SubAgents {
		sd, err := c.build(sub, entries, append(path, name))
		if err != nil {
			return nil, err
		}
		d.SubAgents = append(d.SubAgents, sd)
	}
	c.agents[name] = d
	return d, nil
}

// Get returns the descriptor registered under name.
func (c *Catalog) Get(name string) (*domain.AgentDescriptor, error) {
	d, ok := c.agents[name]
	if !ok {
		return nil, fmt.Errorf("agent %q not in catalog", name)
	}
	return d, nil
}

// Names lists the catalog in sorted order.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.agents))
	for n := range c.agents {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}
