package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PipelineInfo represents one selectable pipeline.
type PipelineInfo struct {
	ID          string `mapstructure:"id" yaml:"id" json:"id"`
	Name        string `mapstructure:"name" yaml:"name" json:"name"`
	Description string `mapstructure:"description" yaml:"description" json:"description"`
}

type catalogFilePayload struct {
	Pipelines []PipelineInfo `yaml:"pipelines"`
}

// ReadPipelineCatalog reads a YAML file listing pipelines under a top-level
// "pipelines" key.
func ReadPipelineCatalog(path string) ([]PipelineInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var payload catalogFilePayload
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(payload.Pipelines) == 0 {
		return nil, fmt.Errorf("no pipelines found in %s", path)
	}
	return payload.Pipelines, nil
}

// normalizeCatalog trims ids, drops blank and duplicate entries and fills
// missing names.
func normalizeCatalog(in []PipelineInfo) []PipelineInfo {
	out := make([]PipelineInfo, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, p := range in {
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		if strings.TrimSpace(p.Name) == "" {
			p.Name = p.ID
		}
		out = append(out, p)
	}
	return out
}
