// Package manifest parses the project service manifest (atlas.yaml): the
// declarative description of a project's services, build instructions and
// desired hostnames.
package manifest

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// MigrateService is the reserved service name that runs as a one-shot job
// before the image rollout instead of as a long-running deployment.
const MigrateService = "migrate"

// nameRE restricts service, project and org names to what is safe to embed in
// namespace names, image references and remotely executed commands.
var nameRE = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ServiceKind classifies a service.
type ServiceKind string

// Known service kinds.
const (
	KindAPI    ServiceKind = "api"
	KindWeb    ServiceKind = "web"
	KindWorker ServiceKind = "worker"
)

// Service describes one deployable service of a project.
type Service struct {
	Type       ServiceKind `yaml:"type"`
	Dockerfile string      `yaml:"dockerfile"`
	Target     string      `yaml:"target,omitempty"`
	BuildArg   string      `yaml:"build_arg,omitempty"`
	Port       int         `yaml:"port,omitempty"`
	Domain     string      `yaml:"domain,omitempty"`
}

// Infra carries the project-level infrastructure flags.
type Infra struct {
	Postgres bool `yaml:"postgres,omitempty"`
	Redis    bool `yaml:"redis,omitempty"`
	Tunnel   bool `yaml:"tunnel,omitempty"`
}

// Project is a parsed manifest.
type Project struct {
	Name     string             `yaml:"name"`
	Org      string             `yaml:"org"`
	Domain   string             `yaml:"domain,omitempty"`
	Services map[string]Service `yaml:"services"`
	Infra    Infra              `yaml:"infra,omitempty"`
}

// Parse decodes and validates a manifest document.
func Parse(text string) (*Project, error) {
	if text == "" {
		return nil, fmt.Errorf("manifest is empty")
	}
	var p Project
	if err := yaml.Unmarshal([]byte(text), &p); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the fields that flow into namespaces, image references and
// remote commands.
func (p *Project) Validate() error {
	if !nameRE.MatchString(p.Name) {
		return fmt.Errorf("invalid project name %q", p.Name)
	}
	if !nameRE.MatchString(p.Org) {
		return fmt.Errorf("invalid org name %q", p.Org)
	}
	if len(p.Services) == 0 {
		return fmt.Errorf("manifest defines no services")
	}
	for name, svc := range p.Services {
		if !nameRE.MatchString(name) {
			return fmt.Errorf("invalid service name %q", name)
		}
		if name == MigrateService {
			continue
		}
		switch svc.Type {
		case KindAPI, KindWeb, KindWorker:
		default:
			return fmt.Errorf("service %q has unknown type %q", name, svc.Type)
		}
		if svc.Port < 0 || svc.Port > 65535 {
			return fmt.Errorf("service %q has invalid port %d", name, svc.Port)
		}
	}
	return nil
}

// ServiceNames returns all service names. Order is not guaranteed; callers
// that need ordering sort the result.
func (p *Project) ServiceNames() []string {
	out := make([]string, 0, len(p.Services))
	for name := range p.Services {
		out = append(out, name)
	}
	return out
}

// Hostnames returns every hostname referenced by a service plus the
// project-level domain, without duplicates.
func (p *Project) Hostnames() []string {
	seen := make(map[string]bool)
	var out []string
	for _, svc := range p.Services {
		if svc.Domain != "" && !seen[svc.Domain] {
			seen[svc.Domain] = true
			out = append(out, svc.Domain)
		}
	}
	if p.Domain != "" && !seen[p.Domain] {
		out = append(out, p.Domain)
	}
	return out
}
