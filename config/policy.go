package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sentinel-rag/sentinel/models"
)

// Policy is the persisted JSON document describing the tenant, its
// organisational structure and the access matrix. It is read once at
// startup; RBAC policy does not reload at runtime.
type Policy struct {
	App struct {
		Name      string `json:"name"`
		Tenant    string `json:"tenant"`
		Domain    string `json:"domain"`
		IssuerURL string `json:"issuer_url,omitempty"`
	} `json:"app"`

	Chunking struct {
		ParentSize    int `json:"parent_size,omitempty"`
		ParentOverlap int `json:"parent_overlap,omitempty"`
		ChildSize     int `json:"child_size,omitempty"`
		ChildOverlap  int `json:"child_overlap,omitempty"`
	} `json:"chunking"`

	SimilarityThreshold float64 `json:"similarity_threshold,omitempty"`

	Departments []string            `json:"departments"`
	Roles       map[string][]string `json:"roles"`

	AccessMatrix models.AccessMatrix `json:"access_matrix"`
}

// LoadPolicy reads and validates the policy document at path.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var policy Policy
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("invalid policy JSON: %w", err)
	}

	if err := policy.Validate(); err != nil {
		return nil, err
	}

	return &policy, nil
}

// Validate checks internal consistency: every role list is keyed by a
// declared department and every matrix entry references declared
// departments and roles.
func (p *Policy) Validate() error {
	if p.App.Tenant == "" || p.App.Domain == "" {
		return fmt.Errorf("policy app.tenant and app.domain are required")
	}
	if len(p.Departments) == 0 {
		return fmt.Errorf("policy must declare at least one department")
	}

	declared := make(map[string]bool, len(p.Departments))
	for _, d := range p.Departments {
		declared[d] = true
	}

	for dept := range p.Roles {
		if !declared[dept] {
			return fmt.Errorf("roles reference undeclared department %q", dept)
		}
	}

	for classification, departments := range p.AccessMatrix {
		if !classification.Valid() {
			return fmt.Errorf("access matrix references unknown classification %q", classification)
		}
		for dept, roles := range departments {
			if !declared[dept] {
				return fmt.Errorf("access matrix references undeclared department %q", dept)
			}
			for _, role := range roles {
				if !containsRole(p.Roles[dept], role) {
					return fmt.Errorf("access matrix grants undeclared role %q in department %q", role, dept)
				}
			}
		}
	}

	return nil
}

// ApplyOverrides folds the policy's chunking and threshold settings over
// the env-derived defaults.
func (p *Policy) ApplyOverrides(cfg *Config) {
	if p.Chunking.ParentSize > 0 {
		cfg.Ingest.ParentChunkSize = p.Chunking.ParentSize
	}
	if p.Chunking.ParentOverlap > 0 {
		cfg.Ingest.ParentChunkOverlap = p.Chunking.ParentOverlap
	}
	if p.Chunking.ChildSize > 0 {
		cfg.Ingest.ChildChunkSize = p.Chunking.ChildSize
	}
	if p.Chunking.ChildOverlap > 0 {
		cfg.Ingest.ChildChunkOverlap = p.Chunking.ChildOverlap
	}
	if p.SimilarityThreshold > 0 {
		cfg.Retrieval.SimilarityThreshold = p.SimilarityThreshold
	}
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
