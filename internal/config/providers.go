package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/seantiz/helix/internal/provider"
)

// providersFile is the YAML document shape:
//
//	providers:
//	  prod-omics:
//	    type: aws-healthomics
//	    region: us-east-1
//	    role_arn: arn:aws:iam::123456789012:role/helix
//	    output_uri: s3://helix-outputs/runs
type providersFile struct {
	Providers map[string]provider.Config `yaml:"providers"`
}

// LoadProviders reads the provider catalog from the YAML file at path.
func LoadProviders(path string) (map[string]provider.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}

	var doc providersFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse providers file %s: %w", path, err)
	}
	if len(doc.Providers) == 0 {
		return nil, fmt.Errorf("providers file %s defines no providers", path)
	}
	for name, cfg := range doc.Providers {
		if cfg.Type == "" {
			return nil, fmt.Errorf("provider %q: type is required", name)
		}
	}
	return doc.Providers, nil
}
