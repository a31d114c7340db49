// Package catalog supplies the rule definitions contributed by analyzer repositories.
package catalog

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/ekaya-rules/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-rules/pkg/models"
)

// Provider loads the complete catalog for one registration run.
type Provider interface {
	Load(ctx context.Context) (*models.Catalog, error)
}

// StaticProvider serves a catalog built in memory.
type StaticProvider struct {
	Catalog *models.Catalog
}

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider creates a provider over the given repositories.
func NewStaticProvider(repos ...*models.RepositoryDefinition) *StaticProvider {
	return &StaticProvider{Catalog: &models.Catalog{Repositories: repos}}
}

func (p *StaticProvider) Load(ctx context.Context) (*models.Catalog, error) {
	if p.Catalog == nil {
		return &models.Catalog{}, nil
	}
	return p.Catalog, nil
}

// Flatten returns every rule definition of the catalog with its repository key
// and language set. Extensions whose base repository is not loaded are skipped
// with a warning. A rule key declared twice is a configuration error.
func Flatten(cat *models.Catalog) ([]*models.RuleDefinition, []models.Warning, error) {
	var defs []*models.RuleDefinition
	var warnings []models.Warning
	seen := make(map[models.RuleKey]bool)

	add := func(repo *models.RepositoryDefinition, language string) error {
		for _, def := range repo.Rules {
			def.RepositoryKey = repo.Key
			def.Language = language
			key := def.RuleKey()
			if seen[key] {
				return apperrors.NewConfigurationError(key.String(), nil, "rule is declared more than once")
			}
			seen[key] = true
			defs = append(defs, def)
		}
		return nil
	}

	for _, repo := range cat.Repositories {
		if repo.Key == "" {
			return nil, nil, apperrors.NewConfigurationError("", nil, "repository without key")
		}
		if repo.Key == models.ManualRepositoryKey {
			return nil, nil, apperrors.NewConfigurationError("", nil, "repository key %q is reserved", repo.Key)
		}
		if err := add(repo, repo.Language); err != nil {
			return nil, nil, err
		}
	}

	for _, ext := range cat.Extensions {
		base := cat.Repository(ext.Key)
		if base == nil {
			warnings = append(warnings, models.Warning{
				Message: fmt.Sprintf("extension of repository %q ignored: repository is not loaded", ext.Key),
			})
			continue
		}
		if err := add(ext, base.Language); err != nil {
			return nil, nil, err
		}
	}

	return defs, warnings, nil
}
