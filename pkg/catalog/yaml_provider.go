package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-rules/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-rules/pkg/models"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("ruletag", func(fl validator.FieldLevel) bool {
		return models.IsValidTag(fl.Field().String())
	})
}

// repositoryFile is the on-disk form of a repository.
// An extension adds its rules to the repository with the same key.
type repositoryFile struct {
	models.RepositoryDefinition `yaml:",inline"`
	Extension                   bool `yaml:"extension"`
}

// YAMLProvider loads one repository per *.yaml / *.yml file in a directory.
type YAMLProvider struct {
	dir    string
	logger *zap.Logger
}

var _ Provider = (*YAMLProvider)(nil)

// NewYAMLProvider creates a provider reading repository files from dir.
func NewYAMLProvider(dir string, logger *zap.Logger) *YAMLProvider {
	return &YAMLProvider{
		dir:    dir,
		logger: logger.Named("catalog"),
	}
}

func (p *YAMLProvider) Load(ctx context.Context) (*models.Catalog, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog directory %s: %w", p.dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(p.dir, e.Name()))
		}
	}
	sort.Strings(files)

	cat := &models.Catalog{}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		repo, err := readRepositoryFile(path)
		if err != nil {
			return nil, err
		}

		if repo.Extension {
			cat.Extensions = append(cat.Extensions, &repo.RepositoryDefinition)
		} else {
			if cat.Repository(repo.Key) != nil {
				return nil, apperrors.NewConfigurationError("", nil, "repository %q is declared in more than one file", repo.Key)
			}
			cat.Repositories = append(cat.Repositories, &repo.RepositoryDefinition)
		}

		p.logger.Debug("Loaded rule repository",
			zap.String("file", filepath.Base(path)),
			zap.String("repository", repo.Key),
			zap.Bool("extension", repo.Extension),
			zap.Int("rules", len(repo.Rules)))
	}

	return cat, nil
}

func readRepositoryFile(path string) (*repositoryFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var repo repositoryFile
	if err := yaml.Unmarshal(data, &repo); err != nil {
		return nil, apperrors.NewConfigurationError("", err, "failed to parse %s: %v", filepath.Base(path), err)
	}

	if err := validate.Struct(&repo); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, apperrors.NewConfigurationError("", err, "%s: field %s failed %q validation",
				filepath.Base(path), verrs[0].Namespace(), verrs[0].Tag())
		}
		return nil, apperrors.NewConfigurationError("", err, "%s: %v", filepath.Base(path), err)
	}

	return &repo, nil
}
