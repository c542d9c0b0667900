package profiles

import (
	"errors"
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
	"github.com/aristath/autopublish/internal/domain"
	"github.com/rs/zerolog"
)

// ImportFile is the TOML layout accepted by Import:
//
//	[[profiles]]
//	name = "Markets Daily"
//	site_url = "https://markets.example.com"
//	daily_cap = 5
//	[[profiles.authors]]
//	id = 3
//	name = "Alex"
type ImportFile struct {
	Profiles []ProfileInput `toml:"profiles"`
}

// ImportResult summarizes an import
type ImportResult struct {
	Created []string `json:"created"`
	Updated []string `json:"updated"`
}

// Service applies validated inputs to the repository
type Service struct {
	repo *ProfileRepository
	log  zerolog.Logger
}

// NewService creates a profile service
func NewService(repo *ProfileRepository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("service", "profiles").Logger(),
	}
}

// Repository exposes the underlying repository for read paths
func (s *Service) Repository() *ProfileRepository {
	return s.repo
}

// Create validates input and stores a new profile for ownerID
func (s *Service) Create(ownerID string, in *ProfileInput) (*domain.Profile, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	p := &domain.Profile{ID: in.ID, OwnerID: ownerID}
	in.Apply(p)
	if err := s.repo.Create(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Update validates input and overwrites an owned profile
func (s *Service) Update(ownerID, id string, in *ProfileInput) (*domain.Profile, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	p, err := s.repo.GetOwned(id, ownerID)
	if err != nil {
		return nil, err
	}
	in.Apply(p)
	if err := s.repo.Update(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseImport decodes a TOML import file
func ParseImport(r io.Reader) (*ImportFile, error) {
	var file ImportFile
	if _, err := toml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode profile file: %w", err)
	}
	return &file, nil
}

// Import creates or updates every profile of the file for ownerID.
// The whole file is validated first; nothing is written if any entry is invalid.
func (s *Service) Import(ownerID string, file *ImportFile) (*ImportResult, error) {
	verr := &domain.ValidationError{}
	for i := range file.Profiles {
		err := file.Profiles[i].Validate()
		var perr *domain.ValidationError
		if errors.As(err, &perr) {
			for _, p := range perr.Problems {
				verr.Add(fmt.Sprintf("profiles[%d].%s", i, p.Field), p.Problem)
			}
		} else if err != nil {
			return nil, err
		}
	}
	if verr.HasProblems() {
		return nil, verr
	}

	result := &ImportResult{Created: []string{}, Updated: []string{}}
	for i := range file.Profiles {
		in := &file.Profiles[i]

		if in.ID != "" {
			existing, err := s.repo.GetOwned(in.ID, ownerID)
			if err == nil {
				in.Apply(existing)
				if err := s.repo.Update(existing); err != nil {
					return result, err
				}
				result.Updated = append(result.Updated, existing.ID)
				continue
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return result, err
			}
		}

		p := &domain.Profile{ID: in.ID, OwnerID: ownerID}
		in.Apply(p)
		if err := s.repo.Create(p); err != nil {
			return result, err
		}
		result.Created = append(result.Created, p.ID)
	}

	s.log.Info().
		Str("owner_id", ownerID).
		Int("created", len(result.Created)).
		Int("updated", len(result.Updated)).
		Msg("Profiles imported")

	return result, nil
}
