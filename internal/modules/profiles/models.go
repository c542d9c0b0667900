// Package profiles manages publishing destinations (site profiles).
package profiles

import (
	"github.com/aristath/autopublish/internal/domain"
)

// MaxAuthors bounds the author list of a profile
const MaxAuthors = 50

// ProfileInput is the writable part of a profile, shared by the API and TOML import
type ProfileInput struct {
	ID          string          `json:"id,omitempty" toml:"id" validate:"omitempty,max=64"`
	Name        string          `json:"name" toml:"name" validate:"required,max=100"`
	SiteURL     string          `json:"site_url" toml:"site_url" validate:"required,http_url"`
	Username    string          `json:"username" toml:"username" validate:"max=100"`
	AppPassword string          `json:"app_password" toml:"app_password" validate:"max=200"`
	PostStatus  string          `json:"post_status" toml:"post_status" validate:"omitempty,oneof=publish draft"`
	Authors     []domain.Author `json:"authors" toml:"authors" validate:"max=50,dive"`
	DailyCap    int             `json:"daily_cap" toml:"daily_cap" validate:"gte=0,lte=1000"`
	CategoryID  int64           `json:"category_id" toml:"category_id" validate:"gte=0"`
}

// Validate checks the input shape.
// Empty authors and credentials are accepted; runs on such profiles fail with a ConfigurationError.
func (in *ProfileInput) Validate() error {
	return domain.ValidateStruct(in)
}

// Apply copies the input onto p
func (in *ProfileInput) Apply(p *domain.Profile) {
	p.Name = in.Name
	p.SiteURL = in.SiteURL
	p.Username = in.Username
	// An empty password on update keeps the stored one
	if in.AppPassword != "" {
		p.AppPassword = in.AppPassword
	}
	p.PostStatus = in.PostStatus
	if p.PostStatus == "" {
		p.PostStatus = domain.PostStatusPublish
	}
	p.Authors = append([]domain.Author(nil), in.Authors...)
	p.DailyCap = in.DailyCap
	p.CategoryID = in.CategoryID
}

// ProfileView is a profile as returned to clients: credentials are never echoed
type ProfileView struct {
	*domain.Profile
	HasCredentials bool `json:"has_credentials"`
}

// NewProfileView wraps a profile for output
func NewProfileView(p *domain.Profile) ProfileView {
	return ProfileView{Profile: p, HasCredentials: p.Username != "" && p.AppPassword != ""}
}
