package profile

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/suPer8Hu/testerhub/internal/auth"
)

var (
	ErrNotFound           = errors.New("profile not found")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidInput       = errors.New("invalid profile input")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{2,31}$`)

// NormalizeUsername lowercases and trims a username.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

type Service struct {
	repo   *Repo
	lookup *Lookup
}

func NewService(repo *Repo, lookup *Lookup) *Service {
	return &Service{repo: repo, lookup: lookup}
}

func (s *Service) Lookup() *Lookup { return s.lookup }

type RegisterInput struct {
	Username  string
	Password  string
	Role      Role
	AvatarURL *string
	Bio       string
	Skills    []string
	Links     []string
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*Profile, error) {
	username := NormalizeUsername(in.Username)
	if !usernamePattern.MatchString(username) {
		return nil, errors.WithMessage(ErrInvalidInput, "username must be 3-32 chars of a-z, 0-9, '_', '.', '-'")
	}
	if len(in.Password) < 6 {
		return nil, errors.WithMessage(ErrInvalidInput, "password must be at least 6 characters")
	}
	if !in.Role.Valid() {
		return nil, errors.WithMessagef(ErrInvalidInput, "role must be %q or %q", RoleDeveloper, RoleTester)
	}

	if _, err := s.repo.GetByUsername(ctx, username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.WithMessage(err, "check username")
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, errors.WithMessage(err, "hash password")
	}

	p := &Profile{
		UID:          uuid.NewString(),
		Username:     username,
		AvatarURL:    in.AvatarURL,
		Role:         in.Role,
		Bio:          strings.TrimSpace(in.Bio),
		Skills:       in.Skills,
		Links:        in.Links,
		PasswordHash: hash,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		// lost a race on the unique index
		if _, getErr := s.repo.GetByUsername(ctx, username); getErr == nil {
			return nil, ErrUsernameTaken
		}
		return nil, errors.WithMessage(err, "create profile")
	}
	return p, nil
}

func (s *Service) Authenticate(ctx context.Context, username, password string) (*Profile, error) {
	p, err := s.repo.GetByUsername(ctx, NormalizeUsername(username))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, errors.WithMessage(err, "load profile")
	}
	if !auth.CheckPassword(p.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, uid string) (*Profile, error) {
	p, err := s.repo.Get(ctx, uid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.WithMessage(err, "load profile")
	}
	return p, nil
}

// UpdateInput carries optional changes; nil fields are left untouched.
type UpdateInput struct {
	AvatarURL *string
	Bio       *string
	Skills    *[]string
	Links     *[]string
}

// UpdateProfile applies changes made by the owning user.
func (s *Service) UpdateProfile(ctx context.Context, uid string, in UpdateInput) (*Profile, error) {
	p, err := s.Get(ctx, uid)
	if err != nil {
		return nil, err
	}

	var cols []string
	if in.AvatarURL != nil {
		v := strings.TrimSpace(*in.AvatarURL)
		if v == "" {
			p.AvatarURL = nil
		} else {
			p.AvatarURL = &v
		}
		cols = append(cols, "avatar_url")
	}
	if in.Bio != nil {
		p.Bio = strings.TrimSpace(*in.Bio)
		cols = append(cols, "bio")
	}
	if in.Skills != nil {
		p.Skills = *in.Skills
		cols = append(cols, "skills")
	}
	if in.Links != nil {
		p.Links = *in.Links
		cols = append(cols, "links")
	}
	if len(cols) == 0 {
		return p, nil
	}

	if err := s.repo.Update(ctx, p, cols...); err != nil {
		return nil, errors.WithMessage(err, "update profile")
	}
	if s.lookup != nil {
		s.lookup.Invalidate(ctx, uid)
	}
	return p, nil
}
