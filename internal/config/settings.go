package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Settings is the structured configuration consumed by the sync passes:
// broker connections, per-participant flags, the role-name map and the
// person-identifier mapping. Validated fully at load time so configuration
// mistakes never surface as queue failures later.
type Settings struct {
	Connections  []Connection       `yaml:"connections"`
	Participants []ParticipantFlags `yaml:"participants"`
	Roles        RoleMap            `yaml:"roles"`
	Identity     IdentityMapping    `yaml:"identity"`

	// ImportCategoryID is the local category new courses land in when their
	// directory allocation cannot be resolved (yet).
	ImportCategoryID int64 `yaml:"import_category_id"`
}

// Connection is one broker endpoint this deployment talks to.
type Connection struct {
	ID    int    `yaml:"id"`
	Name  string `yaml:"name"`
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// ParticipantFlags is the locally configured side of a participant:
// what we accept from them and what we offer them.
type ParticipantFlags struct {
	MID           int    `yaml:"mid"`
	Import        bool   `yaml:"import"`
	Export        bool   `yaml:"export"`
	CMS           bool   `yaml:"cms"`
	IdentityField string `yaml:"identity_field"`
}

// RoleMap translates remote role names into local role shortnames.
type RoleMap struct {
	Default string            `yaml:"default"`
	Map     map[string]string `yaml:"map"`
}

// Translate maps a remote role; unknown and empty roles fall back to the
// default role.
func (r RoleMap) Translate(remote string) string {
	if local, ok := r.Map[strings.ToLower(strings.TrimSpace(remote))]; ok {
		return local
	}
	return r.Default
}

// IdentityMapping decides which local user field a person identifier
// resolves through, per identifier type.
type IdentityMapping struct {
	DefaultType string            `yaml:"default_type"`
	Fields      map[string]string `yaml:"fields"`
}

// FieldFor returns the local field for an identifier type; an empty type
// selects the default type. ok is false for unknown types.
func (m IdentityMapping) FieldFor(idType string) (string, bool) {
	if idType == "" {
		idType = m.DefaultType
	}
	f, ok := m.Fields[idType]
	return f, ok
}

// Local user fields an identifier type may map to.
var allowedIdentityFields = map[string]bool{
	"username": true,
	"email":    true,
	"idnumber": true,
}

// LoadSettings reads and validates the YAML settings file.
func LoadSettings(path string) (*Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read settings: %w", err)
	}
	var s Settings
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("config: parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate rejects configurations the sync passes could not act on.
func (s *Settings) Validate() error {
	if len(s.Connections) == 0 {
		return fmt.Errorf("config: no connections defined")
	}
	seen := map[int]bool{}
	for _, c := range s.Connections {
		if c.ID <= 0 {
			return fmt.Errorf("config: connection %q needs a positive id", c.Name)
		}
		if seen[c.ID] {
			return fmt.Errorf("config: duplicate connection id %d", c.ID)
		}
		seen[c.ID] = true
		if c.URL == "" {
			return fmt.Errorf("config: connection %d has no url", c.ID)
		}
	}

	cmsCount := 0
	for _, p := range s.Participants {
		if p.MID <= 0 {
			return fmt.Errorf("config: participant needs a positive mid")
		}
		if p.CMS {
			cmsCount++
		}
		if p.IdentityField != "" && !allowedIdentityFields[p.IdentityField] {
			return fmt.Errorf("config: participant %d: unknown identity field %q", p.MID, p.IdentityField)
		}
	}
	if cmsCount > 1 {
		return fmt.Errorf("config: more than one participant marked as CMS")
	}

	if s.Roles.Default == "" {
		return fmt.Errorf("config: roles.default is required")
	}
	for remote, local := range s.Roles.Map {
		if strings.TrimSpace(local) == "" {
			return fmt.Errorf("config: role %q maps to an empty local role", remote)
		}
	}

	if len(s.Identity.Fields) == 0 {
		return fmt.Errorf("config: identity.fields is required")
	}
	for idType, field := range s.Identity.Fields {
		if !allowedIdentityFields[field] {
			return fmt.Errorf("config: identity type %q maps to unknown field %q", idType, field)
		}
	}
	if s.Identity.DefaultType == "" {
		return fmt.Errorf("config: identity.default_type is required")
	}
	if _, ok := s.Identity.Fields[s.Identity.DefaultType]; !ok {
		return fmt.Errorf("config: identity.default_type %q is not in identity.fields", s.Identity.DefaultType)
	}

	return nil
}

// Flags returns the configured flags for one participant; the zero value
// (nothing enabled) when the participant is not configured.
func (s *Settings) Flags(mid int) ParticipantFlags {
	for _, p := range s.Participants {
		if p.MID == mid {
			return p
		}
	}
	return ParticipantFlags{MID: mid}
}
