// File: internal/profile/profile.go

// Package profile loads the applicant profile the policy answers form
// questions from. The profile is the only source of answers; anything it
// cannot answer pauses the task for a human.
package profile

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dmage20/linkedin-job-agent/api/schemas"
)

// Load reads and validates the applicant profile YAML at path.
func Load(path string) (*schemas.ApplicantProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}
	var p schemas.ApplicantProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if err := Validate(&p); err != nil {
		return nil, fmt.Errorf("profile %s invalid: %w", path, err)
	}
	return &p, nil
}

// Validate enforces the minimum a form fill needs. The resume file, when
// configured, must exist: discovering a bad path mid-application wastes a
// rate-limited attempt.
func Validate(p *schemas.ApplicantProfile) error {
	if strings.TrimSpace(p.FullName) == "" {
		return fmt.Errorf("full_name is required")
	}
	if !strings.Contains(p.Email, "@") {
		return fmt.Errorf("email %q is not a valid address", p.Email)
	}
	if p.ResumePath != "" {
		if _, err := os.Stat(p.ResumePath); err != nil {
			return fmt.Errorf("resume_path %q: %w", p.ResumePath, err)
		}
	}
	return nil
}
