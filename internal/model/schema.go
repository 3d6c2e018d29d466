package model

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed profile.schema.json
var profileSchemaJSON string

var profileSchema = jsonschema.MustCompileString("profile.schema.json", profileSchemaJSON)

// ValidateProfileJSON checks raw profile JSON against the profile schema.
// Imports from third-party exports must pass this before they are merged.
func ValidateProfileJSON(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse profile: %w", err)
	}
	if err := profileSchema.Validate(doc); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}
	return nil
}

// ParseProfile validates and decodes a profile document.
func ParseProfile(data []byte) (*PortableProfile, error) {
	if err := ValidateProfileJSON(data); err != nil {
		return nil, err
	}
	p := NewProfile(Identity{})
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return p.Clone(), nil
}
