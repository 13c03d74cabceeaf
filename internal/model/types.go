package model

import (
	"fmt"
	"strings"

	"github.com/Brownie44l1/damage-api/internal/imaging"
)

// Role is one of the fixed inference tasks the service can run.
type Role int

const (
	RoleClassification Role = iota
	RoleLocation
	RoleFeatures

	roleCount = int(RoleFeatures) + 1
)

// Roles lists every role in analysis order.
var Roles = []Role{RoleClassification, RoleLocation, RoleFeatures}

func (r Role) String() string {
	switch r {
	case RoleClassification:
		return "classification"
	case RoleLocation:
		return "location"
	case RoleFeatures:
		return "features"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r >= RoleClassification && r <= RoleFeatures
}

// ParseRole maps a role name to a Role.
func ParseRole(name string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "classification":
		return RoleClassification, nil
	case "location":
		return RoleLocation, nil
	case "features":
		return RoleFeatures, nil
	}
	return 0, fmt.Errorf("unknown model %q: expected one of classification, location, features", name)
}

// ParseRoles parses a comma-separated role list. An empty list or "all"
// selects every role. Duplicates are dropped and the order of Roles is kept.
func ParseRoles(list string) ([]Role, error) {
	list = strings.TrimSpace(list)
	if list == "" || strings.EqualFold(list, "all") {
		return append([]Role(nil), Roles...), nil
	}

	var selected [roleCount]bool
	for _, name := range strings.Split(list, ",") {
		if strings.TrimSpace(name) == "" {
			continue
		}
		role, err := ParseRole(name)
		if err != nil {
			return nil, err
		}
		selected[role] = true
	}

	roles := make([]Role, 0, roleCount)
	for _, role := range Roles {
		if selected[role] {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		return nil, fmt.Errorf("no models selected in %q", list)
	}
	return roles, nil
}

// Metadata is the optional sidecar JSON stored next to a model file.
type Metadata struct {
	Classes   []string `json:"classes"`
	ImageSize int      `json:"image_size"`
}

// Config describes what a loaded model expects and produces.
type Config struct {
	Role   Role
	Size   imaging.Size
	Labels []string
}

// PredictionResult is the outcome of one classifier run.
type PredictionResult struct {
	Role          Role
	Label         string
	Confidence    float64
	Labels        []string
	Probabilities map[string]float64
}

// FeatureResult is the flattened output of the feature extractor.
type FeatureResult struct {
	Features []float32
}

// AnalysisResult collects the outputs of every role that ran for one image.
type AnalysisResult struct {
	Predictions map[Role]*PredictionResult
	Features    *FeatureResult
	// OverallConfidence is nil when no classifier produced a confidence.
	OverallConfidence *float64
}
