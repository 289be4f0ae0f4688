package docker

import (
	"fmt"
	"strings"
)

// Image labels. Every image built by BuildImage carries all three, and
// ListManagedImages filters on LabelManagedBy.
const (
	// LabelPrefix namespaces urlshield labels away from labels set by base
	// images or other tools.
	LabelPrefix = "urlshield."

	// LabelManagedBy marks images built by this tool.
	// Key: "urlshield.managed-by", Value: always ManagedByValue.
	LabelManagedBy = LabelPrefix + "managed-by"

	// LabelRole records which recipe produced the image.
	// Key: "urlshield.role", Value: "client" or "server".
	LabelRole = LabelPrefix + "role"

	// LabelVersion records the urlshield version compiled into the image.
	// Key: "urlshield.version", Value: e.g. "v1.2.0" or "dev".
	LabelVersion = LabelPrefix + "version"
)

// ManagedByValue is the value of LabelManagedBy.
const ManagedByValue = "urlshield"

// BuildLabels returns the labels applied to an image built for role.
func BuildLabels(role Role, version string) map[string]string {
	if version == "" {
		version = "dev"
	}
	return map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelRole:      string(role),
		LabelVersion:   version,
	}
}

// ParseLabels extracts the role and version from an image's labels. It is
// the inverse of BuildLabels and fails if the image is not managed by
// urlshield or any label is missing.
func ParseLabels(labels map[string]string) (Role, string, error) {
	var missing []string
	for _, key := range []string{LabelManagedBy, LabelRole, LabelVersion} {
		if _, ok := labels[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return "", "", fmt.Errorf("missing required image labels: %s", strings.Join(missing, ", "))
	}

	if labels[LabelManagedBy] != ManagedByValue {
		return "", "", fmt.Errorf(
			"label %s has unexpected value %q (expected %q)",
			LabelManagedBy, labels[LabelManagedBy], ManagedByValue,
		)
	}

	role, err := ParseRole(labels[LabelRole])
	if err != nil {
		return "", "", fmt.Errorf("invalid label %s: %w", LabelRole, err)
	}
	return role, labels[LabelVersion], nil
}

// FilterLabel returns the "key=value" label filter selecting managed images.
func FilterLabel() string {
	return LabelManagedBy + "=" + ManagedByValue
}
