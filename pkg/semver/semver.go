package semver

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// leadingVersion matches the numeric prefix of banners such as "7.4p1 Debian 10".
var leadingVersion = regexp.MustCompile(`^[vV]?(\d+)(?:\.(\d+))?(?:\.(\d+))?`)

// Normalize extracts a semantic version from a product version string.
func Normalize(raw string) (*semver.Version, error) {
	m := leadingVersion.FindStringSubmatch(raw)
	if m == nil {
		return nil, fmt.Errorf("invalid version: %q", raw)
	}
	parts := []string{m[1], m[2], m[3]}
	for i := range parts {
		if parts[i] == "" {
			parts[i] = "0"
		}
	}
	v, err := semver.NewVersion(fmt.Sprintf("%s.%s.%s", parts[0], parts[1], parts[2]))
	if err != nil {
		return nil, fmt.Errorf("invalid version: %q: %w", raw, err)
	}
	return v, nil
}

// Satisfies reports whether the product version string matches the constraint.
func Satisfies(raw, constraint string) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("invalid constraint %q: %w", constraint, err)
	}
	v, err := Normalize(raw)
	if err != nil {
		return false, err
	}
	return c.Check(v), nil
}

// Sort returns the versions in ascending order. Unparseable versions are an error.
func Sort(versions []string) ([]string, error) {
	semvers := make(semver.Collection, 0, len(versions))
	for _, v := range versions {
		sv, err := Normalize(v)
		if err != nil {
			return nil, err
		}
		semvers = append(semvers, sv)
	}
	sort.Sort(semvers)
	result := make([]string, len(semvers))
	for i, sv := range semvers {
		result[i] = sv.String()
	}
	return result, nil
}
