package semver

import (
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
)

var versionRe = regexp.MustCompile(`\bv?\d+\.\d+(?:\.\d+)?(?:-[0-9A-Za-z.-]+)?\b`)

// FindVersion returns the first semantic version in a tool's version output, such as
// "This is BigQuery CLI 2.0.98".
func FindVersion(output string) (*semver.Version, error) {
	raw := versionRe.FindString(output)
	if raw == "" {
		return nil, fmt.Errorf("no version found in %q", output)
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid semver: %s", raw)
	}
	return v, nil
}

// CheckVersion finds the version in output and checks it against constraint, for example
// ">= 2.0.0". It returns the version found.
func CheckVersion(output, constraint string) (string, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return "", fmt.Errorf("invalid constraint %q: %w", constraint, err)
	}
	v, err := FindVersion(output)
	if err != nil {
		return "", err
	}
	if ok, errs := c.Validate(v); !ok {
		if len(errs) > 0 {
			return v.String(), fmt.Errorf("version %s: %w", v, errs[0])
		}
		return v.String(), fmt.Errorf("version %s does not satisfy %s", v, constraint)
	}
	return v.String(), nil
}
