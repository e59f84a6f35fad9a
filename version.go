package qbt

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ServerVersion is the Web API version reported by app/webapiVersion.
type ServerVersion struct {
	Major int
	Minor int
	Patch int
}

// Version builds a ServerVersion literal.
func Version(major, minor, patch int) ServerVersion {
	return ServerVersion{Major: major, Minor: minor, Patch: patch}
}

// ParseServerVersion parses strings such as "2.8.3", "v4.6.2" or "2.11".
func ParseServerVersion(raw string) (ServerVersion, error) {
	v, err := semver.NewVersion(strings.TrimSpace(raw))
	if err != nil {
		return ServerVersion{}, fmt.Errorf("invalid server version %q: %w", raw, err)
	}
	return ServerVersion{
		Major: int(v.Major()),
		Minor: int(v.Minor()),
		Patch: int(v.Patch()),
	}, nil
}

// Compare returns -1, 0 or 1 comparing v to other component by component.
func (v ServerVersion) Compare(other ServerVersion) int {
	switch {
	case v.Major != other.Major:
		return cmpInt(v.Major, other.Major)
	case v.Minor != other.Minor:
		return cmpInt(v.Minor, other.Minor)
	default:
		return cmpInt(v.Patch, other.Patch)
	}
}

// Less reports whether v is older than other.
func (v ServerVersion) Less(other ServerVersion) bool {
	return v.Compare(other) < 0
}

func (v ServerVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

func cmpInt(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// CheckSupported rejects an operation whose minimum version is newer than the
// negotiated server version. It never touches the network.
func CheckSupported(required *ServerVersion, current ServerVersion, operation string) error {
	if required == nil {
		return nil
	}
	if current.Less(*required) {
		return newUnsupportedVersionError(operation, *required, current.String())
	}
	return nil
}
