// ABOUTME: Build status lifecycle shared by the registry, coordinator, and transport.
package core

import "fmt"

// BuildStatus is the lifecycle state of a build analysis.
type BuildStatus string

const (
	StatusPending BuildStatus = "PENDING"
	StatusDone    BuildStatus = "COMPLETED"
	StatusFailed  BuildStatus = "FAILED"
)

// Terminal reports whether no further status transition is possible.
func (s BuildStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// ValidTransition reports whether moving from s to next is allowed.
// Re-setting the same status is allowed and treated as a no-op by callers.
func (s BuildStatus) ValidTransition(next BuildStatus) bool {
	if s == next {
		return true
	}
	return s == StatusPending && next.Terminal()
}

// ParseBuildStatus converts a stored string back into a BuildStatus.
func ParseBuildStatus(raw string) (BuildStatus, error) {
	switch BuildStatus(raw) {
	case StatusPending, StatusDone, StatusFailed:
		return BuildStatus(raw), nil
	default:
		return "", fmt.Errorf("unknown build status: %q", raw)
	}
}
