// Package validation checks scan request fields before anything is persisted.
package validation

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

// TargetKind classifies a scan target.
type TargetKind string

const (
	KindIP       TargetKind = "ip"
	KindHostname TargetKind = "hostname"
)

// maxHostnameLength is the RFC 1123 limit on a full hostname.
const maxHostnameLength = 253

var hostnameLabel = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

// FieldError reports an invalid request field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ValidateTarget accepts an IP literal or a syntactically valid hostname.
func ValidateTarget(target string) (TargetKind, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", &FieldError{Field: "target", Reason: "cannot be empty"}
	}
	if ip := net.ParseIP(target); ip != nil {
		return KindIP, nil
	}
	if isHostname(target) {
		return KindHostname, nil
	}
	return "", &FieldError{Field: "target", Reason: fmt.Sprintf("%q is not an IP address or hostname", target)}
}

func isHostname(s string) bool {
	s = strings.TrimSuffix(s, ".")
	if s == "" || len(s) > maxHostnameLength {
		return false
	}
	labels := strings.Split(s, ".")
	for _, label := range labels {
		if !hostnameLabel.MatchString(label) {
			return false
		}
	}
	// an all-numeric dotted name that failed ParseIP is a malformed address, not a host
	last := labels[len(labels)-1]
	return strings.Trim(last, "0123456789") != ""
}
