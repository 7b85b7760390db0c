// Package validation checks inbound signaling payloads before they reach
// the forwarding core.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// PeerNameRegex constrains the grabber names players address offers to.
	PeerNameRegex = regexp.MustCompile(`^[a-zA-Z0-9 ._-]+$`)

	// TrackIDRegex constrains track identifiers appearing in removal calls.
	TrackIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateSDP rejects empty or oversized session descriptions. Syntactic
// SDP parsing is left to the WebRTC stack; this guards against obviously
// malformed input reaching it.
func ValidateSDP(sdp string) error {
	if strings.TrimSpace(sdp) == "" {
		return fmt.Errorf("sdp is required")
	}
	if len(sdp) > 1<<20 {
		return fmt.Errorf("sdp is too large")
	}
	if !strings.HasPrefix(sdp, "v=") {
		return fmt.Errorf("sdp must start with a version line")
	}
	return nil
}

// ValidateICECandidate checks the candidate descriptor shape. An empty
// candidate string is allowed: it marks end-of-candidates.
func ValidateICECandidate(candidate string) error {
	if len(candidate) > 4096 {
		return fmt.Errorf("ice candidate is too long")
	}
	if !utf8.ValidString(candidate) {
		return fmt.Errorf("ice candidate contains invalid characters")
	}
	return nil
}

// ValidatePeerName validates a grabber name used as a registry key.
// Surrounding whitespace does not count toward emptiness or length, but
// the characters are checked on the name as given.
func ValidatePeerName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("peer name is required")
	}
	if len(trimmed) > 100 {
		return fmt.Errorf("peer name is too long (max 100 characters)")
	}
	if !PeerNameRegex.MatchString(name) {
		return fmt.Errorf("peer name contains invalid characters")
	}
	return nil
}

// ValidateTrackID validates a track identifier.
func ValidateTrackID(trackID string) error {
	if trackID == "" {
		return fmt.Errorf("track ID is required")
	}
	if len(trackID) > 100 {
		return fmt.Errorf("track ID is too long (max 100 characters)")
	}
	if !TrackIDRegex.MatchString(trackID) {
		return fmt.Errorf("invalid track ID format")
	}
	return nil
}

// ValidateCredential bounds the credential presented during AUTH before
// any cryptographic check runs.
func ValidateCredential(credential string) error {
	if credential == "" {
		return fmt.Errorf("credential is required")
	}
	if len(credential) > 4096 {
		return fmt.Errorf("credential is too long")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming.
func ValidateNonEmptyString(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length in runes.
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
