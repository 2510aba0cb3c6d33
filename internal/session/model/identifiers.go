// SPDX-License-Identifier: MIT

package model

import (
	"fmt"
	"strconv"
	"strings"
)

// SessionIDPrefix is the canonical prefix of every session identifier.
const SessionIDPrefix = "session_"

// WebTierThreshold splits the external user-ID space: IDs at or above it are
// allocated by web-tier self-service registration.
const WebTierThreshold int64 = 9_000_000_000

// SessionIDFor returns the canonical session ID for an external user ID.
func SessionIDFor(userID int64) string {
	return fmt.Sprintf("%s%d", SessionIDPrefix, userID)
}

// ParseSessionID extracts the external user ID from a canonical session ID.
func ParseSessionID(sessionID string) (int64, error) {
	raw, ok := strings.CutPrefix(sessionID, SessionIDPrefix)
	if !ok {
		return 0, fmt.Errorf("session id %q lacks %q prefix", sessionID, SessionIDPrefix)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("session id %q: %w", sessionID, err)
	}
	return id, nil
}

// IsValidSessionID reports whether s is a well-formed session ID.
func IsValidSessionID(s string) bool {
	_, err := ParseSessionID(s)
	return err == nil
}

// IsWebTierUser reports whether the external user ID falls in the web-tier
// reserved range.
func IsWebTierUser(userID int64) bool {
	return userID >= WebTierThreshold
}

// SourceFor returns the tier-of-origin tag for a user ID.
func SourceFor(userID int64) Source {
	if IsWebTierUser(userID) {
		return SourceWeb
	}
	return SourceNative
}

// NormalizePhone canonicalizes a phone number to E.164: a leading plus and
// digits only. Returns empty when no digits remain.
func NormalizePhone(phone string) string {
	digits := PhoneDigits(phone)
	if digits == "" {
		return ""
	}
	return "+" + digits
}

// PhoneDigits strips every non-digit character. Pairing-code requests
// require this form.
func PhoneDigits(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PhoneFromUpstreamID extracts the phone number from an upstream identity of
// the form "<phone>:<device>@<domain>".
func PhoneFromUpstreamID(id string) string {
	if at := strings.IndexByte(id, '@'); at >= 0 {
		id = id[:at]
	}
	if colon := strings.IndexByte(id, ':'); colon >= 0 {
		id = id[:colon]
	}
	return PhoneDigits(id)
}
