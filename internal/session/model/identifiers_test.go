// SPDX-License-Identifier: MIT

package model

import "testing"

func TestSessionIDRoundTrip(t *testing.T) {
	id := SessionIDFor(1234567)
	if id != "session_1234567" {
		t.Fatalf("SessionIDFor = %q", id)
	}
	userID, err := ParseSessionID(id)
	if err != nil {
		t.Fatalf("ParseSessionID: %v", err)
	}
	if userID != 1234567 {
		t.Errorf("userID = %d, want 1234567", userID)
	}
}

func TestParseSessionIDRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "1234567", "sess_1", "session_", "session_abc"} {
		if _, err := ParseSessionID(s); err == nil {
			t.Errorf("ParseSessionID(%q) accepted malformed id", s)
		}
	}
}

func TestWebTierBoundary(t *testing.T) {
	if IsWebTierUser(WebTierThreshold - 1) {
		t.Error("id below threshold classified as web tier")
	}
	if !IsWebTierUser(WebTierThreshold) {
		t.Error("id at threshold not classified as web tier")
	}
	if SourceFor(WebTierThreshold) != SourceWeb {
		t.Error("SourceFor at threshold != web")
	}
	if SourceFor(42) != SourceNative {
		t.Error("SourceFor(42) != native")
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"+1 (415) 555-0100", "+14155550100"},
		{"14155550100", "+14155550100"},
		{"+49 171 1234567", "+491711234567"},
		{"abc", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizePhone(tt.in); got != tt.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPhoneDigits(t *testing.T) {
	if got := PhoneDigits("+1 (415) 555-0100"); got != "14155550100" {
		t.Errorf("PhoneDigits = %q", got)
	}
}

func TestPhoneFromUpstreamID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"14155550100:12@s.chat.net", "14155550100"},
		{"14155550100@s.chat.net", "14155550100"},
		{"14155550100", "14155550100"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := PhoneFromUpstreamID(tt.in); got != tt.want {
			t.Errorf("PhoneFromUpstreamID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
