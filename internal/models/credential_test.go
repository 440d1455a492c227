package models

import (
	"testing"
	"time"
)

func TestCredential_ExpiresWithin(t *testing.T) {
	margin := 5 * time.Minute

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"far future", time.Now().Add(time.Hour), false},
		{"inside margin", time.Now().Add(time.Minute), true},
		{"already expired", time.Now().Add(-time.Minute), true},
		{"zero time", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Credential{ExpiresAt: tt.expiresAt}
			if got := c.ExpiresWithin(margin); got != tt.want {
				t.Errorf("ExpiresWithin = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCredential_HasScope(t *testing.T) {
	c := &Credential{Scopes: []string{"read:sleep", "read:recovery"}}

	if !c.HasScope("read:sleep") {
		t.Error("missing granted scope")
	}
	if !c.HasScope("READ:SLEEP") {
		t.Error("scope comparison should be case-insensitive")
	}
	if c.HasScope("read:workout") {
		t.Error("reported ungranted scope")
	}
}

func TestCredential_Clone(t *testing.T) {
	orig := &Credential{PrincipalID: "p1", Scopes: []string{"a"}}
	clone := orig.Clone()

	clone.Scopes[0] = "b"
	if orig.Scopes[0] != "a" {
		t.Error("Clone shares scope slice with original")
	}

	var nilCred *Credential
	if nilCred.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestSplitScopes(t *testing.T) {
	if got := SplitScopes("a b  c"); len(got) != 3 {
		t.Errorf("SplitScopes = %v", got)
	}
	if got := SplitScopes(""); got != nil {
		t.Errorf("SplitScopes(\"\") = %v, want nil", got)
	}
}

func TestResource_PathAndValid(t *testing.T) {
	if got := ResourceSleep.Path(); got != "/v1/sleep" {
		t.Errorf("Path = %q", got)
	}
	if !ResourceRecovery.Valid() {
		t.Error("recovery should be valid")
	}
	if Resource("steps").Valid() {
		t.Error("steps should be invalid")
	}
}

func TestDateRange_Validate(t *testing.T) {
	base := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	ok := DateRange{Start: base.Add(-time.Hour), End: base}
	if err := ok.Validate(); err != nil {
		t.Errorf("valid range rejected: %v", err)
	}

	if err := (DateRange{Start: base, End: base}).Validate(); err == nil {
		t.Error("zero-length range accepted")
	}
	if err := (DateRange{Start: base, End: base.Add(-time.Hour)}).Validate(); err == nil {
		t.Error("inverted range accepted")
	}
	if err := (DateRange{End: base}).Validate(); err == nil {
		t.Error("missing start accepted")
	}
}
