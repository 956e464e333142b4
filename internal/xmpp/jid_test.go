package xmpp

import "testing"

func TestBare(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"alice@example.org/phone", "alice@example.org"},
		{"alice@example.org", "alice@example.org"},
		{"room@muc.example.org/nick", "room@muc.example.org"},
	}
	for _, tt := range tests {
		if got := Bare(tt.in); got != tt.want {
			t.Errorf("Bare(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResource(t *testing.T) {
	if got := Resource("alice@example.org/phone"); got != "phone" {
		t.Errorf("Resource = %q, want phone", got)
	}
	if got := Resource("alice@example.org"); got != "" {
		t.Errorf("Resource = %q, want empty", got)
	}
}

func TestValidateBare(t *testing.T) {
	if err := ValidateBare("alice@example.org"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, bad := range []string{"", "alice", "@example.org", "alice@", "alice@x/res", "a b@c"} {
		if err := ValidateBare(bad); err == nil {
			t.Errorf("ValidateBare(%q) = nil, want error", bad)
		}
	}
}
