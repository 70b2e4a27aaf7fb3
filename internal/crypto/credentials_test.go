package crypto

import "testing"

func TestCredentials_Match(t *testing.T) {
	creds := Credentials{Username: "admin", Password: "secret"}

	tests := []struct {
		name     string
		username string
		password string
		want     bool
	}{
		{"exact match", "admin", "secret", true},
		{"wrong password", "admin", "wrong", false},
		{"wrong username", "root", "secret", false},
		{"empty input", "", "", false},
		{"password prefix", "admin", "secre", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := creds.Match(tt.username, tt.password); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.username, tt.password, got, tt.want)
			}
		})
	}
}

func TestCredentials_UnconfiguredFailsClosed(t *testing.T) {
	tests := []struct {
		name  string
		creds Credentials
	}{
		{"both empty", Credentials{}},
		{"no password", Credentials{Username: "admin"}},
		{"no username", Credentials{Password: "secret"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.creds.Configured() {
				t.Fatal("Configured() = true, want false")
			}
			if tt.creds.Match(tt.creds.Username, tt.creds.Password) {
				t.Error("Match() should never succeed without configured credentials")
			}
		})
	}
}
