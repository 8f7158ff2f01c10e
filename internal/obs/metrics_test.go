package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                           "/",
		"/metrics":                                   "/metrics",
		"/v1/guilds/123/leaderboard":                 "/v1/guilds/:id/leaderboard",
		"/v1/guilds/123/leaderboard?page=2":          "/v1/guilds/:id/leaderboard",
		"/v1/guilds/123/members/456/rank":            "/v1/guilds/:id/members/:id/rank",
		"/v1/guilds/123/members/456/access":          "/v1/guilds/:id/members/:id/access",
		"/v1/guilds/123/members/456/extra":           "/v1/guilds/123/members/456/extra",
		"/healthz":                                   "/healthz",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger("loud", false); err == nil {
		t.Fatal("expected error for unknown level")
	}
	l, err := NewLogger("debug", true)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	restore := SetLogger(l)
	defer restore()
	if Logger() != l {
		t.Fatal("expected installed logger")
	}
}
