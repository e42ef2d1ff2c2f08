package config

import (
	"strings"
	"testing"
)

const minimalYAML = `
auth:
  api_token: tok
  queue_secret: sec
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Service != "signalbox" {
		t.Errorf("Service = %q", cfg.Service)
	}
	if cfg.HTTP.Port != 8080 || cfg.HTTP.EnginePort != 8081 {
		t.Errorf("HTTP ports = %d/%d", cfg.HTTP.Port, cfg.HTTP.EnginePort)
	}
	if cfg.DB.Driver != "sqlite" || cfg.DB.Path != "signalbox.db" {
		t.Errorf("DB defaults = %q %q", cfg.DB.Driver, cfg.DB.Path)
	}
	if cfg.Queue.Topic != "runs" || cfg.Queue.LeaseSeconds != 60 {
		t.Errorf("Queue defaults = %q %d", cfg.Queue.Topic, cfg.Queue.LeaseSeconds)
	}
	if cfg.Queue.SweepSchedule != "* * * * *" {
		t.Errorf("SweepSchedule = %q", cfg.Queue.SweepSchedule)
	}
	if cfg.Coderunner.Mode != "mock" {
		t.Errorf("Coderunner.Mode = %q", cfg.Coderunner.Mode)
	}
}

func TestParse_MissingSecrets(t *testing.T) {
	_, err := Parse([]byte(`service: sbx`))
	if err == nil {
		t.Fatal("expected validation error without secrets")
	}
	if !strings.Contains(err.Error(), "api_token") {
		t.Errorf("error = %v", err)
	}
}

func TestParse_EnvOverridesToken(t *testing.T) {
	t.Setenv("SIGNALBOX_API_TOKEN", "env-tok")
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Auth.APIToken != "env-tok" {
		t.Errorf("APIToken = %q, want env-tok", cfg.Auth.APIToken)
	}
}

func TestParse_ExternalModeRequiresTransport(t *testing.T) {
	yaml := minimalYAML + `
coderunner:
  mode: external
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("expected error for external mode without base_url/token")
	}
	if !strings.Contains(err.Error(), "base_url") {
		t.Errorf("error = %v", err)
	}
}

func TestParse_BadDriver(t *testing.T) {
	yaml := minimalYAML + `
db:
  driver: postgres
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestParse_AllowlistValidation(t *testing.T) {
	yaml := minimalYAML + `
allowlist:
  - owner: acme
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("expected error for allowlist entry without name")
	}
}

func TestAllowed(t *testing.T) {
	cfg := &Config{}
	if !cfg.Allowed("anyone", "anything") {
		t.Error("empty allowlist should accept any repo")
	}

	cfg.Allowlist = []RepoRef{{Owner: "acme", Name: "svc"}}
	if !cfg.Allowed("acme", "svc") {
		t.Error("allowlisted repo rejected")
	}
	if !cfg.Allowed("Acme", "SVC") {
		t.Error("allowlist match should be case-insensitive")
	}
	if cfg.Allowed("acme", "other") {
		t.Error("non-allowlisted repo accepted")
	}
}
