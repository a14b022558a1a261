package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"run", "epic", "serve", "sessions", "workflows", "service", "config", "token", "version"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestResolveConfigPath(t *testing.T) {
	if got := resolveConfigPath("custom.yaml"); got != "custom.yaml" {
		t.Errorf("flag should win, got %q", got)
	}

	t.Setenv("MAESTRO_CONFIG", "/etc/maestro.yaml")
	if got := resolveConfigPath(""); got != "/etc/maestro.yaml" {
		t.Errorf("env should apply, got %q", got)
	}

	t.Setenv("MAESTRO_CONFIG", "")
	if got := resolveConfigPath(""); got != "maestro.yaml" {
		t.Errorf("default should apply, got %q", got)
	}
}

func TestMissionFrom(t *testing.T) {
	if got := missionFrom([]string{"summarize", "the", "incidents"}); got != "summarize the incidents" {
		t.Errorf("got %q", got)
	}
	if got := missionFrom([]string{"  padded  "}); got != "padded" {
		t.Errorf("got %q", got)
	}
}
