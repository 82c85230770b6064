package main

import (
	"os"
	"testing"
)

func TestCommandFlags(t *testing.T) {
	cmd := newCommand()
	for _, name := range []string{"config", "log-level", "dev", "skip-preflight"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Fatalf("missing flag %q", name)
		}
	}
	cmd.SetArgs([]string{"unexpected"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected positional arguments to be rejected")
	}
}

func TestCommandReportsConfigErrors(t *testing.T) {
	path := t.TempDir() + "/broken.toml"
	if err := writeFile(path, "[paths\n"); err != nil {
		t.Fatal(err)
	}
	cmd := newCommand()
	cmd.SetArgs([]string{"--config", path})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected malformed config to fail")
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
