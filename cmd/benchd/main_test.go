package main

import "testing"

func TestVersionCommandRuns(t *testing.T) {
	rootCmd.SetArgs([]string{"version"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestRootCommandHasServeAndVersion(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	if !names["serve"] || !names["version"] {
		t.Fatalf("expected serve and version subcommands, got %v", names)
	}
}
