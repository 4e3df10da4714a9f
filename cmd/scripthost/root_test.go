package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootCommand(t *testing.T) {
	cmd := newRootCommand("1.2.3", "abc", "today")

	for _, name := range []string{"serve", "provision", "verify", "version"} {
		if sub, _, err := cmd.Find([]string{name}); err != nil || sub.Name() != name {
			t.Errorf("Find(%q) = %v, %v", name, sub, err)
		}
	}
	for _, flag := range []string{"config", "log-level"} {
		if cmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing --%s", flag)
		}
	}
}

func TestRootVersion(t *testing.T) {
	cmd := newRootCommand("1.2.3", "abc", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out.String(), "1.2.3 (commit: abc, built: today)") {
		t.Errorf("version output = %q", out.String())
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand("1.2.3", "abc", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out.String(), "scripthost 1.2.3") || !strings.Contains(out.String(), "commit: abc") {
		t.Errorf("version output = %q", out.String())
	}
}
