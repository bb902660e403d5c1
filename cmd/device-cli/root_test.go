package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestNoArgsPrintsHelpAndExitsZero(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(nil)

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute with no args returned error: %v", err)
	}
	if out.Len() == 0 {
		t.Fatal("expected help text on stdout")
	}
}

func TestShowWithoutPathReturnsInvalidArgumentsError(t *testing.T) {
	root := newRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"show"})

	err := root.Execute()
	if err == nil {
		t.Fatal("expected error for show with no path")
	}
	if got := err.Error(); !contains(got, "invalid number of arguments") {
		t.Fatalf("error = %q, want it to mention invalid number of arguments", got)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

func buildFixtureSysRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	devDir := filepath.Join(root, "bus", "platform", "devices", "dev0")
	if err := os.MkdirAll(devDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(devDir, "uevent"), nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return root
}

func TestTriggerWritesChangeToEachUeventFile(t *testing.T) {
	sysRoot := buildFixtureSysRoot(t)

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--sys-root", sysRoot, "trigger"})

	if err := root.Execute(); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(sysRoot, "bus", "platform", "devices", "dev0", "uevent"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "change" {
		t.Fatalf("uevent contents = %q, want \"change\"", data)
	}
}

func TestListEnumeratesFixtureDevice(t *testing.T) {
	sysRoot := buildFixtureSysRoot(t)

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--sys-root", sysRoot, "--no-legend", "list"})

	if err := root.Execute(); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !contains(out.String(), "dev0") {
		t.Fatalf("list output = %q, want it to mention dev0", out.String())
	}
}
