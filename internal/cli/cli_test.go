package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mrg275/proof2pay-agents/internal/store"
	"github.com/mrg275/proof2pay-agents/pkg/models"
)

func TestRootHasSubcommands(t *testing.T) {
	root := NewRootCmd("test")
	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"start", "stop", "status", "run", "cycle", "chat", "agents", "memory", "usage", "doctor", "nuke", "daemon"} {
		if !names[want] {
			t.Errorf("missing subcommand %q", want)
		}
	}
}

func TestRootVersion(t *testing.T) {
	if got := NewRootCmd("1.2.3").Version; got != "1.2.3" {
		t.Errorf("Version = %q", got)
	}
	if got := NewRootCmd("").Version; got != "dev" {
		t.Errorf("default Version = %q", got)
	}
}

func TestRootHomeFlag(t *testing.T) {
	if NewRootCmd("").PersistentFlags().Lookup("home") == nil {
		t.Fatal("missing --home persistent flag")
	}
}

func execute(t *testing.T, home string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("test")
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append([]string{"--home", home}, args...))
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestAgentsListsTheRoster(t *testing.T) {
	out, err := execute(t, t.TempDir(), "agents")
	if err != nil {
		t.Fatalf("agents: %v", err)
	}
	for _, want := range []string{"chief_of_staff", "orchestrator", "domain_intelligence", "compliance"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestStatusNotRunning(t *testing.T) {
	out, err := execute(t, t.TempDir(), "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "not running") {
		t.Errorf("output = %q", out)
	}
}

func TestMemoryEmptyAndListing(t *testing.T) {
	home := t.TempDir()
	out, err := execute(t, home, "memory")
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if !strings.Contains(out, "no memory recorded") {
		t.Errorf("empty output = %q", out)
	}

	st, err := store.Open(home)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	e := &store.MemoryEntry{AgentID: "compliance", Kind: "output", Summary: "AMLD6 reviewed", Content: "AMLD6 reviewed in full"}
	if err := st.AppendMemory(context.Background(), e); err != nil {
		t.Fatalf("AppendMemory: %v", err)
	}
	_ = st.Close()

	out, err = execute(t, home, "memory", "--agent", "compliance")
	if err != nil {
		t.Fatalf("memory --agent: %v", err)
	}
	if !strings.Contains(out, "AMLD6 reviewed") {
		t.Errorf("listing output = %q", out)
	}
}

func TestUsageEstimatesCost(t *testing.T) {
	home := t.TempDir()
	st, err := store.Open(home)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	task := &store.Task{Origin: models.OriginHuman, Instruction: "q", Priority: models.PriorityHuman}
	if err := st.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	model := "sonnet-model"
	run := &store.Run{TaskID: task.TaskID, AgentID: "compliance", Status: models.RunSucceeded, Model: &model, InputTokens: 2_000_000, OutputTokens: 1_000_000}
	if err := st.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	_ = st.Close()

	out, err := execute(t, home, "usage")
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	// Default rates: $3/Mtok in, $15/Mtok out -> 2*3 + 1*15 = $21.00.
	if !strings.Contains(out, "$21.00") {
		t.Errorf("output missing cost estimate:\n%s", out)
	}
	if !strings.Contains(out, "compliance") || !strings.Contains(out, "sonnet-model") {
		t.Errorf("output missing usage row:\n%s", out)
	}
}

func TestDoctorFlagsMissingKey(t *testing.T) {
	home := t.TempDir()
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := execute(t, home, "doctor"); err == nil {
		t.Error("doctor passed without a reasoning key")
	}

	yaml := "reasoning:\n  provider: mock\n"
	if err := os.WriteFile(filepath.Join(home, "settings.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	out, err := execute(t, home, "doctor")
	if err != nil {
		t.Fatalf("doctor with mock provider: %v", err)
	}
	if !strings.Contains(out, "ok") {
		t.Errorf("output = %q", out)
	}
}

func TestRunAnswersDirectly(t *testing.T) {
	home := t.TempDir()
	yaml := "reasoning:\n  provider: mock\n"
	if err := os.WriteFile(filepath.Join(home, "settings.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	out, err := execute(t, home, "run", "--agent", "compliance", "summarize our AML posture")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// The scripted mock replies "ok" when no script is loaded.
	if !strings.Contains(out, "ok") {
		t.Errorf("output missing the agent reply:\n%s", out)
	}
}

func TestRunRejectsUnknownAgent(t *testing.T) {
	home := t.TempDir()
	yaml := "reasoning:\n  provider: mock\n"
	if err := os.WriteFile(filepath.Join(home, "settings.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	if _, err := execute(t, home, "run", "--agent", "nobody", "hello"); err == nil {
		t.Error("unknown agent accepted")
	}
}
