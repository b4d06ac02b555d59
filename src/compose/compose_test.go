package compose

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"graphdoctor/src/contracts"
	"graphdoctor/src/envinfo"
)

func testEnv() envinfo.EnvInfo {
	return envinfo.EnvInfo{
		OS:         "linux",
		Arch:       "amd64",
		NumCPU:     8,
		GoVersion:  "go1.24",
		AppVersion: "test",
		Packages: []envinfo.Package{
			{Name: "accelerate", Version: "0.30.0"},
			{Name: "numpy", Version: "1.26.4"},
			{Name: "requests", Version: "2.31.0"},
			{Name: "torch", Version: "2.3.1"},
			{Name: "xformers", Version: "0.0.26"},
		},
	}
}

func TestSelectPackages_ReferencedFirst(t *testing.T) {
	c := New(testEnv())
	pkgs := c.selectPackages("ImportError: cannot import name 'x' from 'requests'", 3)
	if len(pkgs) != 3 {
		t.Fatalf("expected 3 packages, got %d", len(pkgs))
	}
	if pkgs[0].Name != "requests" {
		t.Errorf("expected error-referenced package first, got %q", pkgs[0].Name)
	}
	// Remaining slots go to the baseline set in name order.
	if pkgs[1].Name != "numpy" || pkgs[2].Name != "torch" {
		t.Errorf("expected baseline packages next, got %q, %q", pkgs[1].Name, pkgs[2].Name)
	}
}

func TestSelectPackages_CapRespected(t *testing.T) {
	c := New(testEnv())
	if got := c.selectPackages("anything", 2); len(got) != 2 {
		t.Errorf("expected cap of 2, got %d", len(got))
	}
	if got := c.selectPackages("anything", 0); got != nil {
		t.Errorf("expected nil for zero cap, got %v", got)
	}
}

func TestMentionsPackage_TokenBoundaries(t *testing.T) {
	tests := []struct {
		name string
		text string
		pkg  string
		want bool
	}{
		{"exact token", "module torch not found", "torch", true},
		{"substring no match", "torchvision broke", "torch", false},
		{"short name ignored", "import re failed", "re", false},
		{"quoted", "No module named 'numpy'", "numpy", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mentionsPackage(tt.text, tt.pkg); got != tt.want {
				t.Errorf("mentionsPackage(%q, %q) = %v, want %v", tt.text, tt.pkg, got, tt.want)
			}
		})
	}
}

func TestTruncateHeadTail(t *testing.T) {
	lines := make([]string, 30)
	for i := range lines {
		lines[i] = "line"
	}
	out, cut := truncateHeadTail(lines, 5, 10)
	if !cut {
		t.Fatal("expected truncation")
	}
	if len(out) != 16 {
		t.Errorf("expected 16 lines (5 head + marker + 10 tail), got %d", len(out))
	}
	if !strings.Contains(out[5], "15 lines elided") {
		t.Errorf("expected elision marker, got %q", out[5])
	}

	short := []string{"a", "b"}
	out, cut = truncateHeadTail(short, 5, 10)
	if cut || len(out) != 2 {
		t.Errorf("short input should pass through, got %d lines, cut=%v", len(out), cut)
	}
}

func TestCompressPath(t *testing.T) {
	in := `File "/home/u/app/custom_nodes/pack/nodes.py", line 42, in run`
	got := compressPath(in)
	if !strings.Contains(got, ".../nodes.py") {
		t.Errorf("expected compressed path, got %q", got)
	}
	if !strings.Contains(got, "line 42") {
		t.Errorf("line number lost: %q", got)
	}
}

func TestCompose_KeepsExceptionLine(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("Traceback (most recent call last):\n")
	for i := 0; i < 200; i++ {
		sb.WriteString(`  File "/a/b/c/d/e.py", line 1, in f` + "\n")
	}
	sb.WriteString("torch.cuda.OutOfMemoryError: CUDA out of memory")

	c := New(testEnv())
	out := c.Compose(Input{
		Report:         contracts.ErrorReport{RawText: sb.String(), Complete: true},
		Classification: contracts.Classification{PatternID: "cuda_oom_classic", Category: "memory", Matched: true},
	}, RemoteProfile(3))

	if !out.Truncated {
		t.Error("expected truncation flag on a 200-frame traceback")
	}
	if len(out.Text) > RemoteProfile(3).MaxChars {
		t.Errorf("context exceeds budget: %d chars", len(out.Text))
	}
	if !strings.Contains(out.Text, "CUDA out of memory") {
		t.Error("final exception line must survive trimming")
	}
}

func TestCompose_PartialReportLabeled(t *testing.T) {
	c := New(testEnv())
	out := c.Compose(Input{
		Report: contracts.ErrorReport{RawText: "RuntimeError: boom", Complete: false},
	}, RemoteProfile(3))
	if !strings.Contains(out.Text, "partial capture") {
		t.Error("partial reports should be labeled as such")
	}
}

func TestCompose_HistoryDroppedFirst(t *testing.T) {
	entries := []contracts.HistoryEntry{
		{Timestamp: time.Now(), Classification: contracts.Classification{Category: "memory"}, Resolution: contracts.StatusUnresolved},
	}
	c := New(testEnv())
	profile := RemoteProfile(3)

	full := c.Compose(Input{
		Report:  contracts.ErrorReport{RawText: "RuntimeError: x", Complete: true},
		History: entries,
	}, profile)
	if !strings.Contains(full.Text, "Recent failures:") {
		t.Fatal("history should appear when budget allows")
	}

	// Shrink the budget until history no longer fits; traceback stays.
	profile.MaxChars = len(full.Text) - 10
	tight := c.Compose(Input{
		Report:  contracts.ErrorReport{RawText: "RuntimeError: x", Complete: true},
		History: entries,
	}, profile)
	if strings.Contains(tight.Text, "Recent failures:") {
		t.Error("history should be the first section dropped under pressure")
	}
	if !strings.Contains(tight.Text, "RuntimeError: x") {
		t.Error("traceback must outlive history trimming")
	}
}

func TestCompose_ConversationTrimmedOldestFirst(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: strings.Repeat("the first thing I tried ", 20)},
		{Role: "assistant", Content: "try lowering the resolution"},
		{Role: "user", Content: "still failing with CUDA out of memory"},
	}
	entries := []contracts.HistoryEntry{
		{Timestamp: time.Now(), Classification: contracts.Classification{Category: "memory"}, Resolution: contracts.StatusUnresolved},
	}
	in := Input{
		Report:   contracts.ErrorReport{RawText: "RuntimeError: x", Complete: true},
		History:  entries,
		Messages: msgs,
	}
	c := New(testEnv())
	profile := RemoteProfile(3)

	full := c.Compose(in, profile)
	if !strings.Contains(full.Text, "the first thing I tried") {
		t.Fatal("all turns should appear when budget allows")
	}

	// Shrink the budget so the oldest turn must go; newer turns and history
	// survive because the conversation is trimmed before anything else.
	profile.MaxChars = len(full.Text) - 10
	tight := c.Compose(in, profile)
	if strings.Contains(tight.Text, "the first thing I tried") {
		t.Error("oldest turn should be dropped first under pressure")
	}
	if !strings.Contains(tight.Text, "still failing with CUDA out of memory") {
		t.Error("newest turn must survive trimming")
	}
	if !strings.Contains(tight.Text, "Recent failures:") {
		t.Error("history should outlive conversation trimming")
	}
}

func TestCompose_HardCutKeepsValidUTF8(t *testing.T) {
	profile := Profile{MaxChars: 1001, TracebackHead: 3, TracebackTail: 6, MaxPackages: 1, MaxHistory: 0}
	c := New(testEnv())
	out := c.Compose(Input{
		Report: contracts.ErrorReport{RawText: "RuntimeError: " + strings.Repeat("п", 2000), Complete: true},
	}, profile)

	if len(out.Text) > profile.MaxChars {
		t.Errorf("context exceeds budget: %d chars", len(out.Text))
	}
	if !utf8.ValidString(out.Text) {
		t.Error("hard cut must not split a multi-byte sequence")
	}
}

func TestLocalProfileLooserThanRemote(t *testing.T) {
	local, remote := LocalProfile(5), RemoteProfile(5)
	if local.MaxChars <= remote.MaxChars {
		t.Error("local profile should allow more characters")
	}
	if local.TracebackTail <= remote.TracebackTail {
		t.Error("local profile should keep a longer traceback tail")
	}
}
