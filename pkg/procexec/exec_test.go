package procexec

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
}

func TestExecRunnerRun(t *testing.T) {
	requireShell(t)

	runner := NewExecRunner(zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		name         string
		inv          Invocation
		expectedCode int
		expectedOut  []string
	}{
		{
			name:         "stdout captured",
			inv:          Invocation{Executable: "sh", Args: []string{"-c", "echo hello"}},
			expectedCode: 0,
			expectedOut:  []string{"hello"},
		},
		{
			name:         "stderr combined",
			inv:          Invocation{Executable: "sh", Args: []string{"-c", "echo out; echo err >&2"}},
			expectedCode: 0,
			expectedOut:  []string{"out", "err"},
		},
		{
			name:         "non-zero exit is a result not an error",
			inv:          Invocation{Executable: "sh", Args: []string{"-c", "echo failing; exit 3"}},
			expectedCode: 3,
			expectedOut:  []string{"failing"},
		},
		{
			name: "environment replaced",
			inv: Invocation{
				Executable: "sh",
				Args:       []string{"-c", "echo $OSLBENCH_MARKER"},
				Env:        []string{"OSLBENCH_MARKER=marker-value", "PATH=/usr/bin:/bin"},
			},
			expectedCode: 0,
			expectedOut:  []string{"marker-value"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := runner.Run(ctx, tt.inv)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.ExitCode != tt.expectedCode {
				t.Errorf("expected exit code %d, got %d", tt.expectedCode, result.ExitCode)
			}
			for _, want := range tt.expectedOut {
				if !strings.Contains(string(result.Output), want) {
					t.Errorf("expected output to contain %q, got %q", want, result.Output)
				}
			}
			if result.Duration < 0 {
				t.Errorf("negative duration %v", result.Duration)
			}
		})
	}
}

func TestExecRunnerWorkingDirectory(t *testing.T) {
	requireShell(t)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker.txt"), nil, 0644); err != nil {
		t.Fatalf("failed to write marker: %v", err)
	}
	runner := NewExecRunner(zerolog.Nop())

	result, err := runner.Run(context.Background(), Invocation{
		Executable: "ls",
		Dir:        dir,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(result.Output), "marker.txt") {
		t.Errorf("expected ls output to list marker.txt, got %q", result.Output)
	}
}

func TestExecRunnerStream(t *testing.T) {
	requireShell(t)

	var stream bytes.Buffer
	runner := NewExecRunner(zerolog.Nop())

	result, err := runner.Run(context.Background(), Invocation{
		Executable: "sh",
		Args:       []string{"-c", "echo streamed"},
		Stream:     &stream,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stream.String() != string(result.Output) {
		t.Errorf("stream %q differs from captured output %q", stream.String(), result.Output)
	}
}

func TestExecRunnerSearchesInvocationPath(t *testing.T) {
	requireShell(t)

	dir := t.TempDir()
	script := "#!/bin/sh\necho \"mkmf $1\"\n"
	if err := os.WriteFile(filepath.Join(dir, "oslbench-mkmf"), []byte(script), 0755); err != nil {
		t.Fatalf("failed to write tool: %v", err)
	}
	runner := NewExecRunner(zerolog.Nop())

	result, err := runner.Run(context.Background(), Invocation{
		Executable: "oslbench-mkmf",
		Args:       []string{"VC-WIN32"},
		Env:        []string{"PATH=" + dir + ":/usr/bin:/bin"},
	})
	if err != nil {
		t.Fatalf("tool on the invocation PATH was not found: %v", err)
	}
	if !strings.Contains(string(result.Output), "mkmf VC-WIN32") {
		t.Errorf("unexpected output %q", result.Output)
	}

	// The harness's own PATH does not contain the tool.
	if _, err := runner.Run(context.Background(), Invocation{Executable: "oslbench-mkmf"}); err == nil {
		t.Error("expected spawn error when inheriting the harness environment")
	}
}

func TestLookPathEnv(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on POSIX file modes")
	}

	first := t.TempDir()
	second := t.TempDir()
	write := func(dir, name string, mode os.FileMode) string {
		t.Helper()
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, nil, mode); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
		return path
	}
	write(first, "nmake", 0644)
	nmake := write(second, "nmake", 0755)
	perlExe := write(second, "perl.exe", 0644)
	clBat := write(first, "cl.bat", 0644)
	if err := os.Mkdir(filepath.Join(first, "perl"), 0755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		goos   string
		exe    string
		env    []string
		want   string
		wantOK bool
	}{
		{"skips non-executable match", "linux", "nmake", []string{"PATH=" + first + ":" + second}, nmake, true},
		{"no PATH entry", "linux", "nmake", []string{"HOME=/root"}, "", false},
		{"last PATH wins", "linux", "nmake", []string{"PATH=/nowhere", "PATH=" + second}, nmake, true},
		{"path separator bypasses search", "linux", "./nmake", []string{"PATH=" + second}, "", false},
		{"missing tool", "linux", "cl", []string{"PATH=" + second}, "", false},
		{"windows default extensions", "windows", "perl", []string{"Path=" + first + ";" + second}, perlExe, true},
		{"windows PATHEXT order", "windows", "cl", []string{"PATH=" + first, "PATHEXT=.EXE;.BAT"}, clBat, true},
		{"windows PATHEXT excludes", "windows", "cl", []string{"PATH=" + first, "PATHEXT=.EXE"}, "", false},
		{"windows explicit extension", "windows", "perl.exe", []string{"PATH=" + second}, perlExe, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := lookPathEnv(tt.goos, tt.exe, tt.env)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("lookPathEnv(%q) = %q, %v; want %q, %v", tt.exe, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestExecRunnerSpawnFailure(t *testing.T) {
	runner := NewExecRunner(zerolog.Nop())

	_, err := runner.Run(context.Background(), Invocation{
		Executable: "oslbench-definitely-missing-binary",
	})
	if err == nil {
		t.Fatal("expected spawn error for missing executable")
	}

	if _, err := runner.Run(context.Background(), Invocation{}); err == nil {
		t.Fatal("expected error for empty executable")
	}
}

func TestMockRunnerRecordsCalls(t *testing.T) {
	mock := &MockRunner{
		RunFunc: func(ctx context.Context, inv Invocation) (*Result, error) {
			return &Result{ExitCode: len(inv.Args)}, nil
		},
	}

	r1, _ := mock.Run(context.Background(), Invocation{Executable: "a"})
	r2, _ := mock.Run(context.Background(), Invocation{Executable: "b", Args: []string{"x", "y"}})

	if r1.ExitCode != 0 || r2.ExitCode != 2 {
		t.Errorf("unexpected exit codes %d, %d", r1.ExitCode, r2.ExitCode)
	}
	calls := mock.Calls()
	if len(calls) != 2 || calls[0].Executable != "a" || calls[1].String() != "b x y" {
		t.Errorf("unexpected calls: %+v", calls)
	}
}
