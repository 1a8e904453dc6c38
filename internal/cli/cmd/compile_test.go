package cmd_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/theeyeofcthulhu/least/internal/cli/cmd"
	"github.com/theeyeofcthulhu/least/internal/log"
)

func writeSource(t *testing.T, dir, source string) string {
	t.Helper()

	path := filepath.Join(dir, "t.least")
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	return path
}

func TestCompileCommand_WritesObjectFile(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "exit 0\n")
	out := filepath.Join(dir, "a.o")

	c := cmd.Compile()
	args := []string{"-o", out, src}

	if err := c.FlagSet().Parse(args); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	code := c.Run(context.Background(), c.FlagSet().Args(), os.Stdout, log.DefaultLogger())
	if code != 0 {
		t.Fatalf("Run: exit code %d, want 0", code)
	}

	info, err := os.Stat(out)
	if err != nil {
		t.Fatalf("expected object file at %s: %v", out, err)
	}
	if info.Size() == 0 {
		t.Fatal("expected non-empty object file")
	}
}

func TestCompileCommand_WritesDotFile(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "int a 0\nset a 1\nexit a\n")
	out := filepath.Join(dir, "a.o")
	dot := filepath.Join(dir, "a.dot")

	c := cmd.Compile()
	args := []string{"-o", out, "-dot", dot, src}

	if err := c.FlagSet().Parse(args); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	code := c.Run(context.Background(), c.FlagSet().Args(), os.Stdout, log.DefaultLogger())
	if code != 0 {
		t.Fatalf("Run: exit code %d, want 0", code)
	}

	if _, err := os.Stat(dot); err != nil {
		t.Fatalf("expected dot file at %s: %v", dot, err)
	}
}

func TestCompileCommand_FatalDiagnosticReturnsNonZero(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "end\n")
	out := filepath.Join(dir, "a.o")

	c := cmd.Compile()
	args := []string{"-o", out, src}

	if err := c.FlagSet().Parse(args); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	code := c.Run(context.Background(), c.FlagSet().Args(), os.Stdout, log.DefaultLogger())
	if code == 0 {
		t.Fatal("expected non-zero exit code for invalid source")
	}

	if _, err := os.Stat(out); err == nil {
		t.Fatal("expected no object file to be written on failure")
	}
}

func TestCompileCommand_MissingSourceArgReturnsNonZero(t *testing.T) {
	c := cmd.Compile()

	if err := c.FlagSet().Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	code := c.Run(context.Background(), c.FlagSet().Args(), os.Stdout, log.DefaultLogger())
	if code == 0 {
		t.Fatal("expected non-zero exit code with no source argument")
	}
}

func TestCompileCommand_UnreadableSourceReturnsNonZero(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "a.o")

	c := cmd.Compile()
	args := []string{"-o", out, filepath.Join(dir, "missing.least")}

	if err := c.FlagSet().Parse(args); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	code := c.Run(context.Background(), c.FlagSet().Args(), os.Stdout, log.DefaultLogger())
	if code == 0 {
		t.Fatal("expected non-zero exit code for unreadable source file")
	}
}
