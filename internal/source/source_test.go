package source

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestIsRemote(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"https://github.com/acme/repo.git", true},
		{"http://example.com/repo", true},
		{"git@github.com:acme/repo.git", true},
		{"ssh://git@host/repo", true},
		{"file:///tmp/repo", true},
		{"./repo", false},
		{"/abs/repo", false},
	}
	for _, tt := range tests {
		if got := IsRemote(tt.in); got != tt.want {
			t.Errorf("IsRemote(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSlug(t *testing.T) {
	a := Slug("default-namespace")
	if !strings.HasPrefix(a, "default-namespace-") {
		t.Errorf("unexpected slug %q", a)
	}
	if Slug("a/b") == Slug("a:b") {
		t.Error("distinct namespaces share a slug")
	}
	if Slug("x") != Slug("x") {
		t.Error("slug is not deterministic")
	}
	if s := Slug("../../etc"); strings.Contains(s, "/") || strings.Contains(s, "..") {
		t.Errorf("slug escapes workdir: %q", s)
	}
}

func TestFetch_LocalDirectory(t *testing.T) {
	dir := t.TempDir()
	r := New(Config{Workdir: t.TempDir()}, nil)

	got, err := r.Fetch(context.Background(), dir, "ns")
	if err != nil {
		t.Fatal(err)
	}
	if got != dir {
		t.Errorf("expected %s, got %s", dir, got)
	}

	if _, err := r.Fetch(context.Background(), filepath.Join(dir, "missing"), "ns"); err == nil {
		t.Error("expected error for missing directory")
	}
	file := filepath.Join(dir, "f.txt")
	os.WriteFile(file, []byte("x"), 0644)
	if _, err := r.Fetch(context.Background(), file, "ns"); err == nil {
		t.Error("expected error for a file location")
	}
}

func gitRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-c", "user.name=test", "-c", "user.email=test@example.com"}, args...)...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init", "-q")
	for name, body := range files {
		os.WriteFile(filepath.Join(dir, name), []byte(body), 0644)
	}
	run("add", "-A")
	run("commit", "-q", "-m", "init")
	return dir
}

func TestFetch_CloneAndRefresh(t *testing.T) {
	upstream := gitRepo(t, map[string]string{"a.py": "print(1)"})
	location := "file://" + upstream
	r := New(Config{Workdir: t.TempDir(), Timeout: time.Minute}, nil)
	ctx := context.Background()

	dir, err := r.Fetch(ctx, location, "demo")
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if data, err := os.ReadFile(filepath.Join(dir, "a.py")); err != nil || string(data) != "print(1)" {
		t.Fatalf("expected cloned file, got %q, %v", data, err)
	}

	os.WriteFile(filepath.Join(upstream, "b.py"), []byte("print(2)"), 0644)
	add := exec.Command("git", "add", "b.py")
	add.Dir = upstream
	if out, err := add.CombinedOutput(); err != nil {
		t.Fatalf("add: %v\n%s", err, out)
	}
	commit := exec.Command("git", "-c", "user.name=test", "-c", "user.email=test@example.com", "commit", "-q", "-m", "add b")
	commit.Dir = upstream
	if out, err := commit.CombinedOutput(); err != nil {
		t.Fatalf("commit: %v\n%s", err, out)
	}

	again, err := r.Fetch(ctx, location, "demo")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if again != dir {
		t.Errorf("expected same clone dir, got %s and %s", dir, again)
	}
	if _, err := os.Stat(filepath.Join(dir, "b.py")); err != nil {
		t.Errorf("expected refreshed clone to contain b.py: %v", err)
	}
}

func TestFetch_ReplacesCloneOfOtherRepository(t *testing.T) {
	first := gitRepo(t, map[string]string{"one.py": "1"})
	second := gitRepo(t, map[string]string{"two.py": "2"})
	r := New(Config{Workdir: t.TempDir(), Timeout: time.Minute}, nil)
	ctx := context.Background()

	if _, err := r.Fetch(ctx, "file://"+first, "ns"); err != nil {
		t.Fatal(err)
	}
	dir, err := r.Fetch(ctx, "file://"+second, "ns")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "one.py")); !os.IsNotExist(err) {
		t.Error("expected previous repository to be replaced")
	}
	if _, err := os.Stat(filepath.Join(dir, "two.py")); err != nil {
		t.Errorf("expected new repository files: %v", err)
	}
}

func TestFetch_CloneFailure(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	workdir := t.TempDir()
	r := New(Config{Workdir: workdir, Timeout: time.Minute}, nil)

	_, err := r.Fetch(context.Background(), "file://"+filepath.Join(t.TempDir(), "nope"), "ns")
	if err == nil {
		t.Fatal("expected clone failure")
	}
	if _, statErr := os.Stat(filepath.Join(workdir, Slug("ns"))); !os.IsNotExist(statErr) {
		t.Error("expected partial clone to be removed")
	}
}
