package server

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestStartValidation(t *testing.T) {
	plain := t.TempDir() // exists, but no .hg

	tests := []struct {
		name string
		path string
		want error
	}{
		{name: "empty path", path: "", want: ErrNoRepository},
		{name: "missing path", path: filepath.Join(plain, "nope"), want: ErrInvalidRepository},
		{name: "no .hg directory", path: plain, want: ErrInvalidRepository},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Start(Config{RepoPath: tt.path})
			if !errors.Is(err, tt.want) {
				t.Errorf("Start() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStartMissingExecutable(t *testing.T) {
	repo := t.TempDir()
	if err := os.Mkdir(filepath.Join(repo, ".hg"), 0o755); err != nil {
		t.Fatal(err)
	}

	_, err := Start(Config{
		RepoPath:   repo,
		Executable: filepath.Join(repo, "no-such-hg"),
	})
	if !errors.Is(err, ErrServerUnavailable) {
		t.Errorf("Start() error = %v, want ErrServerUnavailable", err)
	}
}

func TestCommandArgs(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want []string
	}{
		{
			name: "plain",
			cfg:  Config{RepoPath: "/tmp/repo"},
			want: []string{
				"serve", "--cmdserver", "pipe",
				"--cwd", "/tmp/repo",
				"--repository", "/tmp/repo",
			},
		},
		{
			name: "config overrides sorted",
			cfg: Config{
				RepoPath: "/tmp/repo",
				ConfigOverrides: map[string]string{
					"ui.username":      "test",
					"extensions.purge": "",
				},
			},
			want: []string{
				"serve", "--cmdserver", "pipe",
				"--cwd", "/tmp/repo",
				"--repository", "/tmp/repo",
				"--config", "extensions.purge=,ui.username=test",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, commandArgs(tt.cfg)); diff != "" {
				t.Errorf("commandArgs mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
