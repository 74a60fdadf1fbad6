package gitops

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestRun_RejectsUnknownAction(t *testing.T) {
	c := NewClient(t.TempDir(), time.Second)
	if _, err := c.Run(context.Background(), "filter-branch", nil); err == nil {
		t.Fatal("expected unknown action to be rejected")
	}
	if _, err := c.Run(context.Background(), "push", nil); err == nil {
		t.Fatal("expected push to be rejected (not whitelisted)")
	}
}

func TestRun_RejectsFlagArguments(t *testing.T) {
	c := NewClient(t.TempDir(), time.Second)
	if _, err := c.Run(context.Background(), "log", []string{"--exec=evil"}); err == nil {
		t.Fatal("expected flag argument to be rejected")
	}
}

func TestScoped_SeparatesNamespaces(t *testing.T) {
	root := t.TempDir()
	c := NewClient(root, 0)

	blog := c.Scoped("blog")
	wiki := c.Scoped("wiki")

	if blog.WorkDir() != filepath.Join(root, "blog") {
		t.Errorf("unexpected blog work dir: %s", blog.WorkDir())
	}
	if blog.WorkDir() == wiki.WorkDir() {
		t.Error("expected namespaces to get distinct work dirs")
	}
}

func TestCommit_RequiresMessage(t *testing.T) {
	c := NewClient(t.TempDir(), time.Second)
	if _, err := c.Commit(context.Background(), ""); err == nil {
		t.Fatal("expected empty commit message to be rejected")
	}
}
