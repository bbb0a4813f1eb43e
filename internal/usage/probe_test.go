package usage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	agenterrors "github.com/captionhq/storage-quota/internal/errors"
	"github.com/captionhq/storage-quota/internal/observability"
)

func newTestProbe(t *testing.T, root string) *Probe {
	t.Helper()
	metrics := observability.NewMetrics()
	collector := agenterrors.NewErrorCollector(agenterrors.RealClock{})
	return NewProbe(root, 10*time.Millisecond, metrics, collector)
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestProbe_SumsRegularFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.mp4"), 1000)
	writeFile(t, filepath.Join(root, "captions", "b.srt"), 500)
	writeFile(t, filepath.Join(root, "captions", "nested", "c.vtt"), 250)

	p := newTestProbe(t, root)
	res, err := p.ComputeUsage(context.Background())
	if err != nil {
		t.Fatalf("ComputeUsage failed: %v", err)
	}

	if res.TotalBytes != 1750 {
		t.Errorf("TotalBytes = %d, want 1750", res.TotalBytes)
	}
	if res.FileCount != 3 {
		t.Errorf("FileCount = %d, want 3", res.FileCount)
	}
	if res.SkippedFiles != 0 {
		t.Errorf("SkippedFiles = %d, want 0", res.SkippedFiles)
	}
}

func TestProbe_EmptyRoot(t *testing.T) {
	p := newTestProbe(t, t.TempDir())

	res, err := p.ComputeUsage(context.Background())
	if err != nil {
		t.Fatalf("ComputeUsage failed: %v", err)
	}
	if res.TotalBytes != 0 || res.FileCount != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestProbe_CreatesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "does", "not", "exist")

	p := newTestProbe(t, root)
	if _, err := p.ComputeUsage(context.Background()); err != nil {
		t.Fatalf("ComputeUsage failed: %v", err)
	}

	info, err := os.Stat(root)
	if err != nil {
		t.Fatalf("root was not created: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("root is not a directory")
	}
}

func TestProbe_RootIsFile(t *testing.T) {
	dir := t.TempDir()
	rootFile := filepath.Join(dir, "root")
	writeFile(t, rootFile, 10)

	p := newTestProbe(t, rootFile)
	_, err := p.ComputeUsage(context.Background())
	if err == nil {
		t.Fatal("expected an error when the root path is a file")
	}
	if !agenterrors.HasCode(err, agenterrors.ErrProbeFailed) {
		t.Fatalf("expected PROBE_FAILED, got %v", err)
	}
}

func TestProbe_UnreadableDirectoryRetriesThenFails(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks are bypassed for root")
	}

	root := t.TempDir()
	locked := filepath.Join(root, "locked")
	writeFile(t, filepath.Join(locked, "hidden.bin"), 100)
	if err := os.Chmod(locked, 0o000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	p := newTestProbe(t, root)
	_, err := p.ComputeUsage(context.Background())
	if err == nil {
		t.Fatal("expected an error for an unreadable directory")
	}
	if !agenterrors.HasCode(err, agenterrors.ErrProbeFailed) {
		t.Fatalf("expected PROBE_FAILED, got %v", err)
	}
}

func TestProbe_CanceledContext(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a"), 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestProbe(t, root)
	_, err := p.ComputeUsage(ctx)
	if err == nil {
		t.Fatal("expected an error from a canceled context")
	}
}

func TestProbe_IgnoresNonRegularFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a"), 100)
	if err := os.Symlink(filepath.Join(root, "a"), filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	p := newTestProbe(t, root)
	res, err := p.ComputeUsage(context.Background())
	if err != nil {
		t.Fatalf("ComputeUsage failed: %v", err)
	}

	// The symlink target must not be counted twice.
	if res.TotalBytes != 100 {
		t.Errorf("TotalBytes = %d, want 100", res.TotalBytes)
	}
	if res.FileCount != 1 {
		t.Errorf("FileCount = %d, want 1", res.FileCount)
	}
}
