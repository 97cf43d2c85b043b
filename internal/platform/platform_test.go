package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestDetectReturnsKnownPlatform(t *testing.T) {
	p := Detect()
	switch p {
	case PlatformMacOS, PlatformLinux, PlatformWSL, PlatformWindows, PlatformUnknown:
	default:
		t.Errorf("unexpected platform %q", p)
	}
	if Detect() != p {
		t.Error("detection result must be cached")
	}
	if p.String() == "" {
		t.Error("empty display name")
	}
}

func TestMoveToTrash(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("trash layout only defined for linux and darwin here")
	}

	// Point the XDG trash at a temp dir so the test does not touch the real
	// one. Only effective on Linux; darwin uses ~/.Trash.
	if runtime.GOOS == "linux" {
		t.Setenv("XDG_DATA_HOME", t.TempDir())
	}

	dir := filepath.Join(t.TempDir(), "doomed")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := MoveToTrash(dir); err != nil {
		// Cross-filesystem renames legitimately fail; the archive manager
		// falls back to a hard delete in that case.
		t.Skipf("trash move unavailable: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("original path should be gone after trashing")
	}
}
