// Package platform detects the host environment and locates the user trash
// directory, so archive deletion can prefer a recoverable move over a hard
// delete.
package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Platform represents the detected platform
type Platform string

const (
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformWSL     Platform = "wsl"
	PlatformWindows Platform = "windows"
	PlatformUnknown Platform = "unknown"
)

// cached detection result
var detectedPlatform Platform
var detectionDone bool

// Detect returns the current platform, caching the result
func Detect() Platform {
	if detectionDone {
		return detectedPlatform
	}

	detectedPlatform = detectPlatform()
	detectionDone = true
	return detectedPlatform
}

func detectPlatform() Platform {
	switch runtime.GOOS {
	case "darwin":
		return PlatformMacOS
	case "windows":
		return PlatformWindows
	case "linux":
		if isWSL() {
			return PlatformWSL
		}
		return PlatformLinux
	default:
		return PlatformUnknown
	}
}

// isWSL checks the environment and /proc/version for WSL signatures.
func isWSL() bool {
	if os.Getenv("WSL_DISTRO_NAME") != "" {
		return true
	}
	procVersion, err := os.ReadFile("/proc/version")
	if err != nil {
		return false
	}
	versionStr := string(procVersion)
	return strings.Contains(versionStr, "microsoft") || strings.Contains(versionStr, "Microsoft")
}

// TrashDir returns the user's trash directory for the current platform, or
// "" when the platform has no usable trash location.
func TrashDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	switch Detect() {
	case PlatformMacOS:
		return filepath.Join(home, ".Trash")
	case PlatformLinux, PlatformWSL:
		dataHome := os.Getenv("XDG_DATA_HOME")
		if dataHome == "" {
			dataHome = filepath.Join(home, ".local", "share")
		}
		return filepath.Join(dataHome, "Trash", "files")
	default:
		return ""
	}
}

// MoveToTrash moves a file or directory into the platform trash under a
// unique name. Returns an error when no trash location exists or the move
// fails; callers fall back to a hard delete.
func MoveToTrash(path string) error {
	trash := TrashDir()
	if trash == "" {
		return fmt.Errorf("platform: no trash directory on %s", Detect())
	}
	if err := os.MkdirAll(trash, 0700); err != nil {
		return fmt.Errorf("platform: create trash: %w", err)
	}

	base := filepath.Base(path)
	target := filepath.Join(trash, base)
	if _, err := os.Stat(target); err == nil {
		target = filepath.Join(trash, fmt.Sprintf("%s-%d", base, time.Now().UnixNano()))
	}

	if err := os.Rename(path, target); err != nil {
		// Rename fails across filesystems; the caller's hard-delete fallback
		// covers that case.
		return fmt.Errorf("platform: move to trash: %w", err)
	}
	return nil
}

// String returns a human-readable platform name
func (p Platform) String() string {
	switch p {
	case PlatformMacOS:
		return "macOS"
	case PlatformLinux:
		return "Linux"
	case PlatformWSL:
		return "WSL"
	case PlatformWindows:
		return "Windows"
	default:
		return "Unknown"
	}
}
