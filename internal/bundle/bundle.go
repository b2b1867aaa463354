// Package bundle packages logs, status, and configuration into a zip archive
// for support diagnostics.
package bundle

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/tracering/tracering/internal/version"
)

// Collect creates zipName containing the state directory's logs and records
// (agent log, activity logs, status snapshot, service configuration), plus
// version and system info. Individual missing files are skipped; diagnostics
// should come back even from a half-broken installation.
func Collect(zipName, stateDir string) error {
	zipFile, err := os.Create(zipName)
	if err != nil {
		return fmt.Errorf("failed to create zip: %w", err)
	}
	defer zipFile.Close()

	zw := zip.NewWriter(zipFile)
	defer zw.Close()

	entries, err := os.ReadDir(stateDir)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if !wantInBundle(entry.Name()) {
				continue
			}
			_ = addFile(zw, filepath.Join(stateDir, entry.Name()), entry.Name())
		}
	}

	_ = addString(zw, "version.txt", version.Version+"\n")
	_ = addString(zw, "system-info.txt", systemInfo())
	return nil
}

// wantInBundle keeps the bundle to diagnostics: logs, status, configuration.
// Capture files themselves can be huge and are the user's data, not ours.
func wantInBundle(name string) bool {
	switch {
	case strings.HasSuffix(name, ".log"):
		return true
	case strings.HasSuffix(name, ".json"):
		return true
	case strings.HasSuffix(name, ".gz"): // rotated logs
		return true
	default:
		return false
	}
}

func addFile(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

func addString(zw *zip.Writer, name, content string) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, content)
	return err
}

func systemInfo() string {
	host, _ := os.Hostname()
	var b strings.Builder
	fmt.Fprintf(&b, "time: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "host: %s\n", host)
	fmt.Fprintf(&b, "os: %s\n", runtime.GOOS)
	fmt.Fprintf(&b, "arch: %s\n", runtime.GOARCH)
	fmt.Fprintf(&b, "go: %s\n", runtime.Version())
	return b.String()
}
