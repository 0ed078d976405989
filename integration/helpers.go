//go:build integration

package integration

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

// binaryPath builds the CLI once per test binary and returns its path
func binaryPath(t *testing.T) string {
	t.Helper()
	path := filepath.Join(os.TempDir(), fmt.Sprintf("orch-console-integration-%d", os.Getpid()))
	if _, err := os.Stat(path); err == nil {
		return path
	}

	t.Log("Binary not found, building...")
	cmd := exec.Command("go", "build", "-o", path, "../cmd/orch-console")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, out)
	}
	return path
}

// freeAddr returns a loopback address nothing listens on
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find a free port: %v", err)
	}
	defer l.Close()
	return l.Addr().String()
}

// startMockServer runs serve-mock with demo data and waits until it answers
func startMockServer(t *testing.T, binary string) string {
	t.Helper()
	addr := freeAddr(t)
	cmd := exec.Command(binary, "serve-mock", "--addr", addr)
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start mock server: %v", err)
	}
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	baseURL := "http://" + addr
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/api/environments")
		if err == nil {
			resp.Body.Close()
			return baseURL
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("mock server at %s did not come up", addr)
	return ""
}

// TempCachePath creates a temporary snapshot cache path for testing
func TempCachePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "snapshot.db")
}

// createTestConfig writes a config file pointing at baseURL
func createTestConfig(t *testing.T, baseURL, cachePath string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.toml")

	config := fmt.Sprintf(`[server]
base_url = %q

[sync]
enabled = true
poll_interval_ms = 1000

[cache]
enabled = true
path = %q
`, baseURL, cachePath)

	if err := os.WriteFile(configPath, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return configPath
}
