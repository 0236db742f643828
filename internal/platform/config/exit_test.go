package config_test

import (
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/louisbranch/brigade/internal/platform/config"
)

// Exitf calls os.Exit, so the assertion runs in a subprocess.
func TestExitfExitsWithCode1(t *testing.T) {
	if os.Getenv("BRIGADE_EXITF_SUBPROCESS") == "1" {
		config.Exitf("maintenance: %s", "open events db")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestExitfExitsWithCode1$")
	cmd.Env = append(os.Environ(), "BRIGADE_EXITF_SUBPROCESS=1")

	out, err := cmd.CombinedOutput()

	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		t.Fatalf("expected *exec.ExitError, got %T: %v", err, err)
	}
	if exitErr.ExitCode() != 1 {
		t.Fatalf("expected exit code 1, got %d", exitErr.ExitCode())
	}
	if !strings.Contains(string(out), "maintenance: open events db") {
		t.Fatalf("stderr = %q, want maintenance message", string(out))
	}
}
