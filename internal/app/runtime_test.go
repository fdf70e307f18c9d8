package app

import (
	"os"
	"testing"

	_ "github.com/meridian-pos/meridian-pos/internal/testing/guard"
)

func TestInTestModeReflectsEnv(t *testing.T) {
	t.Setenv("MERIDIAN_TEST_MODE", "1")
	RefreshTestMode()
	if !InTestMode() {
		t.Fatal("expected test mode to be enabled")
	}

	t.Setenv("MERIDIAN_TEST_MODE", "")
	RefreshTestMode()
	if InTestMode() {
		t.Fatal("expected test mode to be disabled")
	}

	// Restore for the rest of the suite.
	_ = os.Setenv("MERIDIAN_TEST_MODE", "1")
	RefreshTestMode()
}
