package crashhook

import (
	"bytes"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdb/engram/internal/logger"
	"github.com/engramdb/engram/pkg/metrics"
)

// TestCrashHook drives a panic through the full chain: Recover captures it,
// the diagnostics pass logs and counts it exactly once (even after a double
// Install), and the previously installed handler sees it exactly once.
func TestCrashHook(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(&buf, "ERROR", "json")

	// Replace the terminal handler so the test survives the re-raise and can
	// observe what reached it.
	var seen []*PanicInfo
	mu.Lock()
	handler = func(info *PanicInfo) { seen = append(seen, info) }
	mu.Unlock()

	Install()
	Install() // must not stack a second diagnostics pass

	before := testutil.ToFloat64(metrics.PanicTotal)

	func() {
		defer Recover()
		panic("boom")
	}()

	require.Len(t, seen, 1, "previous handler must run exactly once per event")
	info := seen[0]
	assert.Equal(t, "boom", info.Value)
	assert.NotEmpty(t, info.Stack)
	assert.True(t, strings.HasSuffix(info.File, "crashhook_test.go"),
		"panic origin should resolve to the test file, got %q", info.File)
	assert.Greater(t, info.Line, 0)

	// Counter incremented once: a doubled chain would increment twice.
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.PanicTotal))

	out := buf.String()
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "panic.file")
	assert.Contains(t, out, "panic.line")
}

func TestHandleNil(t *testing.T) {
	// A nil recover value means no panic was pending.
	before := testutil.ToFloat64(metrics.PanicTotal)
	Handle(nil)
	assert.Equal(t, before, testutil.ToFloat64(metrics.PanicTotal))
}
