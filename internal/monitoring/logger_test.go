package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureLogs(t *testing.T) *[]string {
	t.Helper()
	original := Logf
	t.Cleanup(func() { Logf = original })

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func TestSetLogger(t *testing.T) {
	lines := captureLogs(t)

	Logf("windows=%d", 10)
	assert.Equal(t, []string{"windows=10"}, *lines)

	// nil installs a no-op logger
	SetLogger(nil)
	Logf("dropped")
	assert.Len(t, *lines, 1)
}

func TestStagef(t *testing.T) {
	lines := captureLogs(t)

	Stagef("prepare", "category %s: %d runs", "LOCA", 3)
	Stagef("train", "done")

	assert.Equal(t, []string{"[prepare] category LOCA: 3 runs", "[train] done"}, *lines)
}

func TestLogf_Default(t *testing.T) {
	assert.NotNil(t, Logf)
	assert.NotPanics(t, func() { Logf("test message: %s", "value") })
}
