package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewPolicyHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "attendance.yml")
	content := []byte(`attendance:
  defaultTimezone: America/Los_Angeles
  defaultMaxShiftHours: 10
  missingBreakThreshold: 6h
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	holder, err := NewPolicyHolder(Config{PolicyPath: path}, zap.NewNop())
	require.NoError(t, err)

	p := holder.Get()
	assert.Equal(t, "America/Los_Angeles", p.DefaultTimezone)
	assert.Equal(t, 10, p.DefaultMaxShiftHours)
	assert.Equal(t, 6*time.Hour, p.MissingBreakThreshold)
	assert.Equal(t, 12*time.Hour, p.ExcessiveHoursThreshold)
}

func TestValidateAttendancePolicy(t *testing.T) {
	p := DefaultAttendancePolicy()
	assert.NoError(t, ValidateAttendancePolicy(p))

	p.DefaultMaxShiftHours = 30
	assert.Error(t, ValidateAttendancePolicy(p))

	p = DefaultAttendancePolicy()
	p.DefaultTimezone = "Mars/Olympus"
	assert.Error(t, ValidateAttendancePolicy(p))
}
