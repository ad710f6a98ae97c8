package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	safeDir := filepath.Join(tmpDir, "registros")
	unsafeDir := filepath.Join(tmpDir, "elsewhere")
	require.NoError(t, os.MkdirAll(safeDir, 0755))
	require.NoError(t, os.MkdirAll(unsafeDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(unsafeDir, "secret.txt"), []byte("secret"), 0644))

	symlinkPath := filepath.Join(safeDir, "evil-symlink")
	require.NoError(t, os.Symlink(unsafeDir, symlinkPath))

	tests := []struct {
		name      string
		filePath  string
		safeDir   string
		wantError bool
	}{
		{"file in directory", filepath.Join(safeDir, "Pro_09_03_2024_14_00.txt"), safeDir, false},
		{"nested new file", filepath.Join(safeDir, "sub", "Pro.txt"), safeDir, false},
		{"dot dot escape", filepath.Join(safeDir, "..", "Pro.txt"), safeDir, true},
		{"relative escape", "../../../etc/passwd", safeDir, true},
		{"absolute outside", "/etc/passwd", safeDir, true},
		{"through symlink", filepath.Join(symlinkPath, "secret.txt"), safeDir, true},
		{"new file through symlink", filepath.Join(symlinkPath, "new.txt"), safeDir, true},
		{"symlink itself", symlinkPath, safeDir, true},
		{"missing safe dir", filepath.Join(tmpDir, "nope", "a.txt"), filepath.Join(tmpDir, "nope"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.filePath, tt.safeDir)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinDirectory() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Ana Souza", "Ana_Souza"},
		{"João Araújo", "João_Araújo"},
		{"Pro 250cc", "Pro_250cc"},
		{"../../etc/passwd", "etc_passwd"},
		{"a / b \\ c", "a_b_c"},
		{"  __x__  ", "x"},
		{"KTM-85.v2", "KTM-85.v2"},
		{"", "unknown"},
		{"///", "unknown"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeFilename_Length(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}
	assert.LessOrEqual(t, len(SanitizeFilename(string(long))), maxFilenameLen+4)
}

func TestJoinSafe(t *testing.T) {
	dir := t.TempDir()

	got, err := JoinSafe(dir, "Ana Souza_Pro_09_03_2024.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Ana_Souza_Pro_09_03_2024.txt"), got)

	got, err = JoinSafe(dir, "../../outside.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "outside.pdf"), got)
}
