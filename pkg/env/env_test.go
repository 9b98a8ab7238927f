package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecret_PrefersSecretFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "media_api_secret")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))

	t.Setenv("MEDIA_API_SECRET", "from-env")
	t.Setenv("MEDIA_API_SECRET_FILE", path)

	assert.Equal(t, "from-file", Secret("MEDIA_API_SECRET", "fallback"))
}

func TestSecret_FallsBack(t *testing.T) {
	t.Setenv("MEDIA_API_SECRET_FILE", "/does/not/exist")
	t.Setenv("MEDIA_API_SECRET", "from-env")
	assert.Equal(t, "from-env", Secret("MEDIA_API_SECRET", "fallback"))

	t.Setenv("MEDIA_API_SECRET", "")
	assert.Equal(t, "fallback", Secret("MEDIA_API_SECRET", "fallback"))
}
