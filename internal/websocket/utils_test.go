package websocket

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckOrigin_DevelopmentAllowsAnything(t *testing.T) {
	os.Unsetenv("ENVIRONMENT") //nolint:errcheck // test cleanup

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://evil.example.com")

	assert.True(t, CheckOrigin(req))
}

func TestCheckOrigin_ProductionRejectsUnlisted(t *testing.T) {
	os.Setenv("ENVIRONMENT", "production") //nolint:errcheck // test fixture
	os.Setenv("ALLOWED_ORIGINS", "https://app.example.com")
	defer os.Unsetenv("ENVIRONMENT")   //nolint:errcheck // test cleanup
	defer os.Unsetenv("ALLOWED_ORIGINS") //nolint:errcheck // test cleanup

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://evil.example.com")

	assert.False(t, CheckOrigin(req))
}

func TestCheckOrigin_ProductionAllowsListed(t *testing.T) {
	os.Setenv("ENVIRONMENT", "production") //nolint:errcheck // test fixture
	os.Setenv("ALLOWED_ORIGINS", "https://app.example.com, https://staging.example.com")
	defer os.Unsetenv("ENVIRONMENT")   //nolint:errcheck // test cleanup
	defer os.Unsetenv("ALLOWED_ORIGINS") //nolint:errcheck // test cleanup

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://staging.example.com")

	assert.True(t, CheckOrigin(req))
}

func TestGenerateConnID_ReturnsDistinctHexStrings(t *testing.T) {
	a, err := GenerateConnID()
	require.NoError(t, err)
	b, err := GenerateConnID()
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
