package metrix

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infisical/cacore/authority"
)

func TestMeter(t *testing.T) {
	meter := New()
	require.NotNil(t, meter)
	require.NotNil(t, meter.Handler)

	var _ authority.Meter = meter

	meter.X509Signed("proxy-server", true)
	meter.X509Signed("proxy-client", false)
	meter.SSHSigned("host", true)
	meter.HierarchyBuilt("instance", true)
	meter.HierarchyBuilt("org", false)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	meter.Handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "cacore_x509_signed_total")
	assert.Contains(t, string(body), "cacore_hierarchy_built_total")
	assert.Contains(t, string(body), "cacore_uptime_seconds")
}
