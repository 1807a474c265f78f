package tlsutil

import (
	"crypto/tls"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTLSConfig(t *testing.T) {
	cfg := DefaultTLSConfig()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.ElementsMatch(t, aeadSuites, cfg.CipherSuites)

	// callers may mutate their copy without touching the shared list
	cfg.CipherSuites[0] = 0
	assert.NotEqual(t, uint16(0), aeadSuites[0])
}

func TestRedisTLSConfig(t *testing.T) {
	assert.Equal(t, "cache.internal", RedisTLSConfig("cache.internal:6380").ServerName)
	assert.Empty(t, RedisTLSConfig("no-port").ServerName)
}

func TestSecureHTTPClient(t *testing.T) {
	client := SecureHTTPClient(15 * time.Second)
	assert.Equal(t, 15*time.Second, client.Timeout)

	tr, ok := client.Transport.(interface{ Clone() *http.Transport })
	require.True(t, ok)
	clone := tr.Clone()
	require.NotNil(t, clone.TLSClientConfig)
	assert.True(t, clone.ForceAttemptHTTP2)
	assert.Equal(t, 20, clone.MaxIdleConnsPerHost)
}
