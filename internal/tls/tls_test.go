package tls

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/loykin/botvisor/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupDisabled(t *testing.T) {
	cfg, err := Setup(config.TLSConfig{})
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestSetupAutoGenerateServes(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Setup(config.TLSConfig{Enabled: true, Dir: dir, AutoGenerate: true, MinVersion: "1.3"})
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	assert.FileExists(t, filepath.Join(dir, certName))
	assert.FileExists(t, filepath.Join(dir, keyName))

	ts := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	ts.TLS = cfg
	ts.StartTLS()
	defer ts.Close()

	pemData, err := os.ReadFile(filepath.Join(dir, certName))
	require.NoError(t, err)
	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(pemData))
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool, ServerName: "localhost"}}}
	resp, err := client.Get(ts.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSetupExplicitFiles(t *testing.T) {
	dir := t.TempDir()
	req := CertRequest{CommonName: "bots.local", Hosts: []string{"bots.local"}, CertPath: filepath.Join(dir, "a.crt"), KeyPath: filepath.Join(dir, "a.key")}
	require.NoError(t, GenerateSelfSigned(req))

	cfg, err := Setup(config.TLSConfig{Enabled: true, CertFile: req.CertPath, KeyFile: req.KeyPath})
	require.NoError(t, err)
	cert, err := cfg.GetCertificate(nil)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"bots.local"}, leaf.DNSNames)
}

func TestSetupErrors(t *testing.T) {
	_, err := Setup(config.TLSConfig{Enabled: true})
	assert.Error(t, err)

	_, err = Setup(config.TLSConfig{Enabled: true, Dir: t.TempDir()})
	assert.Error(t, err, "missing pair without auto_generate")

	_, err = Setup(config.TLSConfig{Enabled: true, Dir: t.TempDir(), AutoGenerate: true, MinVersion: "1.0"})
	assert.Error(t, err)
}
