// Package tls builds the HTTPS configuration of the API server.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/botvisor/internal/config"
)

const (
	certName = "tls.crt"
	keyName  = "tls.key"
)

// parseVersion maps "1.2"/"1.3" (and the TLS-prefixed spellings) to the
// crypto/tls constant.
func parseVersion(v string) (uint16, error) {
	switch v {
	case "", "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, nil
	case "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q", v)
	}
}

// Setup returns nil when TLS is disabled. Certificates are re-read on every
// handshake so a rotated pair is picked up without a restart.
func Setup(c config.TLSConfig) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	minVer, err := parseVersion(c.MinVersion)
	if err != nil {
		return nil, err
	}
	certPath, keyPath := c.CertFile, c.KeyFile
	if certPath == "" || keyPath == "" {
		if c.Dir == "" {
			return nil, errors.New("TLS enabled but no certificate configured")
		}
		certPath = filepath.Join(c.Dir, certName)
		keyPath = filepath.Join(c.Dir, keyName)
		if c.AutoGenerate && !exists(certPath, keyPath) {
			hosts := c.DNSNames
			if len(hosts) == 0 {
				hosts = []string{"localhost", "127.0.0.1"}
			}
			err := GenerateSelfSigned(CertRequest{
				CommonName: hosts[0],
				Hosts:      hosts,
				ValidFor:   5 * 365 * 24 * time.Hour,
				CertPath:   certPath,
				KeyPath:    keyPath,
			})
			if err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	}
	// fail at startup rather than on the first handshake
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	return &tls.Config{
		MinVersion: minVer,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			cert, err := tls.LoadX509KeyPair(certPath, keyPath)
			if err != nil {
				return nil, err
			}
			return &cert, nil
		},
	}, nil
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
