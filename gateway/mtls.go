package gateway

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
)

// loadClientTLSConfig builds the mutual-TLS configuration for talking to
// the Availability Gateway: a client certificate/key pair plus a pinned
// server certificate, per spec §4.5/§6 (certificates_path holding
// user.crt, user.key, server.crt). Grounded on the client/server
// tls.Config construction in jam-duna/jamduna/node/node.go, adapted from a
// peer-to-peer node handshake to a one-way "trust exactly this operator"
// client configuration.
func loadClientTLSConfig(certificatesPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(
		filepath.Join(certificatesPath, "user.crt"),
		filepath.Join(certificatesPath, "user.key"),
	)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}

	serverCertPEM, err := os.ReadFile(filepath.Join(certificatesPath, "server.crt"))
	if err != nil {
		return nil, fmt.Errorf("read pinned server certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(serverCertPEM) {
		return nil, fmt.Errorf("parse pinned server certificate at %s", certificatesPath)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
