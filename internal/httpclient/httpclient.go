// Package httpclient builds the single shared HTTP client every backend
// adapter and the broker client use (spec.md §4.4: "shared client with
// TCP-nodelay, a pinned user-agent string, trust-store certificates loaded
// once at startup from a directory of PEM files, and standard
// proxy-environment handling").
package httpclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const userAgent = "focus-go/1.0"

// userAgentTransport pins the User-Agent header on every outbound request;
// http.Transport has no such field of its own.
type userAgentTransport struct {
	base http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", userAgent)
	return t.base.RoundTrip(req)
}

// New builds the shared client. tlsCACertificatesDir is optional; when set,
// every ".pem"/".crt" file in it is loaded into the trust store in addition
// to the system roots.
func New(tlsCACertificatesDir string) (*http.Client, error) {
	pool, err := systemPoolWithExtras(tlsCACertificatesDir)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment, // honors HTTP_PROXY/HTTPS_PROXY/ALL_PROXY/NO_PROXY
		DialContext:         dialWithNoDelay(dialer),
		TLSClientConfig:     &tls.Config{RootCAs: pool},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &http.Client{
		Transport: &userAgentTransport{base: transport},
		Timeout:   60 * time.Second,
	}, nil
}

// dialWithNoDelay wraps a net.Dialer to disable Nagle's algorithm on every
// connection it opens, matching spec.md §4.4's "TCP-nodelay".
func dialWithNoDelay(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
		}
		return conn, nil
	}
}

func systemPoolWithExtras(dir string) (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if dir == "" {
		return pool, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("httpclient: reading tls-ca-certificates-dir %q: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".pem" && ext != ".crt" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("httpclient: reading %s: %w", entry.Name(), err)
		}
		if !pool.AppendCertsFromPEM(raw) {
			return nil, fmt.Errorf("httpclient: %s contains no valid PEM certificate", entry.Name())
		}
	}
	return pool, nil
}
