package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/roster/logging"
)

// writeKeyPair writes a self-signed certificate for commonName.
func writeKeyPair(t *testing.T, dir, commonName string) (string, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certFile := filepath.Join(dir, "tls.crt")
	keyFile := filepath.Join(dir, "tls.key")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certFile, keyFile
}

func commonName(t *testing.T, l *CertLoader) string {
	t.Helper()
	cert, err := l.GetCertificate(nil)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	return leaf.Subject.CommonName
}

func TestCertLoader(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeKeyPair(t, dir, "first")

	l, err := NewCertLoader(certFile, keyFile, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, "first", commonName(t, l))

	clock := time.Now()
	l.now = func() time.Time { return clock }

	// Make the new pair's mtime unambiguously newer than the first load.
	writeKeyPair(t, dir, "second")
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(certFile, future, future))

	assert.Equal(t, "first", commonName(t, l), "not re-checked within the interval")

	clock = clock.Add(2 * DefaultCertCheckInterval)
	assert.Equal(t, "second", commonName(t, l))

	require.NoError(t, os.WriteFile(certFile, []byte("garbage"), 0o600))
	future = future.Add(time.Hour)
	require.NoError(t, os.Chtimes(certFile, future, future))
	clock = clock.Add(2 * DefaultCertCheckInterval)
	assert.Equal(t, "second", commonName(t, l), "a broken pair keeps the previous certificate")
}

func TestNewCertLoader_MissingFiles(t *testing.T) {
	_, err := NewCertLoader("/nonexistent/tls.crt", "/nonexistent/tls.key", logging.Discard())
	assert.Error(t, err)
}
