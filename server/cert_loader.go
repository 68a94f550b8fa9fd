package server

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultCertCheckInterval is how often the key pair's modification times
// are checked.
const DefaultCertCheckInterval = time.Minute

// CertLoader serves a TLS key pair from disk and re-reads it after the
// files change, so renewed certificates are picked up without a restart.
type CertLoader struct {
	certFile string
	keyFile  string
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu        sync.RWMutex
	cert      *tls.Certificate
	loadedAt  time.Time
	lastCheck time.Time
}

// NewCertLoader loads the key pair and returns a CertLoader for it.
func NewCertLoader(certFile, keyFile string, logger *slog.Logger) (*CertLoader, error) {
	l := &CertLoader{
		certFile: certFile,
		keyFile:  keyFile,
		interval: DefaultCertCheckInterval,
		now:      time.Now,
		logger:   logger.With("component", "tls"),
	}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

// GetCertificate is a callback for tls.Config.GetCertificate. Reload errors
// are logged and the previous certificate keeps being served.
func (l *CertLoader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	l.mu.RLock()
	fresh := l.now().Sub(l.lastCheck) < l.interval
	cert := l.cert
	l.mu.RUnlock()
	if fresh {
		return cert, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.now().Sub(l.lastCheck) < l.interval {
		return l.cert, nil
	}
	l.lastCheck = l.now()

	changed, err := l.changedSince(l.loadedAt)
	if err != nil {
		l.logger.Error("failed to stat key pair", "error", err)
		return l.cert, nil
	}
	if changed {
		if err := l.loadLocked(); err != nil {
			l.logger.Error("failed to reload certificate", "error", err)
		}
	}
	return l.cert, nil
}

func (l *CertLoader) changedSince(t time.Time) (bool, error) {
	for _, path := range []string{l.certFile, l.keyFile} {
		info, err := os.Stat(path)
		if err != nil {
			return false, err
		}
		if info.ModTime().After(t) {
			return true, nil
		}
	}
	return false, nil
}

func (l *CertLoader) load() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadLocked()
}

func (l *CertLoader) loadLocked() error {
	cert, err := tls.LoadX509KeyPair(l.certFile, l.keyFile)
	if err != nil {
		return fmt.Errorf("failed to load key pair: %w", err)
	}
	l.cert = &cert
	l.loadedAt = l.now()
	l.lastCheck = l.loadedAt
	l.logger.Info("loaded tls certificate", "cert", l.certFile, "key", l.keyFile)
	return nil
}
