// Package tlsutil serves the admin listener's certificate and swaps it for a
// fresh copy from disk on config reload or when the files change, so
// certificates rotate without dropping the listener.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// CertLoader holds the current certificate for tls.Config.GetCertificate.
type CertLoader struct {
	mu       sync.RWMutex
	cert     *tls.Certificate
	certFile string
	keyFile  string
	logger   *slog.Logger

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
	debounce time.Duration
}

// New loads the initial certificate. Returns an error if it cannot be loaded.
func New(certFile, keyFile string, logger *slog.Logger) (*CertLoader, error) {
	cl := &CertLoader{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   logger,
		stopCh:   make(chan struct{}),
		debounce: 300 * time.Millisecond,
	}

	if err := cl.load(certFile, keyFile); err != nil {
		return nil, fmt.Errorf("initial certificate load: %w", err)
	}
	return cl, nil
}

// TLSConfig returns a server config that asks the loader for the certificate
// on every handshake. minVersion is "1.2" or "1.3".
func (cl *CertLoader) TLSConfig(minVersion string) *tls.Config {
	v := uint16(tls.VersionTLS12)
	if minVersion == "1.3" {
		v = tls.VersionTLS13
	}
	return &tls.Config{
		MinVersion:     v,
		GetCertificate: cl.GetCertificate,
	}
}

// GetCertificate returns the current certificate.
func (cl *CertLoader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.cert, nil
}

// Reload re-reads the current cert/key pair. On failure the previous
// certificate stays in use.
func (cl *CertLoader) Reload() error {
	cl.mu.RLock()
	certFile, keyFile := cl.certFile, cl.keyFile
	cl.mu.RUnlock()
	return cl.SetFiles(certFile, keyFile)
}

// SetFiles loads a pair from new paths and, on success, makes them the ones
// Reload reads. An active watcher is not moved to the new paths.
func (cl *CertLoader) SetFiles(certFile, keyFile string) error {
	if err := cl.load(certFile, keyFile); err != nil {
		cl.logger.Error("TLS certificate reload failed, keeping current",
			"error", err, "cert_file", certFile, "key_file", keyFile)
		return err
	}
	return nil
}

// Watch starts reloading whenever the cert or key file is written.
func (cl *CertLoader) Watch() error {
	cl.mu.RLock()
	certFile, keyFile := cl.certFile, cl.keyFile
	cl.mu.RUnlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	for _, f := range []string{certFile, keyFile} {
		if err := watcher.Add(f); err != nil {
			watcher.Close()
			return fmt.Errorf("watching %s: %w", f, err)
		}
	}
	cl.watcher = watcher
	go cl.watchLoop()
	return nil
}

// Stop terminates the file watcher. Safe to call more than once.
func (cl *CertLoader) Stop() {
	cl.stopOnce.Do(func() {
		close(cl.stopCh)
		if cl.watcher != nil {
			cl.watcher.Close()
		}
	})
}

func (cl *CertLoader) load(certFile, keyFile string) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return err
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return fmt.Errorf("parsing certificate: %w", err)
	}
	cert.Leaf = leaf

	cl.mu.Lock()
	cl.cert = &cert
	cl.certFile = certFile
	cl.keyFile = keyFile
	cl.mu.Unlock()

	cl.logger.Info("TLS certificate loaded",
		"cert_file", certFile,
		"subject", leaf.Subject.String(),
		"not_after", leaf.NotAfter,
	)
	if time.Until(leaf.NotAfter) < 7*24*time.Hour {
		cl.logger.Warn("TLS certificate expires soon", "cert_file", certFile, "not_after", leaf.NotAfter)
	}
	return nil
}

func (cl *CertLoader) watchLoop() {
	var debounce *time.Timer

	for {
		select {
		case event, ok := <-cl.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(cl.debounce, func() {
					cl.Reload() //nolint:errcheck
				})
			}
		case err, ok := <-cl.watcher.Errors:
			if !ok {
				return
			}
			cl.logger.Error("TLS cert file watcher error", "error", err)
		case <-cl.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}
