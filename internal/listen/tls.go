package listen

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"time"

	"github.com/pkg/errors"

	"profileserver/internal/config"
)

// loadServerTLSConfig loads the configured certificate and key, or,
// if neither is set, falls back to a self-signed development
// certificate generated fresh with an ed25519 key for the process
// lifetime. Production deployments are expected to set
// TLSCertFile/TLSKeyFile.
func loadServerTLSConfig(cfg *config.Config) (*tls.Config, error) {
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "listen: load configured TLS certificate")
		}
		return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
	}

	cert, err := devCertificate()
	if err != nil {
		return nil, errors.Wrap(err, "listen: generate development TLS certificate")
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

func devCertificate() (tls.Certificate, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "profileserver-dev"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, pub, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
