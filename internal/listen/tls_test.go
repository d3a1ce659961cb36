package listen

import (
	"testing"

	"profileserver/internal/config"
)

func TestLoadServerTLSConfigFallsBackToDevCertificate(t *testing.T) {
	cfg := config.Defaults()
	tlsConf, err := loadServerTLSConfig(&cfg)
	if err != nil {
		t.Fatalf("loadServerTLSConfig: %v", err)
	}
	if len(tlsConf.Certificates) != 1 {
		t.Fatalf("expected exactly one development certificate, got %d", len(tlsConf.Certificates))
	}
}

func TestLoadServerTLSConfigRejectsMissingConfiguredFiles(t *testing.T) {
	cfg := config.Defaults()
	cfg.TLSCertFile = "/nonexistent/cert.pem"
	cfg.TLSKeyFile = "/nonexistent/key.pem"
	if _, err := loadServerTLSConfig(&cfg); err == nil {
		t.Fatalf("expected an error loading a nonexistent certificate pair")
	}
}
