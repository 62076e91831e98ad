package runtime

import (
	"context"
	"crypto/x509"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	appconfig "github.com/saker-ai/i2v-steer/internal/config"
)

func TestServeAndShutdown(t *testing.T) {
	cfg := appconfig.Config{
		Backend: appconfig.BackendConfig{BaseURL: "http://127.0.0.1:1"},
		Pipelines: appconfig.PipelinesConfig{
			Default: "wan_1.3B",
			Catalog: []appconfig.PipelineInfo{{ID: "wan_1.3B", Name: "wan_1.3B"}},
		},
		Journal: appconfig.JournalConfig{Enabled: true, Dir: t.TempDir()},
	}
	srv, err := New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	res, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("/health status=%d body=%s, want 200", res.StatusCode, body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve error=%v, want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestGenerateSelfSignedCert(t *testing.T) {
	cert, err := generateSelfSignedCert("steer.local")
	if err != nil {
		t.Fatalf("generateSelfSignedCert error: %v", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("parse cert: %v", err)
	}
	if err := leaf.VerifyHostname("steer.local"); err != nil {
		t.Fatalf("VerifyHostname(steer.local) error: %v", err)
	}
	if err := leaf.VerifyHostname("127.0.0.1"); err != nil {
		t.Fatalf("VerifyHostname(127.0.0.1) error: %v", err)
	}
}
