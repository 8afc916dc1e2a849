package security

import (
	"testing"
	"time"
)

// --- SSRF防止のテスト ---

func TestValidateURL_AllowsPublicHTTPS(t *testing.T) {
	g := NewSSRFGuard()
	if err := g.ValidateURL("https://hooks.example.com/notify"); err != nil {
		t.Errorf("公開HTTPSのWebhook URLが拒否された: %v", err)
	}
}

func TestValidateURL_RejectsEmptyURL(t *testing.T) {
	g := NewSSRFGuard()
	if err := g.ValidateURL(""); err == nil {
		t.Error("空URLは拒否されるべき")
	}
}

func TestValidateURL_RejectsNonHTTPScheme(t *testing.T) {
	g := NewSSRFGuard()
	for _, raw := range []string{
		"file:///etc/passwd",
		"ftp://example.com/",
		"gopher://example.com/",
	} {
		if err := g.ValidateURL(raw); err == nil {
			t.Errorf("%s は拒否されるべき", raw)
		}
	}
}

func TestValidateURL_RejectsPrivateIPs(t *testing.T) {
	g := NewSSRFGuard()
	for _, raw := range []string{
		"http://10.0.0.1/hook",
		"http://172.16.0.1/hook",
		"http://192.168.1.1/hook",
		"http://127.0.0.1/hook",
		"http://0.0.0.0/hook",
	} {
		if err := g.ValidateURL(raw); err == nil {
			t.Errorf("プライベートIP %s は拒否されるべき", raw)
		}
	}
}

func TestValidateURL_RejectsCloudMetadataIP(t *testing.T) {
	g := NewSSRFGuard()
	if err := g.ValidateURL("http://169.254.169.254/latest/meta-data/"); err == nil {
		t.Error("クラウドメタデータIPは拒否されるべき")
	}
}

func TestValidateURL_RejectsLocalhost(t *testing.T) {
	g := NewSSRFGuard()
	if err := g.ValidateURL("http://localhost:8080/hook"); err == nil {
		t.Error("localhostは拒否されるべき")
	}
}

func TestValidateURL_RejectsIPv6Loopback(t *testing.T) {
	g := NewSSRFGuard()
	if err := g.ValidateURL("http://[::1]/hook"); err == nil {
		t.Error("IPv6ループバックは拒否されるべき")
	}
}

func TestNewSafeClient_ReturnsClient(t *testing.T) {
	g := NewSSRFGuard()
	client := g.NewSafeClient(10 * time.Second)
	if client == nil {
		t.Fatal("NewSafeClientがnilを返した")
	}
}
