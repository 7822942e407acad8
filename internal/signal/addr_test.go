package signal_test

import (
	"testing"

	"duocall/internal/signal"
)

func TestNormalizeAddrPlainHostname(t *testing.T) {
	addr, err := signal.NormalizeAddr("myserver")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != "myserver:8443" {
		t.Errorf("expected 'myserver:8443', got %q", addr)
	}
}

func TestNormalizeAddrWithPort(t *testing.T) {
	addr, err := signal.NormalizeAddr("myserver:5000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != "myserver:5000" {
		t.Errorf("expected 'myserver:5000', got %q", addr)
	}
}

func TestNormalizeAddrWssPrefix(t *testing.T) {
	addr, err := signal.NormalizeAddr("wss://example.com:8443")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != "example.com:8443" {
		t.Errorf("expected 'example.com:8443', got %q", addr)
	}
}

func TestNormalizeAddrHttpsPrefixNoPort(t *testing.T) {
	addr, err := signal.NormalizeAddr("https://example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != "example.com:8443" {
		t.Errorf("expected 'example.com:8443', got %q", addr)
	}
}

func TestNormalizeAddrEmpty(t *testing.T) {
	_, err := signal.NormalizeAddr("")
	if err == nil {
		t.Error("expected error for empty address")
	}
}

func TestNormalizeAddrWhitespaceOnly(t *testing.T) {
	_, err := signal.NormalizeAddr("   ")
	if err == nil {
		t.Error("expected error for whitespace-only address")
	}
}

func TestNormalizeAddrLeadingTrailingWhitespace(t *testing.T) {
	addr, err := signal.NormalizeAddr("  myhost:8443  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != "myhost:8443" {
		t.Errorf("expected 'myhost:8443', got %q", addr)
	}
}

func TestNormalizeAddrIPv4(t *testing.T) {
	addr, err := signal.NormalizeAddr("10.0.0.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != "10.0.0.1:8443" {
		t.Errorf("expected '10.0.0.1:8443', got %q", addr)
	}
}

func TestNormalizeAddrIPv6Bracketed(t *testing.T) {
	addr, err := signal.NormalizeAddr("[::1]:8443")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != "[::1]:8443" {
		t.Errorf("expected '[::1]:8443', got %q", addr)
	}
}

func TestNormalizeAddrIPv6Raw(t *testing.T) {
	addr, err := signal.NormalizeAddr("::1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != "[::1]:8443" {
		t.Errorf("expected '[::1]:8443', got %q", addr)
	}
}

func TestNormalizeAddrTrailingPath(t *testing.T) {
	addr, err := signal.NormalizeAddr("myserver:8443/ws")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != "myserver:8443" {
		t.Errorf("expected 'myserver:8443', got %q", addr)
	}
}

func TestNormalizeAddrInvalidPort(t *testing.T) {
	_, err := signal.NormalizeAddr("myserver:0")
	if err == nil {
		t.Error("expected error for port 0")
	}
}

func TestNormalizeAddrPortTooHigh(t *testing.T) {
	_, err := signal.NormalizeAddr("myserver:99999")
	if err == nil {
		t.Error("expected error for port > 65535")
	}
}

func TestNormalizeAddrNonNumericPort(t *testing.T) {
	_, err := signal.NormalizeAddr("myserver:abc")
	if err == nil {
		t.Error("expected error for non-numeric port")
	}
}

func TestNormalizeAddrDefaultPort(t *testing.T) {
	if signal.DefaultPort != "8443" {
		t.Errorf("expected default port '8443', got %q", signal.DefaultPort)
	}
}
