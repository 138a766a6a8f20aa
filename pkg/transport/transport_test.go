package transport_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/quietpixel/sockclient/pkg/transport"
)

func listenTCP(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln
}

func splitHostPort(t *testing.T, addr string) (string, uint16) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return host, uint16(port)
}

func TestSendReceiveRoundTrip(t *testing.T) {
	ln := listenTCP(t)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		n, _ := conn.Read(buf)
		conn.Write(buf[:n])
	}()

	host, port := splitHostPort(t, ln.Addr().String())
	c := transport.New(host, port, transport.WithTimeout(2*time.Second))

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	if !c.Connected() {
		t.Fatal("Connected() = false after successful Connect")
	}

	if _, err := c.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, err := c.Receive(5)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("Receive = %q, want %q", got, "hello")
	}
}

func TestPollFalseFalseReturnsFalse(t *testing.T) {
	ln := listenTCP(t)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		select {}
	}()

	host, port := splitHostPort(t, ln.Addr().String())
	c := transport.New(host, port, transport.WithTimeout(2*time.Second))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	if c.Poll(false, false) {
		t.Fatal("Poll(false, false) = true, want false")
	}
}

func TestReceiveZeroObservesPeerClose(t *testing.T) {
	ln := listenTCP(t)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}()

	host, port := splitHostPort(t, ln.Addr().String())
	c := transport.New(host, port, transport.WithTimeout(2*time.Second))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	deadline := time.Now().Add(2 * time.Second)
	for c.Connected() && time.Now().Before(deadline) {
		if _, err := c.Receive(0); err != nil {
			t.Fatalf("Receive(0): %v", err)
		}
	}

	if c.Connected() {
		t.Fatal("Connected() = true after peer closed, want false")
	}
}

func TestConnectUDPWithTLSIsRejected(t *testing.T) {
	c := transport.New("127.0.0.1", 9, transport.WithUDP(true), transport.WithTLS(true))
	err := c.Connect(context.Background())
	if err == nil {
		t.Fatal("Connect with UDP+TLS succeeded, want ErrDTLSUnsupported")
	}
}

func selfSignedCert(t *testing.T, hosts ...string) tls.Certificate {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: hosts[0]},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func TestConnectTLSVerification(t *testing.T) {
	cert := selfSignedCert(t, "example.invalid")

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			// Run the server side of the handshake so the client's
			// outcome depends only on its own verification setting.
			_ = conn.(*tls.Conn).Handshake()
			conn.Close()
		}
	}()

	host, port := splitHostPort(t, ln.Addr().String())

	t.Run("verification rejects hostname mismatch", func(t *testing.T) {
		c := transport.New(host, port, transport.WithTLS(true), transport.WithTimeout(2*time.Second))
		if err := c.Connect(context.Background()); err == nil {
			t.Fatal("Connect succeeded against a certificate for a different host, want error")
		}
	})

	t.Run("disabling verification accepts the mismatch", func(t *testing.T) {
		c := transport.New(host, port,
			transport.WithTLS(true),
			transport.WithVerifyCertificates(false),
			transport.WithTimeout(2*time.Second),
		)
		if err := c.Connect(context.Background()); err != nil {
			t.Fatalf("Connect: %v", err)
		}
		defer c.Close()
		if !c.Connected() {
			t.Fatal("Connected() = false after successful Connect")
		}
	})
}
