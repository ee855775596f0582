// Package tlstest mints throwaway certificate chains for transport
// tests. Nothing here is safe for real deployments.
package tlstest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Authority is a single-level CA backed by an ECDSA P-256 key. Leaf
// certificates are valid for one day around the test's wall clock.
type Authority struct {
	cert   *x509.Certificate
	key    *ecdsa.PrivateKey
	caPath string
	serial int64
}

func NewAuthority(t testing.TB, dir string) *Authority {
	t.Helper()

	key := newKey(t)
	tpl := leafTemplate("policylink-test-ca", 1)
	tpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	tpl.BasicConstraintsValid = true
	tpl.IsCA = true
	tpl.MaxPathLen = 1

	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create ca cert: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse ca cert: %v", err)
	}

	caPath := filepath.Join(dir, "ca.crt")
	writePEM(t, caPath, "CERTIFICATE", der, 0o644)
	return &Authority{cert: cert, key: key, caPath: caPath, serial: 1}
}

func (a *Authority) CAFile() string { return a.caPath }

// IssueServerCert returns cert and key file paths for a server leaf
// covering the given names and addresses.
func (a *Authority) IssueServerCert(t testing.TB, dir string, dnsNames []string, ips []net.IP) (string, string) {
	t.Helper()
	tpl := a.nextLeaf("server", x509.ExtKeyUsageServerAuth)
	tpl.DNSNames = dnsNames
	tpl.IPAddresses = ips
	return a.sign(t, dir, "server", tpl)
}

// IssueClientCert returns cert and key file paths for a client leaf.
func (a *Authority) IssueClientCert(t testing.TB, dir string) (string, string) {
	t.Helper()
	return a.sign(t, dir, "client", a.nextLeaf("client", x509.ExtKeyUsageClientAuth))
}

func (a *Authority) nextLeaf(role string, usage x509.ExtKeyUsage) *x509.Certificate {
	a.serial++
	tpl := leafTemplate("policylink-test-"+role, a.serial)
	tpl.KeyUsage = x509.KeyUsageDigitalSignature
	tpl.ExtKeyUsage = []x509.ExtKeyUsage{usage}
	return tpl
}

func (a *Authority) sign(t testing.TB, dir, role string, tpl *x509.Certificate) (string, string) {
	t.Helper()

	key := newKey(t)
	der, err := x509.CreateCertificate(rand.Reader, tpl, a.cert, &key.PublicKey, a.key)
	if err != nil {
		t.Fatalf("create %s cert: %v", role, err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal %s key: %v", role, err)
	}

	certPath := filepath.Join(dir, role+".crt")
	keyPath := filepath.Join(dir, role+".key")
	writePEM(t, certPath, "CERTIFICATE", der, 0o644)
	writePEM(t, keyPath, "EC PRIVATE KEY", keyDER, 0o600)
	return certPath, keyPath
}

func leafTemplate(cn string, serial int64) *x509.Certificate {
	now := time.Now()
	return &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(23 * time.Hour),
	}
}

func newKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func writePEM(t testing.TB, path, blockType string, der []byte, perm os.FileMode) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, perm); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
