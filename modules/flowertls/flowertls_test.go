// Copyright 2025 The Flower Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package flowertls

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/sllt/flower"
	"github.com/sllt/flower/internal/testcert"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadCertificatesKeepsChainOrder(t *testing.T) {
	dir := t.TempDir()
	var bundle []byte
	var ders [][]byte
	for i := 0; i < 3; i++ {
		pair, err := testcert.New(dir, "chain.test")
		if err != nil {
			t.Fatal(err)
		}
		bundle = append(bundle, pair.CertPEM...)
		block, _ := pem.Decode(pair.CertPEM)
		ders = append(ders, block.Bytes)
	}

	path := writeFile(t, "bundle.pem", bundle)
	chain, err := LoadCertificates(path)
	if err != nil {
		t.Fatalf("LoadCertificates: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("chain has %d entries, want 3", len(chain))
	}
	for i := range chain {
		if !bytes.Equal(chain[i], ders[i]) {
			t.Errorf("chain entry %d out of file order", i)
		}
	}
}

func TestLoadCertificatesDER(t *testing.T) {
	pair, err := testcert.New(t.TempDir(), "der.test")
	if err != nil {
		t.Fatal(err)
	}
	block, _ := pem.Decode(pair.CertPEM)
	path := writeFile(t, "cert.der", block.Bytes)

	chain, err := LoadCertificates(path)
	if err != nil {
		t.Fatalf("LoadCertificates: %v", err)
	}
	if len(chain) != 1 || !bytes.Equal(chain[0], block.Bytes) {
		t.Error("der file should load as a single-entry chain")
	}
}

func TestLoadCertificatesMissingFile(t *testing.T) {
	_, err := LoadCertificates(filepath.Join(t.TempDir(), "nope.pem"))
	if !flower.IsKind(err, flower.ErrorIO) {
		t.Errorf("err = %v, want io", err)
	}
}

func TestLoadCertificatesGarbage(t *testing.T) {
	path := writeFile(t, "bad.pem", []byte("not a certificate"))
	_, err := LoadCertificates(path)
	if !flower.IsKind(err, flower.ErrorInvalidInput) {
		t.Errorf("err = %v, want invalid input", err)
	}
}

func TestLoadPrivateKeyPrefersPKCS8(t *testing.T) {
	// a file holding both key flavors: the PKCS#8 one must win
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(ecKey)
	if err != nil {
		t.Fatal(err)
	}
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	var both []byte
	both = append(both, pem.EncodeToMemory(&pem.Block{
		Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rsaKey),
	})...)
	both = append(both, pem.EncodeToMemory(&pem.Block{
		Type: "PRIVATE KEY", Bytes: pkcs8,
	})...)

	key, err := LoadPrivateKey(writeFile(t, "both.pem", both))
	if err != nil {
		t.Fatalf("LoadPrivateKey: %v", err)
	}
	got, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		t.Fatalf("loaded %T, want the pkcs#8 ecdsa key", key)
	}
	if !got.Equal(ecKey) {
		t.Error("loaded key differs from the pkcs#8 key in the file")
	}
}

func TestLoadPrivateKeyRSAFallback(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rsaKey),
	})
	key, err := LoadPrivateKey(writeFile(t, "rsa.pem", pemBytes))
	if err != nil {
		t.Fatalf("LoadPrivateKey: %v", err)
	}
	if _, ok := key.(*rsa.PrivateKey); !ok {
		t.Fatalf("loaded %T, want rsa", key)
	}
}

func TestLoadPrivateKeyDER(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(ecKey)
	if err != nil {
		t.Fatal(err)
	}
	key, err := LoadPrivateKey(writeFile(t, "key.der", der))
	if err != nil {
		t.Fatalf("LoadPrivateKey: %v", err)
	}
	if _, ok := key.(*ecdsa.PrivateKey); !ok {
		t.Fatalf("loaded %T, want ecdsa", key)
	}
}

func TestLoadPrivateKeyMalformed(t *testing.T) {
	path := writeFile(t, "junk.pem", []byte("junk"))
	_, err := LoadPrivateKey(path)
	if !flower.IsKind(err, flower.ErrorInvalidInput) {
		t.Errorf("err = %v, want invalid input", err)
	}
	if err == nil || err.Error() != "malformed key" {
		t.Errorf("message = %v, want malformed key", err)
	}
}

func TestLoadPrivateKeyMissingFile(t *testing.T) {
	_, err := LoadPrivateKey(filepath.Join(t.TempDir(), "nope.pem"))
	if !flower.IsKind(err, flower.ErrorIO) {
		t.Errorf("err = %v, want io", err)
	}
}

func TestValidServerName(t *testing.T) {
	valid := []string{"localhost", "example.com", "a-b.example.com", "xn--idn.example"}
	for _, name := range valid {
		if !validServerName(name) {
			t.Errorf("%q should be a valid server name", name)
		}
	}
	invalid := []string{"", "127.0.0.1", "::1", "bad..name", "has space.com", "-" }
	for _, name := range invalid {
		if validServerName(name) {
			t.Errorf("%q should not be a valid server name", name)
		}
	}
}
