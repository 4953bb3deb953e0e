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

// Package flowertls wraps plain streams into authenticated TLS streams
// on both the accept and the connect side, loading certificate chains
// and private keys from PEM or DER files.
package flowertls

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/sllt/flower"
	"go.uber.org/zap"
)

const (
	pemTypeCertificate = "CERTIFICATE"
	pemTypePKCS8Key    = "PRIVATE KEY"
	pemTypePKCS1Key    = "RSA PRIVATE KEY"
)

// LoadCertificates reads the certificate chain at path, leaf first. A
// ".der" file is a single DER certificate; anything else is parsed as
// PEM and every CERTIFICATE block is kept, in file order.
func LoadCertificates(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, flower.Err(flower.ErrorIO, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".der") {
		return [][]byte{data}, nil
	}
	var chain [][]byte
	for rest := data; len(rest) > 0; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == pemTypeCertificate {
			chain = append(chain, block.Bytes)
		}
	}
	if len(chain) == 0 {
		return nil, flower.Errf(flower.ErrorInvalidInput, "no certificates in %s", path)
	}
	return chain, nil
}

// LoadPrivateKey reads the private key at path. A ".der" file is a raw
// DER PKCS#8 key. PEM input is read once and scanned twice over the
// same bytes: first for a PKCS#8 key, then for a PKCS#1 RSA key; the
// first key found wins.
func LoadPrivateKey(path string) (crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, flower.Err(flower.ErrorIO, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".der") {
		key, err := x509.ParsePKCS8PrivateKey(data)
		if err != nil {
			return nil, flower.Errf(flower.ErrorInvalidInput, "malformed key")
		}
		return key, nil
	}
	if key := findPEMKey(data, pemTypePKCS8Key, x509.ParsePKCS8PrivateKey); key != nil {
		return key, nil
	}
	parsePKCS1 := func(der []byte) (any, error) { return x509.ParsePKCS1PrivateKey(der) }
	if key := findPEMKey(data, pemTypePKCS1Key, parsePKCS1); key != nil {
		return key, nil
	}
	return nil, flower.Errf(flower.ErrorInvalidInput, "malformed key")
}

func findPEMKey(data []byte, blockType string, parse func([]byte) (any, error)) crypto.PrivateKey {
	for rest := data; len(rest) > 0; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil
		}
		if block.Type != blockType {
			continue
		}
		key, err := parse(block.Bytes)
		if err != nil {
			continue
		}
		return key
	}
	return nil
}

// LoadKeyPair assembles a tls.Certificate from a certificate chain
// file and a key file.
func LoadKeyPair(certFile, keyFile string) (tls.Certificate, error) {
	chain, err := LoadCertificates(certFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	key, err := LoadPrivateKey(keyFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: chain, PrivateKey: key}, nil
}

// RootPool returns the trust store: the system roots (or the bundled
// Mozilla list, for binaries that import x509roots/fallback) plus the
// PEM certificates in extraFile when it is non-empty.
func RootPool(extraFile string) (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if extraFile != "" {
		pemBytes, err := os.ReadFile(extraFile)
		if err != nil {
			if os.IsNotExist(err) {
				flower.Log().Info("local trust certificate not found",
					zap.String("file", extraFile))
				return pool, nil
			}
			return nil, flower.Err(flower.ErrorIO, err)
		}
		if !pool.AppendCertsFromPEM(pemBytes) {
			flower.Log().Debug("no usable certificates in trust supplement",
				zap.String("file", extraFile))
		}
	}
	return pool, nil
}

// validServerName reports whether name can be sent as SNI: a non-empty
// DNS name, not an IP literal, with label characters only.
func validServerName(name string) bool {
	if name == "" || len(name) > 253 {
		return false
	}
	if net.ParseIP(name) != nil {
		return false
	}
	for _, label := range strings.Split(strings.TrimSuffix(name, "."), ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			switch {
			case r >= 'a' && r <= 'z':
			case r >= 'A' && r <= 'Z':
			case r >= '0' && r <= '9':
			case r == '-' || r == '_':
			default:
				return false
			}
		}
	}
	return true
}
