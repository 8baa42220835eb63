package esia

import (
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/smallstep/pkcs7"
)

// signer produces the PKCS7 client secret the portal expects: a SignedData
// envelope over the request message, digested with SHA-256, carrying the
// client certificate and the content-type, message-digest and signing-time
// authenticated attributes. Key material is loaded once and cached for the
// process lifetime.
type signer struct {
	certPath string
	keyPath  string
	password string

	once sync.Once
	cert *x509.Certificate
	key  crypto.PrivateKey
	err  error
}

func newSigner(certPath, keyPath, password string) *signer {
	return &signer{
		certPath: certPath,
		keyPath:  keyPath,
		password: password,
	}
}

func (s *signer) load() {
	s.cert, s.err = readCertificate(s.certPath)
	if s.err != nil {
		return
	}
	s.key, s.err = readPrivateKey(s.keyPath, s.password)
}

// Sign returns the URL-safe encoded secret over msg, or a *SigningError.
func (s *signer) Sign(msg string) (string, error) {
	s.once.Do(s.load)
	if s.err != nil {
		return "", &SigningError{Err: s.err}
	}

	signedData, err := pkcs7.NewSignedData([]byte(msg))
	if err != nil {
		return "", &SigningError{Err: fmt.Errorf("initializing signed data: %w", err)}
	}
	signedData.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)

	// AddSigner stamps the signing-time attribute with the current instant.
	if err := signedData.AddSigner(s.cert, s.key, pkcs7.SignerInfoConfig{}); err != nil {
		return "", &SigningError{Err: fmt.Errorf("signing: %w", err)}
	}

	der, err := signedData.Finish()
	if err != nil {
		return "", &SigningError{Err: fmt.Errorf("serializing signed data: %w", err)}
	}

	return urlSafe(base64.StdEncoding.EncodeToString(der)), nil
}

// urlSafe converts standard base64 to the transport form the portal
// accepts in query strings and form bodies.
func urlSafe(s string) string {
	s = strings.ReplaceAll(s, "+", "-")
	s = strings.ReplaceAll(s, "/", "_")
	return strings.TrimRight(s, "=")
}

func readCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading certificate: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}
	return cert, nil
}

func readPrivateKey(path, password string) (crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}

	der := block.Bytes
	if x509.IsEncryptedPEMBlock(block) {
		der, err = x509.DecryptPEMBlock(block, []byte(password))
		if err != nil {
			return nil, fmt.Errorf("decrypting private key: %w", err)
		}
	}

	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("unsupported private key format in %s", path)
}
