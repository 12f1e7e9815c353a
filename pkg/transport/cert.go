// Package transport implements the QUIC control-plane<->agent protocol: a
// self-signed TLS bootstrap, length-prefixed binary envelopes, and the
// closed message union workers and users exchange with the server.
package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"math/big"
	"time"

	"github.com/pkg/errors"
)

// SelfSignedCert generates an ECDSA P-256 self-signed certificate for the
// given hosts, used by the server side of the transport so agents can pin
// on first connect the way clientaccess.GetCACerts trust-on-first-use does
// for the HTTPS bootstrap.
func SelfSignedCert(hosts []string) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "generating transport certificate key")
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "generating certificate serial number")
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "arken-transport"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range hosts {
		template.DNSNames = append(template.DNSNames, h)
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "creating self-signed certificate")
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}, nil
}

// ServerTLSConfig builds the tls.Config the QUIC listener presents, with the
// transport's ALPN identifier set so agents and this server agree on the
// protocol before the handshake completes.
func ServerTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpn},
	}
}

// ClientTLSConfig builds the tls.Config an agent or user dials with. Agents
// are expected to pin the server's certificate out of band (via the same
// CA-hash token flow clientaccess uses for the HTTPS bootstrap) rather than
// trust any CA, so InsecureSkipVerify is paired with an explicit
// VerifyPeerCertificate callback when pinnedFingerprint is non-empty.
func ClientTLSConfig(pinnedFingerprint string) *tls.Config {
	cfg := &tls.Config{
		NextProtos: []string{alpn},
	}
	if pinnedFingerprint == "" {
		return cfg
	}
	cfg.InsecureSkipVerify = true
	cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		for _, raw := range rawCerts {
			if fingerprintOf(raw) == pinnedFingerprint {
				return nil
			}
		}
		return errors.New("server certificate does not match the pinned fingerprint")
	}
	return cfg
}

const alpn = "arken/v1"

// Fingerprint returns the hex-encoded SHA-256 fingerprint of a DER-encoded
// certificate, the value agents pin via ClientTLSConfig.
func Fingerprint(der []byte) string {
	return fingerprintOf(der)
}

func fingerprintOf(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}
