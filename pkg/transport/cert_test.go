package transport

import (
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelfSignedCertParsesAndMatchesHosts(t *testing.T) {
	cert, err := SelfSignedCert([]string{"node.example.internal"})
	require.NoError(t, err)
	require.Len(t, cert.Certificate, 1)

	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, parsed.DNSNames, "node.example.internal")
}

func TestFingerprintIsStableForSameInput(t *testing.T) {
	a := Fingerprint([]byte("same bytes"))
	b := Fingerprint([]byte("same bytes"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Fingerprint([]byte("different bytes")))
}

func TestClientTLSConfigWithoutPinAllowsDefaultVerification(t *testing.T) {
	cfg := ClientTLSConfig("")
	assert.False(t, cfg.InsecureSkipVerify)
	assert.Nil(t, cfg.VerifyPeerCertificate)
}
