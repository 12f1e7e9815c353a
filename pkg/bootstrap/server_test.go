package bootstrap

import (
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arken-sh/arken/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHandler(t *testing.T) *Handler {
	t.Helper()
	cert, err := transport.SelfSignedCert([]string{"localhost"})
	require.NoError(t, err)
	return &Handler{
		Cert:  cert,
		Token: "s3cr3t",
		Config: ConfigBlob{
			ClusterCIDR:          "10.42.0.0/16",
			AdvertisePort:        6444,
			TransportAddress:     "10.0.0.1:6444",
			TransportFingerprint: "deadbeef",
			EtcdEndpoints:        []string{"http://127.0.0.1:2379"},
		},
	}
}

func TestServeCACertsNeedsNoAuth(t *testing.T) {
	h := testHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/cacerts", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "-----BEGIN CERTIFICATE-----")
}

func TestServeConfigRejectsMissingAuth(t *testing.T) {
	h := testHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/v1-arken/config", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServeConfigAcceptsBearerToken(t *testing.T) {
	h := testHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/v1-arken/config", nil)
	req.Header.Set("Authorization", "Bearer s3cr3t")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var blob ConfigBlob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &blob))
	assert.Equal(t, h.Config, blob)
}

func TestServeConfigAcceptsBasicAuth(t *testing.T) {
	h := testHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/v1-arken/config", nil)
	req.SetBasicAuth("node", "s3cr3t")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServeConfigRejectsWrongToken(t *testing.T) {
	h := testHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/v1-arken/config", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServeHTTPUnknownPathIsNotFound(t *testing.T) {
	h := testHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTLSConfigForRejectsEmptyCertificate(t *testing.T) {
	_, err := TLSConfigFor(tls.Certificate{})
	require.Error(t, err)
}
