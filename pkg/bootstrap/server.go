// Package bootstrap serves the small HTTPS surface an agent's
// clientaccess.Info bootstrap flow expects before it ever dials the QUIC
// transport: the server's CA bundle at /cacerts (downloaded trust-on-first-use,
// then validated against the token's embedded CA hash), and a token-gated
// /v1-arken/config endpoint handing back the cluster-wide settings an agent
// cannot know on its own.
package bootstrap

import (
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ConfigBlob is the JSON body returned from /v1-arken/config, matching the
// shape agent/config.bootstrapBlob decodes.
type ConfigBlob struct {
	ClusterCIDR          string   `json:"cluster_cidr"`
	RuntimeSocket        string   `json:"runtime_socket"`
	AdvertisePort        int      `json:"advertise_port"`
	TransportAddress     string   `json:"transport_address"`
	TransportFingerprint string   `json:"transport_fingerprint"`
	EtcdEndpoints        []string `json:"etcd_endpoints"`
}

// Handler serves the bootstrap HTTP surface. Token gates every route except
// /cacerts, which must be reachable before a client has anything to validate
// a certificate against.
type Handler struct {
	Cert   tls.Certificate
	Token  string
	Config ConfigBlob
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/cacerts":
		h.serveCACerts(w, r)
	case "/v1-arken/config":
		if !h.authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.serveConfig(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) serveCACerts(w http.ResponseWriter, r *http.Request) {
	if len(h.Cert.Certificate) == 0 {
		http.Error(w, "no certificate configured", http.StatusInternalServerError)
		return
	}
	block := &pem.Block{Type: "CERTIFICATE", Bytes: h.Cert.Certificate[0]}
	w.Header().Set("Content-Type", "application/x-pem-file")
	if err := pem.Encode(w, block); err != nil {
		logrus.WithError(err).Warn("writing CA cert bundle")
	}
}

func (h *Handler) serveConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Config); err != nil {
		logrus.WithError(err).Warn("encoding bootstrap config response")
	}
}

// authorized accepts either a bearer token or HTTP basic auth whose password
// is the configured token, matching the two credential shapes
// clientaccess.Info.Get sends depending on whether the join token parsed as
// a bootstrap token or a bare secret.
func (h *Handler) authorized(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	if bearer, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return subtle.ConstantTimeCompare([]byte(bearer), []byte(h.Token)) == 1
	}
	if _, password, ok := r.BasicAuth(); ok {
		return subtle.ConstantTimeCompare([]byte(password), []byte(h.Token)) == 1
	}
	return false
}

// TLSConfigFor builds the http.Server TLS config serving cert, reusing the
// same self-signed certificate the QUIC transport presents so an agent only
// ever has to pin one fingerprint.
func TLSConfigFor(cert tls.Certificate) (*tls.Config, error) {
	if len(cert.Certificate) == 0 {
		return nil, errors.New("empty certificate")
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, errors.Wrap(err, "parsing leaf certificate")
	}
	cert.Leaf = leaf
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}
