/*
Package pcs retrieves revocation collateral from Intel's Provisioning Certification Service (PCS).

The following information is retrieved from the PCS:
  - Intel Root CA CRL
  - PCK CRL and the PCK CA certificate that signed it

The retrieved data is verified using the Intel SGX/TDX certificate hierarchy:

	           ┌───────────────┐
	           │ Intel Root CA │
	           └───────┬───────┘
	                   │
	                 Signs
	                   │
	        ┌──────────┴─────────────┐
	        │                        │
	        ▼                        ▼
	┌───────────────┐      ┌───────────────────┐
	│  PCK CA Cert  │◄─────┤ Intel Root CA CRL │
	└───────┬───────┘      └───────────────────┘
	        │                   Revokes
	      Signs
	        │
	        ├────────────────────┐
	        │                    │
	        ▼                    ▼
	  ┌──────────┐          ┌─────────┐
	  │ PCK Cert │◄─────────┤ PCK CRL │
	  └──────────┘  Revokes └─────────┘

The Intel Root CA is used to verify the Intel Root CA CRL and, through the verification
engine, the PCK CA certificate returned in the response header of the PCK CRL request.
The PCK CA certificate is then used to verify the PCK CRL.

The returned lists can be passed to [verification.WithRevocationLists].
*/
package pcs

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/edgelesssys/go-tdx-attestation/verification"
	"github.com/edgelesssys/go-tdx-attestation/verification/chain"
	"github.com/edgelesssys/go-tdx-attestation/verification/trust"
	"k8s.io/utils/clock"
)

const (
	// TDXPlatform is used to retrieve the CRL of the PCK Platform CA.
	TDXPlatform = "platform"

	// TDXProcessor is used to retrieve the CRL of the PCK Processor CA.
	TDXProcessor = "processor"

	// rootCACRLURL is the URL for Intel's Root CA CRL.
	rootCACRLURL = "https://certificates.trustedservices.intel.com:443/IntelSGXRootCA.der"
	// baseURL is the URL for Intel's PCS.
	baseURL = "api.trustedservices.intel.com:443"
	// sgxAPI is the API to use when retrieving SGX information from Intel's PCS.
	sgxAPI = "sgx"
	// requestType is the type of request to make to Intel's PCS.
	requestType = "certification"
	// apiVersion is the version of the PCS API to use.
	apiVersion = "v4"
	// pckcrlPath is the path to the PCK CRL chain.
	pckcrlPath = "pckcrl"
	// pckcrlEncodingQuery is the query to use when retrieving the PCK CRL chain.
	pckcrlEncodingQuery = "encoding"
	pckcrlEncodingType  = "der"
	// pckcrlCAQuery is the query to use when retrieving the PCK CRL chain.
	pckcrlCAQuery = "ca"
	// pckcrlHeader is a header containing the PCK CRL issuer chain.
	pckcrlHeader = "Sgx-Pck-Crl-Issuer-Chain"

	// maxResponseSize limits the size of a PCS response body.
	maxResponseSize = 4 << 20
)

type pcsAPI interface {
	getFromPCS(ctx context.Context, uri *url.URL, certHeader string) (body []byte, issuerChain chain.CertificateChain, err error)
}

// TrustedServicesClient is a client for Intel's PCS.
type TrustedServicesClient struct {
	api    pcsAPI
	anchor *trust.Anchor
	clock  clock.PassiveClock
}

// New returns a new TrustedServicesClient using the Intel SGX Root CA as trust anchor.
func New() *TrustedServicesClient {
	return &TrustedServicesClient{
		api:    &pcsAPIClient{client: http.DefaultClient},
		anchor: trust.IntelSGXRootCA(),
		clock:  clock.RealClock{},
	}
}

// RevocationLists retrieves and verifies the Intel Root CA CRL and the PCK CRL of the given CA type.
func (t *TrustedServicesClient) RevocationLists(ctx context.Context, caType string) ([]*x509.RevocationList, error) {
	rootCRL, err := t.GetRootCACRL(ctx)
	if err != nil {
		return nil, err
	}
	pckCRL, _, err := t.getPCKCRL(ctx, caType, rootCRL)
	if err != nil {
		return nil, err
	}
	return []*x509.RevocationList{rootCRL, pckCRL}, nil
}

// GetPCKCRL retrieves the PCK CRL and the PCK CA cert from Intel's PCS.
func (t *TrustedServicesClient) GetPCKCRL(ctx context.Context, caType string) (*x509.RevocationList, *x509.Certificate, error) {
	rootCRL, err := t.GetRootCACRL(ctx)
	if err != nil {
		return nil, nil, err
	}
	return t.getPCKCRL(ctx, caType, rootCRL)
}

// GetRootCACRL retrieves the Intel Root CA CRL and verifies it was signed by a trusted root.
func (t *TrustedServicesClient) GetRootCACRL(ctx context.Context) (*x509.RevocationList, error) {
	url, err := url.Parse(rootCACRLURL)
	if err != nil {
		return nil, fmt.Errorf("parsing Root CA CRL URL: %w", err)
	}

	rootCACRLRaw, _, err := t.api.getFromPCS(ctx, url, "")
	if err != nil {
		return nil, fmt.Errorf("getting Root CA CRL from PCS: %w", err)
	}

	rootCACRL, err := x509.ParseRevocationList(rootCACRLRaw)
	if err != nil {
		return nil, fmt.Errorf("parsing Root CA CRL from DER: %w", err)
	}

	var signedByRoot bool
	for _, root := range t.anchor.Certificates() {
		if rootCACRL.CheckSignatureFrom(root) == nil {
			signedByRoot = true
			break
		}
	}
	if !signedByRoot {
		return nil, fmt.Errorf("root CRL is not signed by a certificate of trust anchor %q", t.anchor.Name())
	}
	if err := t.checkFreshness(rootCACRL); err != nil {
		return nil, fmt.Errorf("checking root CRL: %w", err)
	}

	return rootCACRL, nil
}

func (t *TrustedServicesClient) getPCKCRL(ctx context.Context, caType string, rootCRL *x509.RevocationList,
) (*x509.RevocationList, *x509.Certificate, error) {
	url := getPCSURL(sgxAPI, pckcrlPath)

	query := url.Query()
	query.Add(pckcrlCAQuery, caType)
	query.Add(pckcrlEncodingQuery, pckcrlEncodingType)
	url.RawQuery = query.Encode()

	pckCRLRaw, issuerChain, err := t.api.getFromPCS(ctx, url, pckcrlHeader)
	if err != nil {
		return nil, nil, fmt.Errorf("getting PCK CRL from PCS: %w", err)
	}

	// The issuer chain is [PCK CA, Intel Root CA]; the PCK CA must not be revoked by the root CRL.
	verifier := verification.New(verification.WithClock(t.clock), verification.WithRevocationLists(rootCRL))
	if err := verifier.VerifyChain(issuerChain, t.anchor); err != nil {
		return nil, nil, fmt.Errorf("verifying PCK CRL issuer chain: %w", err)
	}
	pckCACert := issuerChain.Leaf()

	pckCRL, err := x509.ParseRevocationList(pckCRLRaw)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing PCK CRL from DER: %w", err)
	}

	if err := pckCRL.CheckSignatureFrom(pckCACert); err != nil {
		return nil, nil, fmt.Errorf("verifying PCK CRL signature using PCK CA certificate: %w", err)
	}
	if err := t.checkFreshness(pckCRL); err != nil {
		return nil, nil, fmt.Errorf("checking PCK CRL: %w", err)
	}

	return pckCRL, pckCACert, nil
}

func (t *TrustedServicesClient) checkFreshness(crl *x509.RevocationList) error {
	now := t.clock.Now()
	if crl.ThisUpdate.After(now) {
		return errors.New("CRL is not yet valid")
	}
	if !crl.NextUpdate.IsZero() && crl.NextUpdate.Before(now) {
		return errors.New("CRL has expired")
	}
	return nil
}

// CATypeFor returns the CA type to request the PCK CRL for, based on the issuer of a PCK certificate.
func CATypeFor(pckCert *x509.Certificate) string {
	if strings.Contains(pckCert.Issuer.CommonName, "Processor") {
		return TDXProcessor
	}
	return TDXPlatform
}

type pcsAPIClient struct {
	client *http.Client
}

// getFromPCS sends a request to Intel's PCS and returns the data,
// and the signing certificate chain in the responses header if certHeader is set.
func (c *pcsAPIClient) getFromPCS(ctx context.Context, uri *url.URL, certHeader string,
) (body []byte, issuerChain chain.CertificateChain, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri.String(), http.NoBody)
	if err != nil {
		return nil, chain.CertificateChain{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, chain.CertificateChain{}, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, chain.CertificateChain{}, fmt.Errorf("request failed with status %s", resp.Status)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, chain.CertificateChain{}, fmt.Errorf("reading response: %w", err)
	}

	if certHeader != "" {
		issuerChain, err = issuerChainFromCertHeader(resp.Header.Get(certHeader))
		if err != nil {
			return nil, chain.CertificateChain{}, fmt.Errorf("getting signing chain from response header: %w", err)
		}
	}

	return respBody, issuerChain, nil
}

// issuerChainFromCertHeader parses a certificate chain from a PCS response header.
// Intel's PCS returns the signing chain in the response header as a URL encoded PEM string.
// The chain contains one intermediate certificate followed by the root certificate.
func issuerChainFromCertHeader(header string) (chain.CertificateChain, error) {
	certChain, err := url.QueryUnescape(header)
	if err != nil {
		return chain.CertificateChain{}, fmt.Errorf("decoding certificate chain from PCS response header: %w", err)
	}

	return chain.FromCertificationData([]byte(certChain))
}

// getPCSURL returns a URL to connect to the PCS for the given path.
func getPCSURL(apiType, requestPath string) *url.URL {
	return &url.URL{
		Scheme: "https",
		Host:   baseURL,
		Path:   path.Join(apiType, requestType, apiVersion, requestPath),
	}
}
