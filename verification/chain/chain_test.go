package chain

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/edgelesssys/go-tdx-attestation/internal/quotetest"
	"github.com/edgelesssys/go-tdx-attestation/verification/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestFromCertificationData(t *testing.T) {
	pki := quotetest.NewPKI(t)
	chainPEM := pki.ChainPEM()

	longChain := func(n int) []byte {
		var data []byte
		for i := 0; i < n; i++ {
			data = append(data, pki.Leaf.PEM()...)
		}
		return data
	}

	testCases := map[string]struct {
		data    []byte
		wantLen int
		wantErr bool
	}{
		"PEM with NUL terminator": {
			data:    chainPEM,
			wantLen: 3,
		},
		"PEM without terminator": {
			data:    bytes.TrimRight(chainPEM, "\x00"),
			wantLen: 3,
		},
		"PEM with trailing whitespace and NULs": {
			data:    append(bytes.TrimRight(bytes.Clone(chainPEM), "\x00"), []byte("\n\n\x00\x00\x00")...),
			wantLen: 3,
		},
		"concatenated DER": {
			data:    pki.ChainDER(),
			wantLen: 3,
		},
		"DER with NUL padding": {
			data:    append(pki.ChainDER(), 0x00, 0x00),
			wantLen: 3,
		},
		"single certificate": {
			data:    pki.Root.PEM(),
			wantLen: 1,
		},
		"maximum length": {
			data:    longChain(MaxLength),
			wantLen: MaxLength,
		},
		"too long": {
			data:    longChain(MaxLength + 1),
			wantErr: true,
		},
		"empty": {
			data:    nil,
			wantErr: true,
		},
		"only NUL bytes": {
			data:    []byte{0x00, 0x00},
			wantErr: true,
		},
		"PEM with trailing garbage": {
			data:    append(bytes.TrimRight(bytes.Clone(chainPEM), "\x00"), []byte("garbage")...),
			wantErr: true,
		},
		"PEM with private key block": {
			data:    append(pki.Leaf.PEM(), pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{0x01}})...),
			wantErr: true,
		},
		"PEM with invalid certificate": {
			data:    pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte("not a certificate")}),
			wantErr: true,
		},
		"DER garbage": {
			data:    []byte{0x30, 0x82, 0xFF, 0xFF, 0x01},
			wantErr: true,
		},
		"truncated DER": {
			data:    pki.ChainDER()[:100],
			wantErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			chain, err := FromCertificationData(tc.data)
			if tc.wantErr {
				assert.ErrorIs(err, types.ErrInvalidChain)
				assert.Zero(chain.Len())
				return
			}
			require.NoError(err)
			assert.Equal(tc.wantLen, chain.Len())
		})
	}
}

func TestChainOrder(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	pki := quotetest.NewPKI(t)
	chain, err := FromCertificationData(pki.ChainPEM())
	require.NoError(err)

	assert.True(chain.Leaf().Equal(pki.Leaf.Cert))
	assert.True(chain.At(1).Equal(pki.Intermediate.Cert))
	assert.True(chain.Root().Equal(pki.Root.Cert))
	assert.Nil(chain.At(3))
	assert.Nil(chain.At(-1))
}

func TestChainIsImmutable(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	pki := quotetest.NewPKI(t)
	certs := pki.Certificates()
	chain, err := FromCertificates(certs...)
	require.NoError(err)

	certs[0] = pki.Root.Cert
	assert.True(chain.Leaf().Equal(pki.Leaf.Cert))

	copied := chain.Certificates()
	copied[0] = pki.Root.Cert
	assert.True(chain.Leaf().Equal(pki.Leaf.Cert))

	extended, err := chain.Append(pki.Root.Cert)
	require.NoError(err)
	assert.Equal(3, chain.Len())
	assert.Equal(4, extended.Len())
}

func TestFromCertificates(t *testing.T) {
	pki := quotetest.NewPKI(t)

	testCases := map[string]struct {
		certs   []*x509.Certificate
		wantErr bool
	}{
		"valid":    {certs: pki.Certificates()},
		"empty":    {wantErr: true},
		"nil":      {certs: []*x509.Certificate{pki.Leaf.Cert, nil}, wantErr: true},
		"too long": {certs: make([]*x509.Certificate, MaxLength+1), wantErr: true},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			_, err := FromCertificates(tc.certs...)
			if tc.wantErr {
				assert.ErrorIs(err, types.ErrInvalidChain)
			} else {
				assert.NoError(err)
			}
		})
	}
}

func FuzzFromCertificationData(f *testing.F) {
	pki := quotetest.NewPKI(f)
	f.Add(pki.ChainPEM())
	f.Add(pki.ChainDER())
	f.Fuzz(func(t *testing.T, a []byte) {
		assert := assert.New(t)
		assert.NotPanics(func() {
			chain, err := FromCertificationData(a)
			if err == nil {
				assert.Positive(chain.Len())
				assert.LessOrEqual(chain.Len(), MaxLength)
			}
		})
	})
}

func TestParseCertificates(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	pki := quotetest.NewPKI(t)
	var data []byte
	for i := 0; i < MaxLength+2; i++ {
		data = append(data, pki.Root.PEM()...)
	}

	certs, err := ParseCertificates(data)
	require.NoError(err)
	assert.Len(certs, MaxLength+2)

	certs, err = ParseCertificates(nil)
	assert.NoError(err)
	assert.Empty(certs)

	_, err = ParseCertificates([]byte("garbage"))
	assert.ErrorIs(err, types.ErrInvalidChain)
}
