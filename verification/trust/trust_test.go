package trust

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/edgelesssys/go-tdx-attestation/internal/quotetest"
	"github.com/edgelesssys/go-tdx-attestation/verification/chain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestIntelSGXRootCA(t *testing.T) {
	assert := assert.New(t)

	anchor := IntelSGXRootCA()
	assert.Same(anchor, IntelSGXRootCA())
	assert.Equal(IntelSGXRootCAName, anchor.Name())

	certs := anchor.Certificates()
	assert.Len(certs, 1)
	assert.Equal("Intel SGX Root CA", certs[0].Subject.CommonName)
	assert.True(certs[0].IsCA)
	assert.True(anchor.Contains(certs[0]))
}

func TestContainsAndFindIssuer(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	pki := quotetest.NewPKI(t)
	other := quotetest.NewPKI(t)

	anchor, err := NewAnchor("test", pki.Root.Cert)
	require.NoError(err)

	assert.True(anchor.Contains(pki.Root.Cert))
	assert.False(anchor.Contains(other.Root.Cert))
	assert.False(anchor.Contains(pki.Intermediate.Cert))
	assert.False(anchor.Contains(nil))

	assert.True(anchor.FindIssuer(pki.Intermediate.Cert).Equal(pki.Root.Cert))
	// same subject name, different key
	assert.Nil(anchor.FindIssuer(other.Intermediate.Cert))
	assert.Nil(anchor.FindIssuer(pki.Leaf.Cert))
	assert.Nil(anchor.FindIssuer(nil))
}

func TestLoadAnchor(t *testing.T) {
	pki := quotetest.NewPKI(t)
	dir := t.TempDir()

	pemPath := filepath.Join(dir, "root.pem")
	require.NoError(t, os.WriteFile(pemPath, pki.Root.PEM(), 0o644))
	derPath := filepath.Join(dir, "root.crt")
	require.NoError(t, os.WriteFile(derPath, pki.Root.Cert.Raw, 0o644))
	linkPath := filepath.Join(dir, "link.pem")
	require.NoError(t, os.Symlink(pemPath, linkPath))
	garbagePath := filepath.Join(dir, "garbage.pem")
	require.NoError(t, os.WriteFile(garbagePath, []byte("not a certificate"), 0o644))

	testCases := map[string]struct {
		path    string
		wantErr bool
	}{
		"PEM file":     {path: pemPath},
		"DER file":     {path: derPath},
		"symlink":      {path: linkPath, wantErr: true},
		"directory":    {path: dir, wantErr: true},
		"missing file": {path: filepath.Join(dir, "missing"), wantErr: true},
		"garbage":      {path: garbagePath, wantErr: true},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			anchor, err := LoadAnchor("GCE TCB root", tc.path)
			if tc.wantErr {
				assert.Error(err)
				return
			}
			require.NoError(err)
			assert.Equal("GCE TCB root", anchor.Name())
			assert.True(anchor.Contains(pki.Root.Cert))
		})
	}
}

func TestNewAnchorErrors(t *testing.T) {
	assert := assert.New(t)

	_, err := NewAnchor("empty")
	assert.Error(err)
	_, err = NewAnchor("nil", nil)
	assert.Error(err)
}

func TestParseAnchorManyRoots(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var data []byte
	var pkis []*quotetest.PKI
	for i := 0; i < chain.MaxLength+1; i++ {
		pki := quotetest.NewPKI(t)
		pkis = append(pkis, pki)
		data = append(data, pki.Root.PEM()...)
	}

	anchor, err := ParseAnchor("roots", data)
	require.NoError(err)
	assert.Len(anchor.Certificates(), chain.MaxLength+1)
	for _, pki := range pkis {
		assert.True(anchor.Contains(pki.Root.Cert))
	}

	_, err = ParseAnchor("empty", nil)
	assert.Error(err)
}
