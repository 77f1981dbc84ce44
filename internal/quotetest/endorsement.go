package quotetest

import (
	"crypto/rsa"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// GCE mimics the GCE TCB certificate hierarchy signing launch endorsements.
type GCE struct {
	Root         *CA
	Intermediate *CA
	Signer       *CA
}

// NewGCE creates a hierarchy of RSA keys.
func NewGCE(t testing.TB) *GCE {
	t.Helper()
	root := NewRoot(t, CertOptions{CommonName: "Test GCE TCB Root", Key: NewRSAKey(t)})
	intermediate := root.Issue(t, CertOptions{CommonName: "Test GCE TCB Intermediate", Key: NewRSAKey(t), IsCA: true})
	signer := intermediate.Issue(t, CertOptions{CommonName: "Test GCE TCB Signer", Key: NewRSAKey(t)})
	return &GCE{Root: root, Intermediate: intermediate, Signer: signer}
}

// EndorsedMeasurement is one TDX measurement of a golden measurement.
type EndorsedMeasurement struct {
	RAMGiB uint32
	MRTD   []byte
	RTMRs  [][]byte
}

// GoldenOptions configures a golden measurement encoded by [EncodeGolden].
type GoldenOptions struct {
	Timestamp time.Time
	// CABundle is the PEM encoded intermediate certificates.
	CABundle []byte
	// Cert is the DER encoded signer certificate.
	Cert         []byte
	SVN          uint32
	Measurements []EndorsedMeasurement
	// Unknown is appended to the message as is.
	Unknown []byte
}

// EncodeGolden encodes a VMGoldenMeasurement message.
func EncodeGolden(t testing.TB, opts GoldenOptions) []byte {
	t.Helper()

	var b []byte
	if !opts.Timestamp.IsZero() {
		ts, err := proto.Marshal(timestamppb.New(opts.Timestamp))
		require.NoError(t, err)
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, ts)
	}
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, 0x0102)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("commit"))
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendBytes(b, make([]byte, 48))
	if len(opts.CABundle) > 0 {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, opts.CABundle)
	}
	if len(opts.Cert) > 0 {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendBytes(b, opts.Cert)
	}

	var tdx []byte
	tdx = protowire.AppendTag(tdx, 1, protowire.VarintType)
	tdx = protowire.AppendVarint(tdx, uint64(opts.SVN))
	for _, m := range opts.Measurements {
		var measurement []byte
		measurement = protowire.AppendTag(measurement, 1, protowire.VarintType)
		measurement = protowire.AppendVarint(measurement, uint64(m.RAMGiB))
		measurement = protowire.AppendTag(measurement, 2, protowire.VarintType)
		measurement = protowire.AppendVarint(measurement, protowire.EncodeBool(true))
		measurement = protowire.AppendTag(measurement, 3, protowire.BytesType)
		measurement = protowire.AppendBytes(measurement, m.MRTD)
		for _, rtmr := range m.RTMRs {
			measurement = protowire.AppendTag(measurement, 16, protowire.BytesType)
			measurement = protowire.AppendBytes(measurement, rtmr)
		}
		tdx = protowire.AppendTag(tdx, 2, protowire.BytesType)
		tdx = protowire.AppendBytes(tdx, measurement)
	}
	b = protowire.AppendTag(b, 8, protowire.BytesType)
	b = protowire.AppendBytes(b, tdx)

	return append(b, opts.Unknown...)
}

// EncodeEndorsement encodes a VMLaunchEndorsement message.
func EncodeEndorsement(golden, signature []byte) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, golden)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	return protowire.AppendBytes(b, signature)
}

// Endorsement creates a signed launch endorsement.
// The signer certificate and the intermediate CA bundle are filled in unless set in opts.
func (g *GCE) Endorsement(t testing.TB, opts GoldenOptions) []byte {
	t.Helper()
	if opts.Cert == nil {
		opts.Cert = g.Signer.Cert.Raw
	}
	if opts.CABundle == nil {
		opts.CABundle = g.Intermediate.PEM()
	}
	if opts.Timestamp.IsZero() {
		opts.Timestamp = Now.Add(-24 * time.Hour)
	}

	golden := EncodeGolden(t, opts)
	key, ok := g.Signer.Key.(*rsa.PrivateKey)
	require.True(t, ok, "endorsements are signed with RSA keys")
	return EncodeEndorsement(golden, SignPSS(t, key, golden))
}
