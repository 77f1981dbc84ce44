package types

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"encoding/pem"
	"testing"

	fuzzheaders "github.com/AdaLogics/go-fuzz-headers"
	"github.com/edgelesssys/go-tdx-attestation/internal/quotetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestParseQuote(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	pki := quotetest.NewPKI(t)
	var reportData [64]byte
	copy(reportData[:], "Hello from Edgeless Systems!")
	var mrtd [48]byte
	mrtd[0], mrtd[47] = 0xAA, 0xBB
	rawQuote := pki.Quote(t, quotetest.QuoteOptions{ReportData: reportData, MRTD: mrtd})

	quote, err := ParseQuote(rawQuote)
	require.NoError(err)

	assert.EqualValues(QuoteVersion4, quote.Header.Version)
	assert.EqualValues(TEETypeTDX, quote.Header.TEEType)
	assert.Equal(AttestationKeyECDSAP256, quote.Header.AttestationKeyType)
	assert.Equal(BodyTypeTD10, quote.BodyType)
	assert.Equal(reportData, quote.Body.ReportData)
	assert.Equal(Measurement(mrtd), quote.Body.MRTD)

	// Check QE auth data
	expectedData := make([]byte, 32)
	for i := 0; i < 32; i++ {
		expectedData[i] = byte(i)
	}
	assert.Equal(expectedData, quote.Signature.QEReport.AuthData)

	// Check if PEM chain is valid
	pemChain := quote.PCKCertChain()
	block, rest := pem.Decode(pemChain)
	assert.NotEmpty(block)
	assert.NotEmpty(rest)
	block, rest = pem.Decode(rest)
	assert.NotEmpty(block)
	assert.NotEmpty(rest)
	block, rest = pem.Decode(rest)
	assert.NotEmpty(block)
	assert.Equal([]byte{0x0}, rest) // C terminated string with 0x0 byte
}

func TestParseQuoteRoundTrip(t *testing.T) {
	pki := quotetest.NewPKI(t)

	testCases := map[string]quotetest.QuoteOptions{
		"v4":                 {},
		"v5 TD 1.0 body":     {Version: 5, BodyType: 2},
		"v5 TD 1.5 body":     {Version: 5, BodyType: 3},
		"empty auth data":    {AuthData: []byte{}},
		"DER chain":          {Chain: pki.ChainDER()},
		"empty chain":        {Chain: []byte{}},
		"large auth data":    {AuthData: bytes.Repeat([]byte{0x42}, 4096)},
		"measured registers": {RTMR: [4][48]byte{{1}, {2}, {3}, {4}}},
	}

	for name, opts := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			rawQuote := pki.Quote(t, opts)
			quote, err := ParseQuote(rawQuote)
			require.NoError(err)

			assert.Equal(rawQuote, quote.Marshal())
			assert.Equal(rawQuote[:len(quote.SignedData())], quote.SignedData())
		})
	}
}

func TestParseQuoteTD15Body(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	pki := quotetest.NewPKI(t)
	rawQuote := pki.Quote(t, quotetest.QuoteOptions{Version: 5, BodyType: 3})

	quote, err := ParseQuote(rawQuote)
	require.NoError(err)

	assert.Equal(BodyTypeTD15, quote.BodyType)
	bodyStart := HeaderSize + bodyDescriptorSize
	assert.Equal(rawQuote[bodyStart+584:bodyStart+600], quote.Body.TEETCBSVN2[:])
	assert.Equal(rawQuote[bodyStart+600:bodyStart+648], quote.Body.MRSERVICETD[:])
	assert.Len(quote.SignedData(), HeaderSize+bodyDescriptorSize+648)
}

func TestParseQuoteDoesNotAlias(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	pki := quotetest.NewPKI(t)
	rawQuote := pki.Quote(t, quotetest.QuoteOptions{})
	original := bytes.Clone(rawQuote)

	quote, err := ParseQuote(rawQuote)
	require.NoError(err)

	for i := range rawQuote {
		rawQuote[i] = 0xFF
	}
	assert.Equal(original, quote.Marshal())

	chain := quote.PCKCertChain()
	chain[0] = 'X'
	assert.NotEqual(chain, quote.PCKCertChain())
}

func TestParseQuoteErrors(t *testing.T) {
	pki := quotetest.NewPKI(t)
	valid := pki.Quote(t, quotetest.QuoteOptions{})
	validV5 := pki.Quote(t, quotetest.QuoteOptions{Version: 5})

	modify := func(raw []byte, f func([]byte)) []byte {
		raw = bytes.Clone(raw)
		f(raw)
		return raw
	}
	// offset of the signature length field in a v4 quote
	sigLenOffset := HeaderSize + BodyTypeTD10.Size()
	sigDataOffset := sigLenOffset + signatureLengthSize

	testCases := map[string]struct {
		rawQuote []byte
		wantKind error
	}{
		"empty": {
			rawQuote: nil,
			wantKind: ErrTruncated,
		},
		"shorter than header": {
			rawQuote: valid[:HeaderSize-1],
			wantKind: ErrTruncated,
		},
		"short header with invalid version": {
			rawQuote: modify(valid[:10], func(b []byte) { b[0] = 0x03 }),
			wantKind: ErrTruncated,
		},
		"header only": {
			rawQuote: valid[:HeaderSize],
			wantKind: ErrTruncated,
		},
		"body truncated": {
			rawQuote: valid[:HeaderSize+100],
			wantKind: ErrTruncated,
		},
		"v5 descriptor truncated": {
			rawQuote: validV5[:HeaderSize+3],
			wantKind: ErrTruncated,
		},
		"unsupported version": {
			rawQuote: modify(valid, func(b []byte) { binary.LittleEndian.PutUint16(b[0:2], 3) }),
			wantKind: ErrUnsupportedVersion,
		},
		"unsupported attestation key type": {
			rawQuote: modify(valid, func(b []byte) { binary.LittleEndian.PutUint16(b[2:4], 3) }),
			wantKind: ErrUnsupportedVersion,
		},
		"SGX quote": {
			rawQuote: modify(valid, func(b []byte) { binary.LittleEndian.PutUint32(b[4:8], TEETypeSGX) }),
			wantKind: ErrUnsupportedVersion,
		},
		"unsupported body type": {
			rawQuote: modify(validV5, func(b []byte) { binary.LittleEndian.PutUint16(b[48:50], 1) }),
			wantKind: ErrUnsupportedVersion,
		},
		"body descriptor size mismatch": {
			rawQuote: modify(validV5, func(b []byte) { binary.LittleEndian.PutUint32(b[50:54], 600) }),
			wantKind: ErrLengthMismatch,
		},
		"signature length too large": {
			rawQuote: modify(valid, func(b []byte) {
				binary.LittleEndian.PutUint32(b[sigLenOffset:], uint32(len(b)-sigDataOffset+1))
			}),
			wantKind: ErrLengthMismatch,
		},
		"signature length too small": {
			rawQuote: modify(valid, func(b []byte) {
				binary.LittleEndian.PutUint32(b[sigLenOffset:], uint32(len(b)-sigDataOffset-1))
			}),
			wantKind: ErrLengthMismatch,
		},
		"signature length max uint32": {
			rawQuote: modify(valid, func(b []byte) { binary.LittleEndian.PutUint32(b[sigLenOffset:], 0xFFFFFFFF) }),
			wantKind: ErrLengthMismatch,
		},
		"trailing bytes": {
			rawQuote: append(bytes.Clone(valid), 0x00),
			wantKind: ErrLengthMismatch,
		},
		"wrong certification data type": {
			rawQuote: modify(valid, func(b []byte) { binary.LittleEndian.PutUint16(b[sigDataOffset+128:], 5) }),
			wantKind: ErrUnsupportedVersion,
		},
		"certification data size mismatch": {
			rawQuote: modify(valid, func(b []byte) { binary.LittleEndian.PutUint32(b[sigDataOffset+130:], 10) }),
			wantKind: ErrLengthMismatch,
		},
		"auth data size exceeds buffer": {
			rawQuote: modify(valid, func(b []byte) {
				binary.LittleEndian.PutUint16(b[sigDataOffset+signatureDataFixedSize+448:], 0xFFFF)
			}),
			wantKind: ErrLengthMismatch,
		},
		"too large": {
			rawQuote: make([]byte, MaxQuoteSize+1),
			wantKind: ErrLengthMismatch,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			quote, err := ParseQuote(tc.rawQuote)
			assert.ErrorIs(err, tc.wantKind)
			assert.Equal(Quote{}, quote)

			var decodeErr *DecodeError
			assert.ErrorAs(err, &decodeErr)
		})
	}
}

func TestParseQuoteTruncatedPrefixes(t *testing.T) {
	assert := assert.New(t)

	pki := quotetest.NewPKI(t)
	rawQuote := pki.Quote(t, quotetest.QuoteOptions{})

	for i := 0; i < len(rawQuote); i++ {
		_, err := ParseQuote(rawQuote[:i])
		if !assert.Error(err, "prefix of %d bytes", i) {
			continue
		}
		if i < HeaderSize {
			assert.ErrorIs(err, ErrTruncated, "prefix of %d bytes", i)
		}
	}
}

func TestMeasurementMarshalText(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var m Measurement
	m[0], m[47] = 0x01, 0xFE

	out, err := json.Marshal(struct{ MRTD Measurement }{m})
	require.NoError(err)
	assert.JSONEq(`{"MRTD":"01`+string(bytes.Repeat([]byte("0"), 92))+`fe"}`, string(out))
}

func FuzzParseQuote(f *testing.F) {
	pki := quotetest.NewPKI(f)
	f.Add(pki.Quote(f, quotetest.QuoteOptions{}))
	f.Add(pki.Quote(f, quotetest.QuoteOptions{Version: 5, BodyType: 3}))
	f.Fuzz(func(t *testing.T, a []byte) {
		assert := assert.New(t)
		assert.NotPanics(func() {
			quote, err := ParseQuote(a)
			if err == nil {
				assert.Equal(a, quote.Marshal())
			}
		})
	})
}

func FuzzParseSignatureData(f *testing.F) {
	f.Fuzz(func(t *testing.T, a []byte) {
		assert := assert.New(t)
		assert.NotPanics(func() { _, _ = parseSignatureData(a) })
	})
}

func FuzzParseQEReportCertificationData(f *testing.F) {
	f.Fuzz(func(t *testing.T, a []byte) {
		assert := assert.New(t)
		assert.NotPanics(func() { _, _ = parseQEReportCertificationData(a) })
	})
}

func FuzzParsePCKCertChainData(f *testing.F) {
	f.Fuzz(func(t *testing.T, a []byte) {
		assert := assert.New(t)
		assert.NotPanics(func() { _, _ = parsePCKCertChainData(a) })
	})
}

func FuzzQuoteMarshal(f *testing.F) {
	f.Fuzz(func(t *testing.T, a []byte) {
		target := Quote{}
		fuzzConsumer := fuzzheaders.NewConsumer(a)
		if err := fuzzConsumer.GenerateStruct(&target); err != nil {
			return
		}
		// Length prefixes are 16 bit for the auth data.
		if len(target.Signature.QEReport.AuthData) > 0xFFFF {
			return
		}
		assert.NotPanics(t, func() { _ = target.Marshal() })
	})
}
