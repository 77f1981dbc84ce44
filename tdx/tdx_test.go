package tdx

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestIsAvailable(t *testing.T) {
	dir := t.TempDir()
	device := filepath.Join(dir, "tdx_guest")
	require.NoError(t, os.WriteFile(device, nil, 0o600))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(device, link))

	testCases := map[string]struct {
		path string
		want bool
	}{
		"device":    {path: device, want: true},
		"symlink":   {path: link},
		"directory": {path: dir},
		"missing":   {path: filepath.Join(dir, "missing")},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, isAvailable(tc.path))
		})
	}
}

func TestPlatform(t *testing.T) {
	if IsAvailable() {
		assert.Equal(t, PlatformName, Platform())
	} else {
		assert.Equal(t, runtime.GOOS, Platform())
	}
}

func TestQuoteSource(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	testCases := map[string]struct {
		provider      *fakeProvider
		ctx           context.Context
		nonce         []byte
		wantAvailable bool
		wantErr       bool
	}{
		"success": {
			provider:      &fakeProvider{quote: []byte("quote")},
			ctx:           context.Background(),
			nonce:         []byte("nonce"),
			wantAvailable: true,
		},
		"full length nonce": {
			provider:      &fakeProvider{quote: []byte("quote")},
			ctx:           context.Background(),
			nonce:         bytes.Repeat([]byte{0xFF}, 64),
			wantAvailable: true,
		},
		"nonce too long": {
			provider:      &fakeProvider{quote: []byte("quote")},
			ctx:           context.Background(),
			nonce:         make([]byte, 65),
			wantAvailable: true,
			wantErr:       true,
		},
		"context canceled": {
			provider:      &fakeProvider{quote: []byte("quote")},
			ctx:           canceled,
			wantAvailable: true,
			wantErr:       true,
		},
		"provider error": {
			provider:      &fakeProvider{getErr: errors.New("quote generation failed")},
			ctx:           context.Background(),
			wantAvailable: true,
			wantErr:       true,
		},
		"not supported": {
			provider: &fakeProvider{supportErr: errors.New("no configfs-tsm"), getErr: errors.New("not supported")},
			ctx:      context.Background(),
			wantErr:  true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			log, _ := logrustest.NewNullLogger()
			source := &QuoteSource{provider: tc.provider, log: log}

			assert.Equal(tc.wantAvailable, source.IsAvailable())

			quote, err := source.Fetch(tc.ctx, tc.nonce)
			if tc.wantErr {
				assert.Error(err)
				return
			}
			require.NoError(err)
			assert.Equal(tc.provider.quote, quote)

			var want [64]byte
			copy(want[:], tc.nonce)
			assert.Equal(want, tc.provider.reportData)
		})
	}
}

type fakeProvider struct {
	quote      []byte
	supportErr error
	getErr     error
	reportData [64]byte
}

func (p *fakeProvider) IsSupported() error {
	return p.supportErr
}

func (p *fakeProvider) GetRawQuote(reportData [64]byte) ([]uint8, error) {
	p.reportData = reportData
	return p.quote, p.getErr
}
