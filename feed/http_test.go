package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const barsCSV = `date,open,high,low,close,volume
2026-08-20,100.5,101.25,99.75,101,12345
2026-08-21,101,102,100.5,101.75,23456
`

func TestHTTPProvider_DailyBars(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.String()
		assert.Equal(t, "Bearer key-123", r.Header.Get("Authorization"))
		w.Write([]byte(barsCSV))
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(HTTPProviderConfig{Name: "barchart", BaseURL: srv.URL, APIKey: "key-123"})
	require.NoError(t, err)

	bars, err := p.DailyBars(context.Background(),
		"ESZ6",
		time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Contains(t, gotPath, "symbol=ESZ6")
	assert.Contains(t, gotPath, "start=20260820")
	assert.Equal(t, "ESZ6", bars[0].Symbol)
	assert.Equal(t, time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC), bars[0].Day)
	assert.Equal(t, 100.5, bars[0].Open)
	assert.Equal(t, int64(23456), bars[1].Volume)
}

func TestHTTPProvider_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		wantIs error
	}{
		{"server error is transient", http.StatusInternalServerError, ErrTransient},
		{"throttling is transient", http.StatusTooManyRequests, ErrTransient},
		{"auth failure is fatal", http.StatusUnauthorized, ErrFatal},
		{"bad request is fatal", http.StatusBadRequest, ErrFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			p, err := NewHTTPProvider(HTTPProviderConfig{Name: "barchart", BaseURL: srv.URL})
			require.NoError(t, err)

			_, err = p.DailyBars(context.Background(), "ESZ6", time.Now(), time.Now())
			assert.ErrorIs(t, err, tt.wantIs)
		})
	}
}

func TestHTTPProvider_ConnectionFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	p, err := NewHTTPProvider(HTTPProviderConfig{Name: "barchart", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.DailyBars(context.Background(), "ESZ6", time.Now(), time.Now())
	assert.ErrorIs(t, err, ErrTransient)
}

func TestHTTPProvider_MalformedResponseIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("date,open\n2026-08-20,1\n"))
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(HTTPProviderConfig{Name: "barchart", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.DailyBars(context.Background(), "ESZ6", time.Now(), time.Now())
	assert.ErrorIs(t, err, ErrFatal)
}
