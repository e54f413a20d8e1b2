package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	tel, err := Setup(context.Background(), Config{ServiceName: "ratecheck-test"})
	require.NoError(t, err)
	assert.False(t, tel.Enabled())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestSignalURL(t *testing.T) {
	assert.Equal(t, "http://collector:4318/v1/traces", signalURL("http://collector:4318/", "traces"))
	assert.Equal(t, "http://collector:4318/v1/metrics", signalURL("http://collector:4318", "metrics"))
}

func TestInstrumentRestyKeepsRequestsWorking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := resty.New().SetBaseURL(srv.URL)
	InstrumentResty(client, "test")

	res, err := client.R().SetContext(context.Background()).Get("/")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.String())

	res, err = client.R().Get("/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode())
}
