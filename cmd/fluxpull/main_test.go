package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxpull/fluxpull/internal/config"
	"github.com/fluxpull/fluxpull/internal/fluxnet"
)

func fakePortal(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/whoami", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("cpauthToken"); err != nil || c.Value != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"email":"ops@example.org"}`))
	})
	mux.HandleFunc("/sparql", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/sparql-results+json")
		if strings.Contains(r.PostForm.Get("query"), "hasStationId") {
			_, _ = w.Write([]byte(`{"head":{"vars":["uri","id","name"]},"results":{"bindings":[
				{"uri":{"type":"uri","value":"http://meta.icos-cp.eu/resources/stations/ES_ES-LM1"},
				 "id":{"type":"literal","value":"ES-LM1"},
				 "name":{"type":"literal","value":"Majadas del Tietar North"}}]}}`))
			return
		}
		_, _ = w.Write([]byte(`{"head":{"vars":["dobj","specLabel"]},"results":{"bindings":[
			{"dobj":{"type":"uri","value":"https://meta.icos-cp.eu/objects/archive"},"specLabel":{"type":"literal","value":"Fluxnet Archive Product"}},
			{"dobj":{"type":"uri","value":"https://meta.icos-cp.eu/objects/hh01"},"specLabel":{"type":"literal","value":"Fluxnet Product"}}]}}`))
	})
	mux.HandleFunc("/csv/hh01", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("TIMESTAMP,VALUE\n201401010000,1\n201401010030,2\n201401010100,3\n"))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testConfig(t *testing.T, url string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ICOS.Token = "cpauthToken=tok"
	cfg.ICOS.AuthURL = url
	cfg.ICOS.MetaURL = url
	cfg.ICOS.DataURL = url
	cfg.Output.Dir = filepath.Join(t.TempDir(), "data", "exp_raw", "ICOS")
	return cfg
}

func TestRun_WritesDataset(t *testing.T) {
	server := fakePortal(t)
	cfg := testConfig(t, server.URL)

	require.NoError(t, run(cfg, zerolog.Nop()))

	data, err := os.ReadFile(filepath.Join(cfg.Output.Dir, "ICOS_FLUXNET_ES_LM1.csv"))
	require.NoError(t, err)
	assert.Equal(t, "time,VALUE\n201401010000,1\n201401010030,2\n201401010100,3\n", string(data))
}

func TestRun_BadTokenFails(t *testing.T) {
	server := fakePortal(t)
	cfg := testConfig(t, server.URL)
	cfg.ICOS.Token = "expired"

	err := run(cfg, zerolog.Nop())

	require.ErrorIs(t, err, fluxnet.ErrAuthentication)
	_, statErr := os.Stat(cfg.Output.Dir)
	assert.True(t, os.IsNotExist(statErr), "nothing is written on failure")
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := config.Default()

	err := run(cfg, zerolog.Nop())
	assert.ErrorIs(t, err, config.ErrMissingToken)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"message":"shown"`)
	assert.Contains(t, out, `"service":"fluxpull"`)
}

func TestNewLogger_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(config.LogConfig{Level: ""}, &buf)

	log.Debug().Msg("hidden")
	log.Info().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
