package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estimo/server/internal/database"
	"estimo/server/internal/models"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func collaborators(t *testing.T, found bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/geocode", func(w http.ResponseWriter, r *http.Request) {
		var req models.GeocodeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "France", req.Country)

		lon, lat := 2.3912, 48.8440
		res := models.GeocodeResult{Success: found}
		if found {
			res.Longitude, res.Latitude = &lon, &lat
		}
		_ = json.NewEncoder(w).Encode(res)
	})
	mux.HandleFunc("/api/predict", func(w http.ResponseWriter, r *http.Request) {
		var req models.ValuationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 75012, req.PostalCode)
		assert.Equal(t, 60.0, req.SurfaceM2)

		_ = json.NewEncoder(w).Encode(models.ValuationResult{
			Success:                 true,
			Prediction:              612000,
			PredictedPriceFormatted: "612,000.00 €",
			PricePerM2Formatted:     "10,200.00 €/m²",
			PostalCode:              "75012",
			PriceHistory: []models.PricePoint{
				{Date: "2024-02-01", PricePerM2: 10100},
				{Date: "2024-01-01", PricePerM2: 9800},
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Setenv("API_URL", srv.URL+"/api")
	return srv
}

var estimateArgs = []string{
	"estimate",
	"--numero", "13", "--rue", "rue Lasson", "--ville", "Paris", "--code-postal", "75012",
	"--type", "2", "--pieces", "3", "--surface", "60",
}

func TestEstimateCommand(t *testing.T) {
	collaborators(t, true)

	out, _, err := run(t, append(estimateArgs, "--json=false")...)
	require.NoError(t, err)

	assert.Contains(t, out, "Estimation calculée avec succès !")
	assert.Contains(t, out, "612,000.00 €")
	assert.Contains(t, out, "10,200.00 €/m²")
	assert.Regexp(t, `2024-01-01\s+9800 €/m²\n\s+2024-02-01\s+10100 €/m² ◀`, out)
}

func TestEstimateCommand_JSON(t *testing.T) {
	collaborators(t, true)

	out, _, err := run(t, append(estimateArgs, "--json")...)
	require.NoError(t, err)

	var payload struct {
		Notice struct {
			Severity string `json:"severity"`
		} `json:"notice"`
		Estimate struct {
			Result models.ValuationResult `json:"result"`
		} `json:"estimate"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, "success", payload.Notice.Severity)
	assert.Equal(t, 612000.0, payload.Estimate.Result.Prediction)
}

func TestEstimateCommand_AddressNotFound(t *testing.T) {
	collaborators(t, false)

	_, stderr, err := run(t, append(estimateArgs, "--json=false")...)
	require.Error(t, err)
	assert.Contains(t, stderr, "[error] Impossible de géolocaliser cette adresse")
}

const dvfHeader = "id_mutation,date_mutation,nature_mutation,valeur_fonciere,code_postal,code_type_local,lot1_surface_carrez,nombre_pieces_principales,longitude,latitude\n"

func TestImportCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sales.db")
	csvPath := filepath.Join(dir, "dvf.csv")
	metricsPath := filepath.Join(dir, "import.prom")

	csv := dvfHeader +
		"a,2024-01-15,Vente,450000,75012,2,45,2,2.39,48.84\n" +
		"a,2024-01-15,Vente,450000,75012,2,12,1,2.39,48.84\n" +
		"b,2024-02-03,Vente,620000,75012,1,90,4,2.39,48.84\n" +
		"c,2024-02-04,Vente,300000,75012,2,30,0,2.39,48.84\n" +
		"d,2024-03-04,Vente,310000,75012,2,31,1,2.39,48.84\n"
	require.NoError(t, os.WriteFile(csvPath, []byte(csv), 0644))
	t.Setenv("BATCH_RETRY_DELAY", "10ms")

	out, _, err := run(t, "import", csvPath,
		"--db", dbPath, "--batch-size", "1", "--apartments-only", "--metrics-file", metricsPath)
	require.NoError(t, err)

	assert.Contains(t, out, "Lignes lues:      5")
	assert.Contains(t, out, "Ventes retenues:  2")
	assert.Contains(t, out, "Ventes écrites:   2")
	assert.Contains(t, out, "Ventes en base:   2")
	assert.Regexp(t, `duplicate\s+1`, out)
	assert.Regexp(t, `property_type\s+1`, out)
	assert.Regexp(t, `zero_rooms\s+1`, out)

	prom, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "estimo_imported_sales_total 2")
	assert.Contains(t, string(prom), `estimo_import_skipped_rows_total{reason="duplicate"} 1`)

	db, err := database.NewDatabase(dbPath, nil)
	require.NoError(t, err)
	defer db.Close()
	n, err := db.CountSales(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestImportCommand_BadComma(t *testing.T) {
	_, _, err := run(t, "import", "whatever.csv", "--comma", ";;")
	assert.ErrorContains(t, err, "single character")
}
