package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"datachat/internal/auth"
	"datachat/internal/config"
	"datachat/internal/logging"
	"datachat/internal/service/ai"
	"datachat/internal/session"
)

const sampleCSV = "age,smoker,charges\n19,yes,16884.924\n18,no,1725.5523\n28,no,4449.462\n33,no,21984.47061\n"

func writeCSV(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "insurance.csv")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DATACHAT_CONFIG", "")
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("DATACHAT_CONFIG", "")
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestDescribeText(t *testing.T) {
	out, err := runRoot(t, "describe", "--dataset", writeCSV(t, sampleCSV))
	require.NoError(t, err)
	assert.Contains(t, out, "Dataset loaded: 4 rows, 3 columns")
	assert.Contains(t, out, "Data Summary")
	assert.Contains(t, out, "Correlation Heatmap")
	assert.Contains(t, out, "count")
	assert.Contains(t, out, "1.00")
}

func TestDescribeJSON(t *testing.T) {
	out, err := runRoot(t, "describe", "--format", "json", "--dataset", writeCSV(t, sampleCSV))
	require.NoError(t, err)

	var report datasetReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 4, report.Rows)
	require.Len(t, report.Columns, 3)
	assert.Equal(t, "object", report.Columns[1].Dtype)
	assert.Equal(t, []string{"age", "charges"}, report.Summary.Columns)
	assert.Equal(t, []string{"age", "charges"}, report.Correlations.Columns)
	assert.Equal(t, "1.00", report.Correlations.Values[0][0])
}

func TestDescribeYAMLWithoutNumericColumns(t *testing.T) {
	out, err := runRoot(t, "describe", "-f", "yaml", "--dataset", writeCSV(t, "sex,region\nmale,north\n"))
	require.NoError(t, err)

	var report datasetReport
	require.NoError(t, yaml.Unmarshal([]byte(out), &report))
	assert.Equal(t, "No numeric columns found for correlation.", report.Correlations.Message)
	assert.Empty(t, report.Correlations.Columns)
}

func TestDescribeRejectsUnknownFormat(t *testing.T) {
	_, err := runRoot(t, "describe", "--format", "xml", "--dataset", writeCSV(t, sampleCSV))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestDescribeMissingDataset(t *testing.T) {
	_, err := runRoot(t, "describe", "--dataset", filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
}

func TestAskWithoutKey(t *testing.T) {
	t.Setenv(envAPIKey, "")
	_, err := runRoot(t, "ask", "--dataset", writeCSV(t, sampleCSV), "what", "is", "this?")
	require.ErrorIs(t, err, errNoAPIKey)
}

func TestResolveAPIKeyOrder(t *testing.T) {
	t.Setenv(envAPIKey, "from-env")
	key, err := resolveAPIKey(" from-flag ", strings.NewReader(""), &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "from-flag", key)

	key, err = resolveAPIKey("", strings.NewReader(""), &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "from-env", key)

	t.Setenv(envAPIKey, "")
	_, err = resolveAPIKey("", strings.NewReader(""), &bytes.Buffer{})
	assert.ErrorIs(t, err, errNoAPIKey)
}

func TestPrintAnswerRawOnPipes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printAnswer(&buf, "**bold**", false))
	assert.Equal(t, "**bold**\n", buf.String())
}

func TestNewSessionStoreBackends(t *testing.T) {
	cfg := defaultConfig(t)
	ctx := context.Background()

	store, closer, err := newSessionStore(ctx, cfg)
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.IsType(t, &session.MemoryStore{}, store)

	cfg.Session.Backend = "sqlite"
	db := cfg.Databases["sqlite3"]
	db.DSN = "file:" + t.Name() + "?mode=memory&cache=shared"
	cfg.Databases["sqlite3"] = db
	store, closer, err = newSessionStore(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, closer)
	defer closer()

	st := session.New("abc", time.Now())
	st.ShowSummary = true
	require.NoError(t, store.Save(ctx, st))
	got, err := store.Load(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, got.ShowSummary)

	cfg.Session.Backend = "etcd"
	_, _, err = newSessionStore(ctx, cfg)
	assert.Error(t, err)
}

func TestAppServesRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := defaultConfig(t)
	cfg.Dataset.Path = writeCSV(t, sampleCSV)

	a, err := newApp(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.Close()) }()

	authService, err := auth.NewService(auth.Options{})
	require.NoError(t, err)
	router := a.router(authService)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Dataset loaded: 4 rows, 3 columns")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "datachat_dataset_loads_total")
}

func TestNewAnalystRejectsUnknownProvider(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Analysis.Provider = "llama"
	_, err := newAnalyst(cfg, logging.NewNop())
	assert.ErrorIs(t, err, ai.ErrUnknownProvider)
}
