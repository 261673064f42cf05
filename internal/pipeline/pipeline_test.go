package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/michaelpawlus/990-beacon/internal/archive"
	"github.com/michaelpawlus/990-beacon/internal/config"
	"github.com/michaelpawlus/990-beacon/internal/index"
	"github.com/michaelpawlus/990-beacon/internal/model"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// Every pooled connection to :memory: is its own database; pin the
	// pool to one connection so migrations and queries agree.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(model.All()...))
	return db
}

func filingXML(ein, name string) string {
	return fmt.Sprintf(`<Return xmlns="http://www.irs.gov/efile">
  <ReturnHeader>
    <TaxYr>2023</TaxYr>
    <ReturnTypeCd>990</ReturnTypeCd>
    <Filer>
      <EIN>%s</EIN>
      <BusinessName><BusinessNameLine1Txt>%s</BusinessNameLine1Txt></BusinessName>
      <USAddress><CityNm>Portland</CityNm><StateAbbreviationCd>OR</StateAbbreviationCd></USAddress>
    </Filer>
  </ReturnHeader>
  <ReturnData>
    <IRS990><CYTotalRevenueAmt>1000</CYTotalRevenueAmt></IRS990>
  </ReturnData>
</Return>`, ein, name)
}

func buildZip(t *testing.T, members map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range members {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// fakeBucket serves an index manifest and one batch archive the way the
// public IRS bucket lays them out.
func fakeBucket(indexCSV string, zipBody []byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/irs-form-990/index_2023.csv":
			w.Write([]byte(indexCSV))
		case "/irs-form-990/2023/2023_batch_1.zip":
			w.Header().Set("Content-Length", strconv.Itoa(len(zipBody)))
			if r.Method != http.MethodHead {
				w.Write(zipBody)
			}
		default:
			http.NotFound(w, r)
		}
	}))
}

func testPipeline(t *testing.T, endpoint string, db *gorm.DB) *Pipeline {
	t.Helper()
	cfg := &config.Config{
		S3Bucket:               "irs-form-990",
		S3Region:               "us-east-1",
		S3Endpoint:             endpoint,
		IndexKeyTemplate:       "index_%d.csv",
		ArchiveKeyTemplate:     "%d/%s.zip",
		XMLURLTemplate:         "https://s3.amazonaws.com/irs-form-990/%s_public.xml",
		MaxRetries:             3,
		RetryBackoffBase:       2,
		MaxArchiveBytes:        10 * 1024 * 1024,
		DownloadChunkBytes:     1024,
		HistoricalYears:        []int{2023},
		HistoricalDefaultLimit: 100000,
		ProgressLogEvery:       1000,
		MemoryLogEvery:         0,
	}
	client := s3.New(s3.Options{
		Region:       "us-east-1",
		Credentials:  aws.AnonymousCredentials{},
		BaseEndpoint: aws.String(endpoint),
		UsePathStyle: true,
		Retryer:      aws.NopRetryer{},
	})
	log := testLog()
	return New(cfg, db, index.NewResolver(client, cfg, log), archive.NewFetcher(client, cfg, log), nil, log)
}

const endToEndIndex = `RETURN_TYPE,EIN,TAXPAYER_NAME,TAX_PERIOD,SUB_DATE,OBJECT_ID,XML_BATCH_ID
990,123456789,ALPHA ORG,202312,2023-06-01,obj-alpha,2023_batch_1
990,987654321,BETA ORG,202312,2023-06-01,obj-beta,2023_batch_1
990T,999999999,TAXABLE ORG,202312,2023-06-01,obj-taxable,2023_batch_1
`

func TestRunEndToEnd(t *testing.T) {
	zipBody := buildZip(t, map[string]string{
		"obj-alpha_public.xml":   filingXML("123456789", "Alpha Org"),
		"obj-beta_public.xml":    filingXML("987654321", "Beta Org"),
		"obj-taxable_public.xml": filingXML("999999999", "Taxable Org"),
	})
	server := fakeBucket(endToEndIndex, zipBody)
	defer server.Close()

	db := testDB(t)
	p := testPipeline(t, server.URL, db)

	counters := p.Run(context.Background(), ModeHistorical, 0)

	// The 990T row is filtered from the index, so its document in the
	// archive is discarded untouched.
	assert.Equal(t, Counters{Total: 2, Succeeded: 2, Skipped: 0, Errors: 0}, counters)

	var filings int64
	require.NoError(t, db.Model(&model.Filing{}).Count(&filings).Error)
	assert.Equal(t, int64(2), filings)

	var orgs int64
	require.NoError(t, db.Model(&model.Organization{}).Count(&orgs).Error)
	assert.Equal(t, int64(2), orgs)

	var filing model.Filing
	require.NoError(t, db.Where("object_id = ?", "obj-alpha").First(&filing).Error)
	assert.Equal(t, 2023, filing.TaxYear)
	require.NotNil(t, filing.RawXMLURL)
	assert.Equal(t, "https://s3.amazonaws.com/irs-form-990/obj-alpha_public.xml", *filing.RawXMLURL)
	require.NotNil(t, filing.FilingDate)

	var run model.IngestRun
	require.NoError(t, db.First(&run).Error)
	assert.Equal(t, ModeHistorical, run.Mode)
	assert.JSONEq(t, `{"total":2,"succeeded":2,"skipped":0,"errors":0}`, string(run.Counters))
}

func TestRunIsIdempotentAcrossRuns(t *testing.T) {
	zipBody := buildZip(t, map[string]string{
		"obj-alpha_public.xml": filingXML("123456789", "Alpha Org"),
		"obj-beta_public.xml":  filingXML("987654321", "Beta Org"),
	})
	server := fakeBucket(endToEndIndex, zipBody)
	defer server.Close()

	db := testDB(t)
	p := testPipeline(t, server.URL, db)

	first := p.Run(context.Background(), ModeHistorical, 0)
	second := p.Run(context.Background(), ModeHistorical, 0)

	assert.Equal(t, 2, first.Succeeded)
	assert.Equal(t, Counters{Total: 2, Succeeded: 0, Skipped: 2, Errors: 0}, second)

	var filings int64
	require.NoError(t, db.Model(&model.Filing{}).Count(&filings).Error)
	assert.Equal(t, int64(2), filings)
}

func TestRunIsolatesBadDocuments(t *testing.T) {
	zipBody := buildZip(t, map[string]string{
		"obj-alpha_public.xml": "not xml at all <<<>",
		"obj-beta_public.xml":  filingXML("987654321", "Beta Org"),
	})
	server := fakeBucket(endToEndIndex, zipBody)
	defer server.Close()

	db := testDB(t)
	counters := testPipeline(t, server.URL, db).Run(context.Background(), ModeHistorical, 0)

	assert.Equal(t, 2, counters.Total)
	assert.Equal(t, 1, counters.Succeeded)
	assert.Equal(t, 1, counters.Errors)

	var filings int64
	require.NoError(t, db.Model(&model.Filing{}).Count(&filings).Error)
	assert.Equal(t, int64(1), filings)
}

func TestRunStopsAtLimit(t *testing.T) {
	zipBody := buildZip(t, map[string]string{
		"obj-alpha_public.xml": filingXML("123456789", "Alpha Org"),
		"obj-beta_public.xml":  filingXML("987654321", "Beta Org"),
	})
	server := fakeBucket(endToEndIndex, zipBody)
	defer server.Close()

	counters := testPipeline(t, server.URL, testDB(t)).Run(context.Background(), ModeHistorical, 1)

	assert.Equal(t, 1, counters.Total)
	assert.Equal(t, 1, counters.Succeeded)
}

func TestRunMissingIndexIsEmptyRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	counters := testPipeline(t, server.URL, testDB(t)).Run(context.Background(), ModeIncremental, 0)
	assert.Equal(t, Counters{}, counters)
}

// TestProcessDocumentReleasesTransactionOnPanic pins the connection pool to
// one connection: if a panicking load left its transaction open, the
// follow-up query could never acquire a connection.
func TestProcessDocumentReleasesTransactionOnPanic(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.Callback().Create().Before("gorm:create").
		Register("panic_on_create", func(*gorm.DB) { panic("create blew up") }))

	p := &Pipeline{
		cfg: &config.Config{XMLURLTemplate: "https://s3.amazonaws.com/irs-form-990/%s_public.xml"},
		db:  db,
		log: testLog(),
	}

	entry := index.Entry{ObjectID: "obj-panic", SubDate: "2023-06-01"}
	got := p.processDocument(context.Background(), entry, []byte(filingXML("123456789", "Alpha Org")))
	assert.Equal(t, outcomeErrored, got)

	done := make(chan error, 1)
	go func() {
		var n int64
		done <- db.Model(&model.Filing{}).Count(&n).Error
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("follow-up query blocked: transaction still open after panic")
	}
}

func TestParseSubDate(t *testing.T) {
	assert.Nil(t, parseSubDate(""))
	assert.Nil(t, parseSubDate("not a date"))

	got := parseSubDate("2023-06-01")
	require.NotNil(t, got)
	assert.Equal(t, 2023, got.Year())

	got = parseSubDate("06-01-2023")
	require.NotNil(t, got)
	assert.Equal(t, 2023, got.Year())
	assert.Equal(t, time.June, got.Month())

	got = parseSubDate("6/1/2023 12:00:00 AM")
	require.NotNil(t, got)
	assert.Equal(t, 2023, got.Year())
}
