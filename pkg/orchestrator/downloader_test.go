package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/statwerk/istat-client/internal/testutil"
	"github.com/statwerk/istat-client/pkg/cache"
	"github.com/statwerk/istat-client/pkg/normalize"
	"github.com/statwerk/istat-client/pkg/protocol"
	"github.com/statwerk/istat-client/pkg/ratelimit"
	"github.com/statwerk/istat-client/pkg/transport"
)

// newTestDownloader wires a downloader against the mock server with an
// in-memory cache and throttle delays shrunk to keep tests fast.
func newTestDownloader(t *testing.T, mock *testutil.MockSDMX) (*Downloader, *cache.Manager) {
	t.Helper()

	limiter := ratelimit.New(ratelimit.Config{
		MinDelay:       time.Millisecond,
		JitterFraction: 0,
		BanThreshold:   3,
	}, zerolog.Nop())

	tr := transport.New(transport.NewNetHTTPStrategy(), limiter, transport.Config{
		MaxRetries:        3,
		InitialBackoff:    time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        10 * time.Millisecond,
		RequestTimeout:    5 * time.Second,
		UserAgent:         "istat-client-test",
	}, zerolog.Nop())

	builder, err := protocol.NewBuilder(protocol.DialectV1, protocol.BuilderConfig{BaseURL: mock.URL()})
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}

	manager := cache.NewManager(cache.NewMemoryStore(), cache.DefaultConfig(), zerolog.Nop())
	return New(builder, tr, manager, zerolog.Nop()), manager
}

func TestDownload_Success(t *testing.T) {
	mock := testutil.NewMockSDMX()
	defer mock.Close()
	mock.SetResponse("/rest/data/150_908/ALL/all", testutil.NewCSVResponse(
		"DATAFLOW,FREQ,TIME_PERIOD,OBS_VALUE\nIT1:150_908(1.0),M,2024-01,100\nIT1:150_908(1.0),M,2024-02,200\n"))

	downloader, manager := newTestDownloader(t, mock)
	result := downloader.Download(context.Background(), Request{DatasetID: "150_908"})

	if !result.Success {
		t.Fatalf("Download() failed: %s", result.Message)
	}
	if result.ExitCode != transport.ExitSuccess {
		t.Errorf("ExitCode = %d, want %d", result.ExitCode, transport.ExitSuccess)
	}
	if len(result.Data.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(result.Data.Rows))
	}
	for _, col := range result.Data.Columns {
		if col == "DATAFLOW" {
			t.Error("DATAFLOW column should be dropped during normalization")
		}
	}
	if result.Checksum == "" {
		t.Error("Checksum should be set on success")
	}

	// A successful download is logged for later update detection.
	entry, err := manager.DownloadLog(context.Background(), "150_908")
	if err != nil {
		t.Fatalf("DownloadLog() error = %v", err)
	}
	if entry.DatasetID != "150_908" {
		t.Errorf("logged dataset = %s, want 150_908", entry.DatasetID)
	}
}

func TestDownload_CheckUpdateSkipsUnchangedDataset(t *testing.T) {
	mock := testutil.NewMockSDMX()
	defer mock.Close()
	mock.SetResponse("/rest/data/150_908/ALL/all", testutil.NewCSVResponse(
		"FREQ,TIME_PERIOD,OBS_VALUE\nM,2024-01,100\n"))

	downloader, _ := newTestDownloader(t, mock)
	req := Request{
		DatasetID:        "150_908",
		CheckUpdate:      true,
		RemoteLastUpdate: "2024-05-01T00:00:00",
	}

	first := downloader.Download(context.Background(), req)
	if !first.Success {
		t.Fatalf("first Download() failed: %s", first.Message)
	}
	if mock.GetDataRequestCount() != 1 {
		t.Fatalf("data requests after first call = %d, want 1", mock.GetDataRequestCount())
	}

	// Unchanged remote last-update: no data body fetch on the second call.
	second := downloader.Download(context.Background(), req)
	if !second.Success {
		t.Fatalf("second Download() failed: %s", second.Message)
	}
	if !strings.Contains(second.Message, "no update") {
		t.Errorf("second message = %q, want no-update signal", second.Message)
	}
	if second.Data != nil {
		t.Error("no-update result should carry no data")
	}
	if mock.GetDataRequestCount() != 1 {
		t.Errorf("data requests after second call = %d, want 1 (no re-fetch)", mock.GetDataRequestCount())
	}

	// A changed remote last-update triggers a real download again.
	req.RemoteLastUpdate = "2024-06-01T00:00:00"
	third := downloader.Download(context.Background(), req)
	if !third.Success {
		t.Fatalf("third Download() failed: %s", third.Message)
	}
	if mock.GetDataRequestCount() != 2 {
		t.Errorf("data requests after third call = %d, want 2", mock.GetDataRequestCount())
	}
}

func TestDownload_HTTPFailure(t *testing.T) {
	mock := testutil.NewMockSDMX()
	defer mock.Close()
	mock.SetResponse("/rest/data/MISSING/ALL/all", testutil.NewNotFoundResponse())

	downloader, manager := newTestDownloader(t, mock)
	result := downloader.Download(context.Background(), Request{DatasetID: "MISSING"})

	if result.Success {
		t.Fatal("Download() succeeded, want failure")
	}
	if result.ExitCode != transport.ExitGenericError {
		t.Errorf("ExitCode = %d, want %d", result.ExitCode, transport.ExitGenericError)
	}

	// Failed downloads must not be logged.
	if _, err := manager.DownloadLog(context.Background(), "MISSING"); err == nil {
		t.Error("DownloadLog() should report no entry after a failed download")
	}
}

func TestDownload_MalformedBody(t *testing.T) {
	mock := testutil.NewMockSDMX()
	defer mock.Close()
	mock.SetResponse("/rest/data/150_908/ALL/all", testutil.NewJSONResponse(`{"not": "an array"`))

	downloader, _ := newTestDownloader(t, mock)
	result := downloader.Download(context.Background(), Request{DatasetID: "150_908"})

	if result.Success {
		t.Fatal("Download() succeeded on malformed body, want failure")
	}
	if result.ExitCode != transport.ExitGenericError {
		t.Errorf("ExitCode = %d, want %d", result.ExitCode, transport.ExitGenericError)
	}
}

func TestDownload_IncrementalAndFrequencyFilters(t *testing.T) {
	mock := testutil.NewMockSDMX()
	defer mock.Close()
	mock.SetResponse("/rest/data/150_908/ALL/all", testutil.NewCSVResponse(
		"FREQ,TIME_PERIOD,OBS_VALUE\n"+
			"M,2023-12,1\n"+
			"M,2024-01,2\n"+
			"Q,2024-01,3\n"+
			"M,2024-02,4\n"))

	downloader, _ := newTestDownloader(t, mock)
	result := downloader.Download(context.Background(), Request{
		DatasetID:        "150_908",
		Frequency:        "M",
		IncrementalStart: "2024-01",
	})

	if !result.Success {
		t.Fatalf("Download() failed: %s", result.Message)
	}
	if len(result.Data.Rows) != 2 {
		t.Fatalf("rows = %d, want 2 (monthly, 2024-01 onward)", len(result.Data.Rows))
	}
	for _, row := range result.Data.Rows {
		if row["FREQ"] != "M" {
			t.Errorf("row frequency = %s, want M", row["FREQ"])
		}
		if row[normalize.TimePeriodColumn] < "2024-01" {
			t.Errorf("row period = %s, want >= 2024-01", row[normalize.TimePeriodColumn])
		}
	}
}

func TestDownload_LatestEditionSelection(t *testing.T) {
	mock := testutil.NewMockSDMX()
	defer mock.Close()
	mock.SetResponse("/rest/data/150_908/ALL/all", testutil.NewCSVResponse(
		"EDITION,TIME_PERIOD,OBS_VALUE\n"+
			"G_2023_12,2023-11,1\n"+
			"G_2024_02,2023-11,2\n"+
			"G_2023_12,2023-12,3\n"))

	downloader, _ := newTestDownloader(t, mock)
	result := downloader.Download(context.Background(), Request{
		DatasetID:           "150_908",
		SelectLatestEdition: true,
		EditionColumn:       "EDITION",
	})

	if !result.Success {
		t.Fatalf("Download() failed: %s", result.Message)
	}
	if len(result.Data.Rows) != 1 {
		t.Fatalf("rows = %d, want 1 (latest edition only)", len(result.Data.Rows))
	}
	if got := result.Data.Rows[0]["EDITION"]; got != "G_2024_02" {
		t.Errorf("edition = %s, want G_2024_02", got)
	}
}

func TestDownload_MissingEditionColumn(t *testing.T) {
	mock := testutil.NewMockSDMX()
	defer mock.Close()

	downloader, _ := newTestDownloader(t, mock)
	result := downloader.Download(context.Background(), Request{
		DatasetID:           "150_908",
		SelectLatestEdition: true,
	})

	if result.Success {
		t.Fatal("Download() succeeded without an edition column, want failure")
	}
}

func TestDownload_MergeWithPrior(t *testing.T) {
	mock := testutil.NewMockSDMX()
	defer mock.Close()
	mock.SetResponse("/rest/data/150_908/ALL/all", testutil.NewCSVResponse(
		"TIME_PERIOD,OBS_VALUE\n2024-02,250\n2024-03,300\n"))

	prior := &normalize.Table{
		Columns: []string{normalize.TimePeriodColumn, normalize.ValueColumn},
		Rows: []map[string]string{
			{normalize.TimePeriodColumn: "2024-01", normalize.ValueColumn: "100"},
			{normalize.TimePeriodColumn: "2024-02", normalize.ValueColumn: "200"},
		},
	}

	downloader, _ := newTestDownloader(t, mock)
	result := downloader.Download(context.Background(), Request{DatasetID: "150_908", Prior: prior})

	if !result.Success {
		t.Fatalf("Download() failed: %s", result.Message)
	}
	if len(result.Data.Rows) != 3 {
		t.Fatalf("merged rows = %d, want 3", len(result.Data.Rows))
	}
	if result.Data.Rows[1][normalize.ValueColumn] != "250" {
		t.Errorf("conflicting row value = %s, want 250 (fresh download wins)", result.Data.Rows[1][normalize.ValueColumn])
	}
}

func TestDownloadBatch_IsolatesFailures(t *testing.T) {
	mock := testutil.NewMockSDMX()
	defer mock.Close()
	mock.SetResponse("/rest/data/GOOD/ALL/all", testutil.NewCSVResponse(
		"TIME_PERIOD,OBS_VALUE\n2024-01,1\n"))
	mock.SetResponse("/rest/data/BAD/ALL/all", testutil.NewNotFoundResponse())

	downloader, _ := newTestDownloader(t, mock)
	items := downloader.DownloadBatch(context.Background(), []Request{
		{DatasetID: "BAD"},
		{DatasetID: "GOOD"},
	}, BatchOptions{Parallelism: 8})

	if len(items) != 2 {
		t.Fatalf("batch items = %d, want 2", len(items))
	}
	if items[0].Result.Success {
		t.Error("BAD item should fail")
	}
	if items[0].Result.Message == "" {
		t.Error("failed item should carry a failure reason")
	}
	if !items[1].Result.Success {
		t.Errorf("GOOD item failed: %s", items[1].Result.Message)
	}
}

func TestCodelist_CachedAfterFirstFetch(t *testing.T) {
	mock := testutil.NewMockSDMX()
	defer mock.Close()
	mock.SetResponse("/rest/codelist/IT1/CL_FREQ", testutil.NewJSONResponse(`{"id": "CL_FREQ"}`))

	downloader, _ := newTestDownloader(t, mock)
	ctx := context.Background()

	first, err := downloader.Codelist(ctx, "CL_FREQ")
	if err != nil {
		t.Fatalf("Codelist() error = %v", err)
	}
	if mock.GetRequestCount() != 1 {
		t.Fatalf("requests after first call = %d, want 1", mock.GetRequestCount())
	}

	second, err := downloader.Codelist(ctx, "CL_FREQ")
	if err != nil {
		t.Fatalf("Codelist() second call error = %v", err)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("requests after second call = %d, want 1 (served from cache)", mock.GetRequestCount())
	}
	if string(first) != string(second) {
		t.Error("cached payload differs from fetched payload")
	}
}

func TestDataflowCatalog_CachedAfterFirstFetch(t *testing.T) {
	mock := testutil.NewMockSDMX()
	defer mock.Close()
	mock.SetResponse("/rest/dataflow/IT1", testutil.NewJSONResponse(`{"dataflows": []}`))

	downloader, _ := newTestDownloader(t, mock)
	ctx := context.Background()

	if _, err := downloader.DataflowCatalog(ctx); err != nil {
		t.Fatalf("DataflowCatalog() error = %v", err)
	}
	if _, err := downloader.DataflowCatalog(ctx); err != nil {
		t.Fatalf("DataflowCatalog() second call error = %v", err)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("requests = %d, want 1 (catalog cached)", mock.GetRequestCount())
	}
}

func TestRefreshMetadata_ForceRefetchesCachedEntries(t *testing.T) {
	mock := testutil.NewMockSDMX()
	defer mock.Close()
	mock.SetResponse("/rest/codelist/IT1/CL_FREQ", testutil.NewJSONResponse(`{"id": "CL_FREQ", "version": 1}`))

	downloader, manager := newTestDownloader(t, mock)
	ctx := context.Background()

	if _, err := downloader.Codelist(ctx, "CL_FREQ"); err != nil {
		t.Fatalf("Codelist() error = %v", err)
	}

	mock.SetResponse("/rest/codelist/IT1/CL_FREQ", testutil.NewJSONResponse(`{"id": "CL_FREQ", "version": 2}`))

	refreshed, err := downloader.RefreshMetadata(ctx, nil, true)
	if err != nil {
		t.Fatalf("RefreshMetadata() error = %v", err)
	}
	if len(refreshed) != 1 {
		t.Fatalf("refreshed = %v, want 1 key", refreshed)
	}

	payload, _, err := manager.Get(ctx, cache.CodelistKey("CL_FREQ"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !strings.Contains(string(payload), `"version": 2`) {
		t.Errorf("payload = %s, want refreshed version 2", payload)
	}
}
