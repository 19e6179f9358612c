package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/parkedge/internal/clock"
	"github.com/BrandonDHaskell/parkedge/internal/coord"
	"github.com/BrandonDHaskell/parkedge/internal/evidence"
	"github.com/BrandonDHaskell/parkedge/internal/httpapi"
	"github.com/BrandonDHaskell/parkedge/internal/parking/service"
	"github.com/BrandonDHaskell/parkedge/internal/parking/store"
	"github.com/BrandonDHaskell/parkedge/internal/parking/store/memory"
	"github.com/BrandonDHaskell/parkedge/internal/parking/types"
)

// Monday.
var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type fixture struct {
	ts       *httptest.Server
	ledger   *memory.Ledger
	coord    *coord.Coordinator
	evidence *evidence.Store
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFixture wires the dashboard against an in-memory ledger and returns
// an httptest.Server whose URL can be hit with a plain http.Client.
func newFixture(t *testing.T, extra func(*httpapi.Dependencies)) *fixture {
	t.Helper()

	clk := clock.NewManual(now)
	l := memory.New().WithNow(clk.Now)
	c := coord.New()
	ev, err := evidence.New(t.TempDir(), clk)
	require.NoError(t, err)

	gate := service.NewGateService(service.GateDependencies{
		Ledger: l,
		Coord:  c,
		Clock:  clk,
		Logger: silentLogger(),
	})

	deps := httpapi.Dependencies{
		Logger:   silentLogger(),
		Addr:     ":0",
		Ledger:   l,
		Gate:     gate,
		Evidence: ev,
		Clock:    clk,
	}
	if extra != nil {
		extra(&deps)
	}
	srv := httpapi.NewServer(deps)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{ts: ts, ledger: l, coord: c, evidence: ev}
}

func (f *fixture) seed(t *testing.T, plate, token string, at time.Time, st store.Status) int64 {
	t.Helper()
	id, err := store.InsertEntry(context.Background(), f.ledger, plate, token, at, "", st)
	require.NoError(t, err)
	return id
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

// ── History / inside / stats ─────────────────────────────────────────────────

func TestHistory_PagesNewestFirst(t *testing.T) {
	f := newFixture(t, nil)
	for i, plate := range []string{"AAA111", "BBB222", "CCC333"} {
		f.seed(t, plate, "T"+plate, now.Add(time.Duration(i-3)*time.Hour), store.StatusInside)
	}

	var page types.HistoryResponse
	code := getJSON(t, f.ts.URL+"/v1/history?page=1&per_page=2", &page)
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "CCC333", page.Records[0].Plate)
	assert.Equal(t, "INSIDE", page.Records[0].Status)
	assert.Equal(t, "1 hour ago", page.Records[0].TimeInAgo)
	assert.Equal(t, "BBB222", page.Records[1].Plate)
}

func TestHistory_Search(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "AAA111", "T1", now.Add(-time.Hour), store.StatusInside)
	f.seed(t, "BBB222", "T2", now.Add(-time.Hour), store.StatusInside)

	var page types.HistoryResponse
	getJSON(t, f.ts.URL+"/v1/history?search=bb", &page)

	require.Len(t, page.Records, 1)
	assert.Equal(t, "BBB222", page.Records[0].Plate)
	assert.Equal(t, "bb", page.Search)
}

func TestInside_ListsOnlyInside(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "AAA111", "T1", now.Add(-2*time.Hour), store.StatusInside)
	f.seed(t, store.PlateUnknown, "T2", now.Add(-time.Hour), store.StatusFailNoPlate)

	var inside types.InsideResponse
	code := getJSON(t, f.ts.URL+"/v1/inside", &inside)
	require.Equal(t, http.StatusOK, code)

	require.Equal(t, 1, inside.Count)
	assert.Equal(t, "AAA111", inside.Records[0].Plate)
	assert.Equal(t, "2h0m0s", inside.Records[0].Duration)
}

func TestStats_PeriodBoundaries(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "AAA111", "T1", now.Add(-time.Hour), store.StatusInside)              // today
	f.seed(t, "BBB222", "T2", now.Add(-30*time.Hour), store.StatusInside)           // last week
	f.seed(t, store.PlateUnknown, "T3", now.Add(-time.Hour), store.StatusFailNoPlate) // today

	var day types.StatsResponse
	require.Equal(t, http.StatusOK, getJSON(t, f.ts.URL+"/v1/stats?period=day", &day))
	assert.Equal(t, 1, day.Entries)
	assert.Equal(t, 1, day.Failures)
	assert.Equal(t, "2026-03-02T00:00:00Z", day.Since)

	var month types.StatsResponse
	require.Equal(t, http.StatusOK, getJSON(t, f.ts.URL+"/v1/stats?period=month", &month))
	assert.Equal(t, 2, month.Entries)
	assert.Equal(t, "2026-03-01T00:00:00Z", month.Since)
}

func TestStats_InvalidPeriod(t *testing.T) {
	f := newFixture(t, nil)

	var e types.ErrorResponse
	code := getJSON(t, f.ts.URL+"/v1/stats?period=year", &e)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_period", e.Code)
}

func TestStoreUnavailable_Returns503(t *testing.T) {
	f := newFixture(t, nil)
	f.ledger.FailNext = store.ErrStoreUnavailable

	var e types.ErrorResponse
	code := getJSON(t, f.ts.URL+"/v1/inside", &e)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "store_unavailable", e.Code)
}

// ── Force exit ───────────────────────────────────────────────────────────────

func postJSON(t *testing.T, url, body string, v any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestForceExit_CompletesAndQueuesSync(t *testing.T) {
	f := newFixture(t, nil)
	id := f.seed(t, "AAA111", "T1", now.Add(-time.Hour), store.StatusInside)
	require.NoError(t, store.MarkSynced(context.Background(), f.ledger, id))

	var resp types.ForceExitResponse
	code := postJSON(t, f.ts.URL+"/v1/force_exit", `{"record_id":1}`, &resp)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, resp.OK)

	rec, err := store.Get(context.Background(), f.ledger, id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, rec.Status)
	assert.False(t, rec.Synced)
	require.NotNil(t, rec.TimeOut)
	assert.True(t, rec.TimeOut.Equal(now))
	assert.True(t, f.coord.WorkPending())

	code = postJSON(t, f.ts.URL+"/v1/force_exit", `{"record_id":1}`, &resp)
	assert.Equal(t, http.StatusConflict, code)
	assert.False(t, resp.OK)
	assert.Equal(t, "not_inside", resp.Reason)
}

func TestForceExit_BadBody(t *testing.T) {
	f := newFixture(t, nil)

	var e types.ErrorResponse
	assert.Equal(t, http.StatusBadRequest, postJSON(t, f.ts.URL+"/v1/force_exit", `{"record":1}`, &e))
	assert.Equal(t, "bad_request", e.Code)

	assert.Equal(t, http.StatusBadRequest, postJSON(t, f.ts.URL+"/v1/force_exit", `{"record_id":0}`, &e))
	assert.Equal(t, "invalid_record_id", e.Code)
}

func TestForceExit_Protobuf(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "AAA111", "T1", now.Add(-time.Hour), store.StatusInside)

	reqMsg, err := structpb.NewStruct(map[string]any{"record_id": 1})
	require.NoError(t, err)
	body, err := proto.Marshal(reqMsg)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, f.ts.URL+"/v1/force_exit", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Accept", "application/x-protobuf")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-protobuf", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out structpb.Struct
	require.NoError(t, proto.Unmarshal(raw, &out))
	assert.True(t, out.GetFields()["ok"].GetBoolValue())
	assert.Equal(t, 1.0, out.GetFields()["record_id"].GetNumberValue())
}

// ── Images / live view / metrics ─────────────────────────────────────────────

func TestImage_ServesEvidence(t *testing.T) {
	f := newFixture(t, nil)
	ref, err := f.evidence.Save(evidence.KindIn, "AAA111", []byte("jpeg-bytes"))
	require.NoError(t, err)

	resp, err := http.Get(f.ts.URL + "/image/" + ref)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, "Mon, 02 Mar 2026 12:00:00 GMT", resp.Header.Get("Last-Modified"))
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "jpeg-bytes", string(b))

	assert.Equal(t, http.StatusNotFound, getJSON(t, f.ts.URL+"/image/missing.jpg", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, f.ts.URL+"/image/..%2Fsecret", nil))
}

func TestImage_NoLastModifiedForForeignNames(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(f.evidence.Dir(), "snapshot.jpg"), []byte("x"), 0o644))

	resp, err := http.Get(f.ts.URL + "/image/snapshot.jpg")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Last-Modified"))
}

func TestLiveView_UnavailableWithoutCamera(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, f.ts.URL+"/live", nil))
	assert.Equal(t, http.StatusServiceUnavailable, postJSON(t, f.ts.URL+"/v1/live/start", "", nil))
}

func TestLiveView_ServesLatestFrame(t *testing.T) {
	framePath := t.TempDir() + "/live_view.jpg"
	require.NoError(t, os.WriteFile(framePath, []byte("frame"), 0o644))

	f := newFixture(t, func(d *httpapi.Dependencies) {
		d.LiveView = service.NewLiveView(coord.New(), nil, framePath, time.Second, silentLogger())
	})

	resp, err := http.Get(f.ts.URL + "/live")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "frame", string(b))

	var lv types.LiveViewResponse
	require.Equal(t, http.StatusOK, postJSON(t, f.ts.URL+"/v1/live/stop", "", &lv))
	assert.False(t, lv.Running)
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t, func(d *httpapi.Dependencies) {
		d.Metrics = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("parkedge_up 1\n"))
		})
	})

	resp, err := http.Get(f.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "parkedge_up 1\n", string(b))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}
