package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/ledger-ingest/internal/api"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/infra/sqlite"
	"github.com/dvloznov/ledger-ingest/internal/jobs"
	"github.com/dvloznov/ledger-ingest/internal/jobs/inmemory"
	"github.com/dvloznov/ledger-ingest/internal/normalize"
	"github.com/dvloznov/ledger-ingest/internal/pipeline"
	"github.com/dvloznov/ledger-ingest/internal/report"
	"github.com/dvloznov/ledger-ingest/internal/review"
)

type fixture struct {
	server   *httptest.Server
	repo     *sqlite.Repository
	jobStore *inmemory.Store
	groupID  string
	ids      []int64
}

func txn(date, desc, amount, balance string) *domain.Transaction {
	d, _ := civil.ParseDate(date)
	t := &domain.Transaction{
		Date:        d,
		Description: desc,
		Amount:      decimal.RequireFromString(amount),
		Balance:     decimal.NewNullDecimal(decimal.RequireFromString(balance)),
		Source:      "jan.csv",
	}
	normalize.Fingerprint(t)
	return t
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	repo, err := sqlite.NewRepository(ctx, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	a := txn("2024-01-10", "CORNER BAKERY", "-4.50", "100.00")
	b := txn("2024-01-10", "CORNER BAKERY", "-4.50", "95.50")
	c := txn("2024-02-01", "SALARY", "2500.00", "2595.50")
	res, err := repo.InsertBatch(ctx, []*domain.Transaction{a, b, c}, nil)
	require.NoError(t, err)
	ids := []int64{res.IDs[a.ContentHash], res.IDs[b.ContentHash], res.IDs[c.ContentHash]}

	wf := review.NewWorkflow(repo, review.Options{})
	staged, err := wf.Stage(ctx, ids[:2], 0.85, "Same Description and Amount, 0 days apart", domain.OriginScan)
	require.NoError(t, err)

	jobStore := inmemory.NewStore()
	queue := inmemory.NewQueue(10, jobStore)

	srv := httptest.NewServer(api.NewRouter(api.Deps{
		Store:       repo,
		Manual:      pipeline.New(pipeline.Config{Store: repo, Workers: 1}),
		Reports:     report.NewService(repo),
		Suggestions: repo,
		Review:      wf,
		JobStore:    jobStore,
		Publisher:   queue,
		Log:         zerolog.Nop(),
	}))
	t.Cleanup(srv.Close)

	return &fixture{server: srv, repo: repo, jobStore: jobStore, groupID: staged.GroupID, ids: ids}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, rdr)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestListTransactions(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantCount  int
	}{
		{name: "all", query: "", wantStatus: http.StatusOK, wantCount: 3},
		{name: "january only", query: "?start_date=2024-01-01&end_date=2024-01-31", wantStatus: http.StatusOK, wantCount: 2},
		{name: "bad date", query: "?start_date=01/01/2024", wantStatus: http.StatusBadRequest},
		{name: "reversed range", query: "?start_date=2024-02-01&end_date=2024-01-01", wantStatus: http.StatusBadRequest},
		{name: "search", query: "?search=bakery", wantStatus: http.StatusOK, wantCount: 2},
		{name: "inflows only", query: "?min_amount=0", wantStatus: http.StatusOK, wantCount: 1},
		{name: "amount window", query: "?min_amount=-5&max_amount=-4", wantStatus: http.StatusOK, wantCount: 2},
		{name: "no such category", query: "?category=Dining", wantStatus: http.StatusOK, wantCount: 0},
		{name: "bad amount", query: "?max_amount=lots", wantStatus: http.StatusBadRequest},
		{name: "bad sort", query: "?sort=vendor", wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(f.server.URL + "/api/transactions" + tt.query)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantStatus != http.StatusOK {
				return
			}
			var rows []map[string]interface{}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&rows))
			assert.Len(t, rows, tt.wantCount)
		})
	}
}

func TestListTransactions_Sorted(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/api/transactions?sort=amount&desc=true")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rows []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rows))
	require.Len(t, rows, 3)
	assert.Equal(t, "SALARY", rows[0]["description"])
	assert.Equal(t, "-4.50", rows[2]["amount"])
}

func TestCreateTransaction(t *testing.T) {
	f := newFixture(t)

	entry := map[string]interface{}{"date": "2024-02-03", "description": "PRET A MANGER", "amount": "-6.20", "category": "Dining", "vendor": "Pret"}
	resp, body := f.do(t, http.MethodPost, "/api/transactions", entry)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, body["inserted"])
	view, _ := body["transaction"].(map[string]interface{})
	assert.Equal(t, "manual_entry", view["source"])
	assert.Equal(t, "Dining", view["category"])

	resp, body = f.do(t, http.MethodPost, "/api/transactions", entry)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["inserted"])
	assert.Equal(t, "content_hash", body["duplicate"])

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{name: "bad date", body: map[string]interface{}{"date": "3 Feb", "description": "X", "amount": "-1"}},
		{name: "missing amount", body: map[string]interface{}{"date": "2024-02-03", "description": "X"}},
		{name: "blank description", body: map[string]interface{}{"date": "2024-02-03", "description": "  ", "amount": -1}},
		{name: "unknown category", body: map[string]interface{}{"date": "2024-02-03", "description": "X", "amount": "-1", "category": "Pets"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := f.do(t, http.MethodPost, "/api/transactions", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	txns, err := f.repo.ListTransactions(context.Background(), domain.TransactionFilter{Category: "Dining"})
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestReports(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		want       map[string]interface{}
	}{
		{name: "monthly", path: "/api/reports/monthly?year=2024&month=1", wantStatus: http.StatusOK,
			want: map[string]interface{}{"count": 2.0, "expenses": "9", "income": "0"}},
		{name: "monthly compared", path: "/api/reports/monthly?year=2024&month=2&compare=true", wantStatus: http.StatusOK,
			want: map[string]interface{}{"income": "2500", "net": "2500"}},
		{name: "month out of range", path: "/api/reports/monthly?year=2024&month=13", wantStatus: http.StatusBadRequest},
		{name: "month not a number", path: "/api/reports/monthly?month=jan", wantStatus: http.StatusBadRequest},
		{name: "unknown period", path: "/api/reports/spending?period=decade", wantStatus: http.StatusBadRequest},
		{name: "categories", path: "/api/reports/categories?start_date=2024-01-01&end_date=2024-02-29", wantStatus: http.StatusOK,
			want: map[string]interface{}{"income": "2500", "expenses": "9"}},
		{name: "categories reversed", path: "/api/reports/categories?start_date=2024-02-01&end_date=2024-01-01", wantStatus: http.StatusBadRequest},
		{name: "vendors", path: "/api/reports/vendors?start_date=2024-01-01", wantStatus: http.StatusOK,
			want: map[string]interface{}{"unique_vendors": 1.0, "total": "9"}},
		{name: "vendors bad top", path: "/api/reports/vendors?top=-1", wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodGet, tt.path, nil)
			require.Equal(t, tt.wantStatus, resp.StatusCode)
			for k, v := range tt.want {
				assert.Equal(t, v, body[k], k)
			}
		})
	}

	resp, body := f.do(t, http.MethodGet, "/api/reports/monthly?year=2024&month=2&compare=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	prev, _ := body["previous"].(map[string]interface{})
	require.NotNil(t, prev)
	assert.Equal(t, "9", prev["expenses"])
}

func TestVendorSuggestions(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/vendors/suggestions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["count"])

	for _, date := range []string{"2024-02-03", "2024-02-10"} {
		resp, _ := f.do(t, http.MethodPost, "/api/transactions",
			map[string]interface{}{"date": date, "description": "PRET A MANGER", "amount": "-6.20", "vendor": "Pret"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, body = f.do(t, http.MethodGet, "/api/vendors/suggestions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])
	suggestions, _ := body["suggestions"].([]interface{})
	require.Len(t, suggestions, 1)
	first, _ := suggestions[0].(map[string]interface{})
	assert.Equal(t, "Pret", first["vendor"])

	resp, _ = f.do(t, http.MethodGet, "/api/vendors/suggestions?min_count=two", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReviewGroupsAndDecision(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/review/groups", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	path := "/api/review/groups/" + f.groupID + "/decision"
	tests := []struct {
		name       string
		path       string
		body       interface{}
		wantStatus int
	}{
		{name: "unknown action", path: path, body: map[string]interface{}{"action": "archive"}, wantStatus: http.StatusBadRequest},
		{name: "missing keep id", path: path, body: map[string]interface{}{"action": "delete_duplicate"}, wantStatus: http.StatusBadRequest},
		{name: "keep id outside group", path: path, body: map[string]interface{}{"action": "delete_duplicate", "keep_id": f.ids[2]}, wantStatus: http.StatusBadRequest},
		{name: "unknown group", path: "/api/review/groups/nope/decision", body: map[string]interface{}{"action": "ignore"}, wantStatus: http.StatusNotFound},
		{name: "delete duplicate", path: path, body: map[string]interface{}{"action": "delete_duplicate", "keep_id": f.ids[0], "reviewer": "alex"}, wantStatus: http.StatusOK},
		{name: "second decision conflicts", path: path, body: map[string]interface{}{"action": "keep_both"}, wantStatus: http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := f.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}

	dup, err := f.repo.GetTransaction(context.Background(), f.ids[1])
	require.NoError(t, err)
	assert.True(t, dup.Deleted())

	resp, body = f.do(t, http.MethodGet, "/api/review/groups", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["count"])
}

func TestEnqueueJobs(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/review/scan", map[string]interface{}{"as_of": "2024-03-01", "auto_finalize": true})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	scanID, _ := body["job_id"].(string)
	require.NotEmpty(t, scanID)

	resp, _ = f.do(t, http.MethodPost, "/api/categorize", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/review/scan", map[string]interface{}{"as_of": "March"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/jobs/"+scanID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(jobs.JobTypeDuplicateScan), body["type"])
	assert.Equal(t, string(jobs.JobStatusPending), body["status"])

	resp, body = f.do(t, http.MethodGet, "/api/jobs?type=categorize", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, _ = f.do(t, http.MethodGet, "/api/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListRuns(t *testing.T) {
	f := newFixture(t)
	_, err := f.repo.StartRun(context.Background(), domain.RunMeta{Operation: domain.OpDuplicateScan})
	require.NoError(t, err)

	resp, body := f.do(t, http.MethodGet, "/api/runs?limit=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodDelete, "/api/review/groups", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
