package check

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/TomasB/geolocal/internal/data"
	"github.com/TomasB/geolocal/internal/metrics"
	"github.com/TomasB/geolocal/pkg/rangetable"
)

// testTable holds the db-ip scenario rows plus an IPv6 range for DE.
func testTable(t *testing.T) *rangetable.Table {
	t.Helper()
	agg := rangetable.NewAggregator()
	for _, row := range [][3]string{
		{"US", "0.0.0.0", "0.255.255.255"},
		{"AU", "1.0.0.0", "1.0.0.255"},
		{"CN", "1.0.1.0", "1.0.3.255"},
		{"DE", "2001:db8::", "2001:db8::ffff"},
	} {
		r, err := rangetable.Normalize(row[0], row[1], row[2])
		if err != nil {
			t.Fatalf("normalize %v: %v", row, err)
		}
		agg.Add(r)
	}
	table, err := rangetable.Finalize(agg)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return table
}

func setupRouter(tables data.TableProvider, m *metrics.Metrics) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(tables, m)
	h.Register(r.Group("/api/v1"))
	return r
}

func postCheck(t *testing.T, router *gin.Engine, body any) (*httptest.ResponseRecorder, CheckResponse) {
	t.Helper()
	var payload []byte
	switch b := body.(type) {
	case []byte:
		payload = b
	default:
		payload, _ = json.Marshal(body)
	}

	req, _ := http.NewRequest("POST", "/api/v1/check", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp CheckResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestCheck_AllowedCountry(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	router := setupRouter(data.StaticTable{T: testTable(t)}, m)

	w, resp := postCheck(t, router, CheckRequest{
		IP:               "1.0.0.1",
		AllowedCountries: []string{"US", "AU"},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !resp.Allowed {
		t.Error("expected allowed to be true")
	}
	if resp.Country != "AU" {
		t.Errorf("expected country AU, got %s", resp.Country)
	}
	if resp.Error != "" {
		t.Errorf("expected empty error, got %s", resp.Error)
	}
	if got := testutil.ToFloat64(m.Lookups.WithLabelValues("http", "match")); got != 1 {
		t.Errorf("expected 1 match counted, got %v", got)
	}
}

func TestCheck_DeniedCountry(t *testing.T) {
	router := setupRouter(data.StaticTable{T: testTable(t)}, nil)

	w, resp := postCheck(t, router, CheckRequest{
		IP:               "1.0.2.1",
		AllowedCountries: []string{"us", "au"},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if resp.Allowed {
		t.Error("expected allowed to be false")
	}
	if resp.Country != "CN" {
		t.Errorf("expected country CN, got %s", resp.Country)
	}
}

func TestCheck_UnknownAddress(t *testing.T) {
	router := setupRouter(data.StaticTable{T: testTable(t)}, nil)

	w, resp := postCheck(t, router, CheckRequest{
		IP:               "9.9.9.9",
		AllowedCountries: []string{"US"},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if resp.Allowed || resp.Country != "" {
		t.Errorf("expected no match, got %+v", resp)
	}
}

func TestCheck_InvalidIP(t *testing.T) {
	router := setupRouter(data.StaticTable{T: testTable(t)}, nil)

	w, resp := postCheck(t, router, map[string]interface{}{
		"ip":                "not-an-ip",
		"allowed_countries": []string{"US"},
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
	if resp.Error != "invalid IP address" {
		t.Errorf("expected 'invalid IP address' error, got %q", resp.Error)
	}
}

func TestCheck_BadRequests(t *testing.T) {
	router := setupRouter(data.StaticTable{T: testTable(t)}, nil)

	tests := []struct {
		name string
		body any
	}{
		{"missing ip", map[string]interface{}{"allowed_countries": []string{"US"}}},
		{"missing allowed countries", map[string]interface{}{"ip": "1.2.3.4"}},
		{"empty allowed countries", map[string]interface{}{"ip": "1.2.3.4", "allowed_countries": []string{}}},
		{"invalid json", []byte("{bad json")},
		{"bad family", CheckRequest{IP: "1.2.3.4", AllowedCountries: []string{"US"}, Family: "ipx"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := postCheck(t, router, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", w.Code)
			}
		})
	}
}

func TestCheck_NotLoaded(t *testing.T) {
	router := setupRouter(data.StaticTable{}, nil)

	w, resp := postCheck(t, router, CheckRequest{
		IP:               "1.0.0.1",
		AllowedCountries: []string{"AU"},
	})

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", w.Code)
	}
	if resp.Error != data.ErrNotLoaded.Error() {
		t.Errorf("expected not loaded error, got %q", resp.Error)
	}
}

func TestCheck_IPv6(t *testing.T) {
	router := setupRouter(data.StaticTable{T: testTable(t)}, nil)

	w, resp := postCheck(t, router, CheckRequest{
		IP:               "2001:db8::1",
		AllowedCountries: []string{"DE"},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !resp.Allowed {
		t.Error("expected allowed to be true for IPv6")
	}
	if resp.Country != "DE" {
		t.Errorf("expected country DE, got %s", resp.Country)
	}
}

func TestCheck_FamilyOverride(t *testing.T) {
	router := setupRouter(data.StaticTable{T: testTable(t)}, nil)

	// 1.0.0.1 read as IPv6 is ::ffff:1.0.0.1, which no IPv6 range covers.
	w, resp := postCheck(t, router, CheckRequest{
		IP:               "1.0.0.1",
		AllowedCountries: []string{"AU"},
		Family:           "ipv6",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if resp.Allowed {
		t.Error("expected allowed to be false under the ipv6 family")
	}
}

func getJSON(t *testing.T, router *gin.Engine, url string, out any) int {
	t.Helper()
	req, _ := http.NewRequest("GET", url, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return w.Code
}

func TestContains(t *testing.T) {
	router := setupRouter(data.StaticTable{T: testTable(t)}, nil)

	tests := []struct {
		name      string
		url       string
		wantCode  int
		wantFound bool
		wantError bool
	}{
		{"match", "/api/v1/countries/AU/contains?ip=1.0.0.1", http.StatusOK, true, false},
		{"lowercase country", "/api/v1/countries/cn/contains?ip=1.0.3.255", http.StatusOK, true, false},
		{"miss", "/api/v1/countries/AU/contains?ip=1.0.1.0", http.StatusOK, false, false},
		{"unknown country", "/api/v1/countries/ZZ/contains?ip=1.0.0.1", http.StatusOK, false, false},
		{"ipv6", "/api/v1/countries/DE/contains?ip=2001:db8::ff", http.StatusOK, true, false},
		{"family override", "/api/v1/countries/AU/contains?ip=1.0.0.1&family=ipv6", http.StatusOK, false, false},
		{"missing ip", "/api/v1/countries/AU/contains", http.StatusBadRequest, false, true},
		{"unparseable", "/api/v1/countries/AU/contains?ip=banana", http.StatusBadRequest, false, true},
		{"unparseable with family", "/api/v1/countries/AU/contains?ip=banana&family=ipv4", http.StatusBadRequest, false, true},
		{"bad family", "/api/v1/countries/AU/contains?ip=1.0.0.1&family=7", http.StatusBadRequest, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp ContainsResponse
			code := getJSON(t, router, tt.url, &resp)
			if code != tt.wantCode {
				t.Fatalf("expected status %d, got %d", tt.wantCode, code)
			}
			if resp.Found != tt.wantFound {
				t.Errorf("expected found=%v, got %v", tt.wantFound, resp.Found)
			}
			if (resp.Error != "") != tt.wantError {
				t.Errorf("unexpected error field %q", resp.Error)
			}
		})
	}
}

func TestContains_NotLoaded(t *testing.T) {
	router := setupRouter(data.StaticTable{}, nil)

	var resp ContainsResponse
	if code := getJSON(t, router, "/api/v1/countries/AU/contains?ip=1.0.0.1", &resp); code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", code)
	}
}

func TestTable(t *testing.T) {
	router := setupRouter(data.StaticTable{T: testTable(t)}, nil)

	var resp TableResponse
	if code := getJSON(t, router, "/api/v1/table", &resp); code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", code)
	}
	if resp.Ranges != 4 {
		t.Errorf("expected 4 ranges, got %d", resp.Ranges)
	}

	want := []BucketInfo{
		{Country: "AU", Family: "ipv4", Ranges: 1},
		{Country: "CN", Family: "ipv4", Ranges: 1},
		{Country: "DE", Family: "ipv6", Ranges: 1},
		{Country: "US", Family: "ipv4", Ranges: 1},
	}
	if len(resp.Buckets) != len(want) {
		t.Fatalf("expected %d buckets, got %d", len(want), len(resp.Buckets))
	}
	for i := range want {
		if resp.Buckets[i] != want[i] {
			t.Errorf("bucket %d: expected %+v, got %+v", i, want[i], resp.Buckets[i])
		}
	}
}

func TestTable_NotLoaded(t *testing.T) {
	router := setupRouter(data.StaticTable{}, nil)

	var resp map[string]string
	if code := getJSON(t, router, "/api/v1/table", &resp); code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", code)
	}
}
