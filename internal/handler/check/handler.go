package check

import (
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TomasB/geolocal/internal/data"
	"github.com/TomasB/geolocal/internal/metrics"
	"github.com/TomasB/geolocal/pkg/rangetable"
)

const transport = "http"

// CheckRequest represents the JSON body for a country check.
type CheckRequest struct {
	IP               string   `json:"ip" binding:"required"`
	AllowedCountries []string `json:"allowed_countries" binding:"required,min=1"`
	// Family overrides the family taken from IP: "ipv4" or "ipv6".
	Family string `json:"family,omitempty"`
}

// CheckResponse represents the JSON response for a country check.
type CheckResponse struct {
	Allowed bool   `json:"allowed"`
	Country string `json:"country"`
	Error   string `json:"error"`
}

// ContainsResponse is returned by the per-country membership endpoint.
type ContainsResponse struct {
	Country string `json:"country"`
	IP      string `json:"ip"`
	Family  string `json:"family,omitempty"`
	Found   bool   `json:"found"`
	Error   string `json:"error,omitempty"`
}

// TableResponse summarizes the table in service.
type TableResponse struct {
	Source      string       `json:"source,omitempty"`
	GeneratedAt string       `json:"generated_at,omitempty"`
	Ranges      int          `json:"ranges"`
	Buckets     []BucketInfo `json:"buckets"`
}

// BucketInfo is one (country, family) key and its range count.
type BucketInfo struct {
	Country string `json:"country"`
	Family  string `json:"family"`
	Ranges  int    `json:"ranges"`
}

// Handler manages membership endpoints backed by a range table.
type Handler struct {
	tables  data.TableProvider
	metrics *metrics.Metrics
}

// NewHandler creates a new check handler. m may be nil.
func NewHandler(tables data.TableProvider, m *metrics.Metrics) *Handler {
	return &Handler{tables: tables, metrics: m}
}

// Register mounts the handler's routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/check", h.Check)
	r.GET("/countries/:country/contains", h.Contains)
	r.GET("/table", h.Table)
}

// Check handles POST /api/v1/check
func (h *Handler) Check(c *gin.Context) {
	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, CheckResponse{
			Error: "invalid request: " + err.Error(),
		})
		return
	}

	slog.Debug("check request received", "ip", req.IP, "allowed_countries", req.AllowedCountries)

	table := h.tables.Table()
	if table == nil {
		c.JSON(http.StatusServiceUnavailable, CheckResponse{
			Error: data.ErrNotLoaded.Error(),
		})
		return
	}

	family, err := rangetable.ParseFamily(req.Family)
	if err != nil {
		c.JSON(http.StatusBadRequest, CheckResponse{Error: err.Error()})
		return
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(req.IP))
	if err != nil {
		h.metrics.ObserveLookup(transport, "error")
		c.JSON(http.StatusBadRequest, CheckResponse{
			Error: "invalid IP address",
		})
		return
	}

	country := ""
	if k, ok := table.Lookup(addr, family); ok {
		country = k.Country
	}

	allowed := false
	for _, ac := range req.AllowedCountries {
		found, err := table.ContainsAddr(ac, addr, family)
		if err != nil {
			h.metrics.ObserveLookup(transport, "error")
			c.JSON(http.StatusBadRequest, CheckResponse{Error: err.Error()})
			return
		}
		if found {
			allowed = true
			break
		}
	}

	h.metrics.ObserveLookup(transport, metrics.LookupResult(allowed, nil))
	c.JSON(http.StatusOK, CheckResponse{
		Allowed: allowed,
		Country: country,
	})
}

// Contains handles GET /api/v1/countries/:country/contains?ip=&family=
func (h *Handler) Contains(c *gin.Context) {
	resp := ContainsResponse{
		Country: strings.ToUpper(c.Param("country")),
		IP:      c.Query("ip"),
		Family:  c.Query("family"),
	}

	table := h.tables.Table()
	if table == nil {
		resp.Error = data.ErrNotLoaded.Error()
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	if resp.IP == "" {
		resp.Error = "ip query parameter is required"
		c.JSON(http.StatusBadRequest, resp)
		return
	}

	family, err := rangetable.ParseFamily(resp.Family)
	if err != nil {
		resp.Error = err.Error()
		c.JSON(http.StatusBadRequest, resp)
		return
	}

	resp.Found, err = table.ContainsString(resp.Country, resp.IP, family)
	h.metrics.ObserveLookup(transport, metrics.LookupResult(resp.Found, err))
	if err != nil {
		resp.Error = err.Error()
		c.JSON(http.StatusBadRequest, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Table handles GET /api/v1/table
func (h *Handler) Table(c *gin.Context) {
	table := h.tables.Table()
	if table == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": data.ErrNotLoaded.Error()})
		return
	}

	resp := TableResponse{Ranges: table.Len(), Buckets: []BucketInfo{}}
	if holder, ok := h.tables.(*data.Holder); ok {
		if snap, ok := holder.Snapshot(); ok {
			resp.Source = snap.Meta.Source
			if !snap.Meta.GeneratedAt.IsZero() {
				resp.GeneratedAt = snap.Meta.GeneratedAt.Format(time.RFC3339)
			}
		}
	}
	for _, k := range table.Keys() {
		resp.Buckets = append(resp.Buckets, BucketInfo{
			Country: k.Country,
			Family:  k.Family.String(),
			Ranges:  len(table.Ranges(k)),
		})
	}
	c.JSON(http.StatusOK, resp)
}
