package grpc

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/TomasB/geolocal/internal/data"
	"github.com/TomasB/geolocal/internal/metrics"
	"github.com/TomasB/geolocal/pkg/rangetable"
)

const transport = "grpc"

// Handler implements GeolocalServiceServer on top of a range table.
type Handler struct {
	tables  data.TableProvider
	metrics *metrics.Metrics
}

// NewHandler creates a new gRPC handler. m may be nil.
func NewHandler(tables data.TableProvider, m *metrics.Metrics) *Handler {
	return &Handler{tables: tables, metrics: m}
}

// Check validates whether an IP is allowed for the given country list.
func (h *Handler) Check(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	fields := req.GetFields()
	ip := fields["ip"].GetStringValue()
	if ip == "" {
		return nil, status.Error(codes.InvalidArgument, "ip is required")
	}
	var allowedCountries []string
	for _, v := range fields["allowed_countries"].GetListValue().GetValues() {
		if s := v.GetStringValue(); s != "" {
			allowedCountries = append(allowedCountries, s)
		}
	}
	if len(allowedCountries) == 0 {
		return nil, status.Error(codes.InvalidArgument, "allowed_countries is required")
	}

	table, family, err := h.prepare(fields["family"].GetStringValue())
	if err != nil {
		return nil, err
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		h.metrics.ObserveLookup(transport, "error")
		return nil, status.Error(codes.InvalidArgument, "invalid IP address")
	}

	country := ""
	if k, ok := table.Lookup(addr, family); ok {
		country = k.Country
	}

	allowed := false
	for _, ac := range allowedCountries {
		found, err := table.ContainsAddr(ac, addr, family)
		if err != nil {
			h.metrics.ObserveLookup(transport, "error")
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		if found {
			allowed = true
			break
		}
	}
	h.metrics.ObserveLookup(transport, metrics.LookupResult(allowed, nil))

	return structpb.NewStruct(map[string]any{
		"allowed": allowed,
		"country": country,
	})
}

// Contains reports whether an IP belongs to one country.
func (h *Handler) Contains(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	fields := req.GetFields()
	country := fields["country"].GetStringValue()
	if country == "" {
		return nil, status.Error(codes.InvalidArgument, "country is required")
	}
	ip := fields["ip"].GetStringValue()
	if ip == "" {
		return nil, status.Error(codes.InvalidArgument, "ip is required")
	}

	table, family, err := h.prepare(fields["family"].GetStringValue())
	if err != nil {
		return nil, err
	}

	found, err := table.ContainsString(country, ip, family)
	h.metrics.ObserveLookup(transport, metrics.LookupResult(found, err))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return structpb.NewStruct(map[string]any{"found": found})
}

func (h *Handler) prepare(familyName string) (*rangetable.Table, rangetable.Family, error) {
	table := h.tables.Table()
	if table == nil {
		return nil, 0, status.Error(codes.Unavailable, data.ErrNotLoaded.Error())
	}
	family, err := rangetable.ParseFamily(familyName)
	if err != nil {
		return nil, 0, status.Error(codes.InvalidArgument, err.Error())
	}
	return table, family, nil
}

// LoggingInterceptor logs every unary call the way the HTTP request logger
// does.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		attrs := []any{
			"method", info.FullMethod,
			"code", code.String(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		switch {
		case err == nil:
			logger.Debug("rpc completed", attrs...)
		case code == codes.InvalidArgument || errors.Is(err, context.Canceled):
			logger.Warn("rpc completed", append(attrs, "error", err)...)
		default:
			logger.Error("rpc completed", append(attrs, "error", err)...)
		}
		return resp, err
	}
}
