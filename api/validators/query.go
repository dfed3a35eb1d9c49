package validators

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/tishop/marketplace-backend/pkg/enums"
	pkgerrors "github.com/tishop/marketplace-backend/pkg/errors"
)

// ParseQueryInt reads an optional bounded integer such as a page limit.
func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, key+" must be numeric").WithDetails(map[string]any{"field": key})
	}
	if value < min || value > max {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, key+" out of range").WithDetails(map[string]any{"field": key, "min": min, "max": max})
	}
	return value, nil
}

// ParseSellerOrderStatus reads an optional seller order status filter. A
// missing value means every status.
func ParseSellerOrderStatus(r *http.Request, key string) (*enums.SellerOrderStatus, error) {
	raw := SanitizeString(r.URL.Query().Get(key), 32)
	if raw == "" {
		return nil, nil
	}
	status, err := enums.ParseSellerOrderStatus(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+key+" filter").WithDetails(map[string]any{"field": key})
	}
	return &status, nil
}
