package catalog

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	catalogDatamodel "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/catalog"
)

var (
	listKeys         = []string{"brands", "stores", "items", "list", "data", "records"}
	brandCodeKeys    = []string{"brandCode", "brand_code", "code", "productCode", "sku"}
	brandNameKeys    = []string{"brandName", "brand_name", "name", "productName"}
	brandTypeKeys    = []string{"brandType", "brand_type", "type", "denominationType"}
	discountKeys     = []string{"discount", "discountPercent", "discount_percent", "commission"}
	denominationKeys = []string{"denominations", "denomination", "amounts", "denominationList"}
	minKeys          = []string{"minAmount", "min_amount", "minValue", "minDenomination"}
	maxKeys          = []string{"maxAmount", "max_amount", "maxValue", "maxDenomination"}
	enabledKeys      = []string{"enabled", "active", "isActive", "status"}
	storeCodeKeys    = []string{"storeCode", "store_code", "code", "storeId", "id"}
	storeNameKeys    = []string{"storeName", "store_name", "name"}
)

// items finds the list of records in a decoded vendor payload.
func items(v any) []map[string]any {
	switch t := v.(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, e := range t {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	case map[string]any:
		for _, key := range listKeys {
			if inner, ok := lookup(t, key); ok {
				if list := items(inner); len(list) > 0 {
					return list
				}
			}
		}
		// A map keyed by brand code is also seen in the wild.
		var out []map[string]any
		for _, k := range sortedKeys(t) {
			if m, ok := t[k].(map[string]any); ok {
				if firstString(m, brandCodeKeys) == "" {
					m["brandCode"] = k
				}
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func parseBrands(v any) []catalogDatamodel.Brand {
	var out []catalogDatamodel.Brand
	seen := map[string]bool{}
	for _, m := range items(v) {
		code := strings.TrimSpace(firstString(m, brandCodeKeys))
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true

		b := catalogDatamodel.Brand{
			Code:              code,
			Name:              strings.TrimSpace(firstString(m, brandNameKeys)),
			VendorDiscountBps: percentBps(first(m, discountKeys)),
			Denominations:     denominations(first(m, denominationKeys)),
			MinAmount:         minor(first(m, minKeys)),
			MaxAmount:         minor(first(m, maxKeys)),
			Description:       firstString(m, []string{"description", "desc"}),
			ImageURL:          firstString(m, []string{"imageUrl", "image_url", "logo", "image"}),
			Terms:             firstString(m, []string{"terms", "tnc", "termsAndConditions"}),
			Enabled:           enabled(first(m, enabledKeys)),
		}
		if b.Name == "" {
			b.Name = code
		}
		b.BrandType = brandType(firstString(m, brandTypeKeys), b)
		if raw, err := json.Marshal(m); err == nil {
			b.Metadata = raw
		}
		out = append(out, b)
	}
	return out
}

func parseStores(v any, brandCode string) []catalogDatamodel.Store {
	var out []catalogDatamodel.Store
	for _, m := range items(v) {
		code := strings.TrimSpace(firstString(m, storeCodeKeys))
		if code == "" {
			continue
		}
		brand := strings.TrimSpace(firstString(m, []string{"brandCode", "brand_code"}))
		if brand == "" {
			brand = brandCode
		}
		if brand == "" {
			continue
		}
		out = append(out, catalogDatamodel.Store{
			BrandCode: brand,
			StoreCode: code,
			Name:      firstString(m, storeNameKeys),
			City:      firstString(m, []string{"city", "cityName"}),
			Address:   firstString(m, []string{"address", "storeAddress", "addressLine"}),
		})
	}
	return out
}

func brandType(declared string, b catalogDatamodel.Brand) string {
	switch strings.ToLower(strings.TrimSpace(declared)) {
	case "fixed", "fixed_denomination", "denomination":
		return catalogDatamodel.BrandTypeFixed
	case "range", "open", "variable", "slab":
		return catalogDatamodel.BrandTypeRange
	}
	if len(b.Denominations) > 0 {
		return catalogDatamodel.BrandTypeFixed
	}
	return catalogDatamodel.BrandTypeRange
}

// minor converts a rupee amount (number or string) into paise.
func minor(v any) int64 {
	f, ok := float(v)
	if !ok || f <= 0 {
		return 0
	}
	return int64(math.Round(f * 100))
}

func percentBps(v any) int64 {
	f, ok := float(v)
	if !ok || f <= 0 {
		return 0
	}
	return int64(math.Round(f * 100))
}

func denominations(v any) []int64 {
	var raw []any
	switch t := v.(type) {
	case []any:
		raw = t
	case string:
		for _, part := range strings.Split(t, ",") {
			raw = append(raw, part)
		}
	case float64:
		raw = []any{t}
	}
	var out []int64
	seen := map[int64]bool{}
	for _, e := range raw {
		if m, ok := e.(map[string]any); ok {
			e = first(m, []string{"amount", "value", "denomination"})
		}
		if amt := minor(e); amt > 0 && !seen[amt] {
			seen[amt] = true
			out = append(out, amt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func enabled(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "0", "false", "inactive", "disabled", "no", "n":
			return false
		}
	}
	return true
}

func float(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "%"))
		s = strings.ReplaceAll(s, ",", "")
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

func first(m map[string]any, keys []string) any {
	for _, key := range keys {
		if v, ok := lookup(m, key); ok && v != nil {
			return v
		}
	}
	return nil
}

func lookup(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func firstString(m map[string]any, keys []string) string {
	for _, key := range keys {
		v, ok := lookup(m, key)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			if t != "" {
				return t
			}
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		}
	}
	return ""
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
