package provider

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/cbdata/internal/fetcher"
	"github.com/sells-group/cbdata/internal/model"
	"github.com/sells-group/cbdata/internal/resilience"
)

// SinaBase is the sina quote host.
const SinaBase = "https://quotes.sina.cn"

const sinaKlinePath = "/cn/api/json_v2.php/CN_MarketDataService.getKLineData"

// Sina serves daily bond quotes keyed by market-prefixed symbol.
type Sina struct {
	f    fetcher.Fetcher
	base string
}

// NewSina creates the sina provider.
func NewSina(f fetcher.Fetcher, baseURL string) *Sina {
	if baseURL == "" {
		baseURL = SinaBase
	}
	return &Sina{f: f, base: strings.TrimRight(baseURL, "/")}
}

// ID implements Provider.
func (s *Sina) ID() string { return "sina" }

// Capability implements Provider. The endpoint takes only the symbol and
// always returns the full series.
func (s *Sina) Capability() Capability {
	return Capability{
		Datasets: []Dataset{DatasetBondHistory},
		Params:   []string{ParamSymbol},
	}
}

// Fetch implements Provider.
func (s *Sina) Fetch(ctx context.Context, req Request) (*model.Raw, error) {
	if req.Dataset != DatasetBondHistory {
		return nil, eris.Errorf("sina: unsupported dataset %s", req.Dataset)
	}
	code := model.StripMarketPrefix(req.Param(ParamSymbol, ""))
	prefix := model.MarketPrefixForBond(code)
	if prefix == "" {
		return nil, resilience.NewNotFoundError(eris.Errorf("sina: invalid symbol %q", code))
	}

	body, err := s.f.Get(ctx, s.base+sinaKlinePath, url.Values{
		"symbol":  {prefix + code},
		"scale":   {"240"},
		"ma":      {"no"},
		"datalen": {"10000"},
	}, nil)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return nil, resilience.NewNotFoundError(eris.Errorf("sina: no data for symbol %s%s", prefix, code))
	}
	if !gjson.Valid(trimmed) {
		return nil, eris.Errorf("sina: invalid kline json for %s%s", prefix, code)
	}
	arr := gjson.Parse(trimmed)
	if !arr.IsArray() {
		return nil, eris.Errorf("sina: unexpected kline payload for %s%s", prefix, code)
	}
	return objectsTable(arr), nil
}
