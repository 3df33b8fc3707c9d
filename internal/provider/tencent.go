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

// TencentBase is the tencent quote host.
const TencentBase = "https://web.ifzq.gtimg.cn"

const (
	tencentKlinePath = "/appstock/app/fqkline/get"
	tencentMaxRows   = "2000"
)

var tencentColumns = []string{"date", "open", "close", "high", "low", "volume"}

// Tencent serves daily bond and stock quotes.
type Tencent struct {
	f    fetcher.Fetcher
	base string
}

// NewTencent creates the tencent provider.
func NewTencent(f fetcher.Fetcher, baseURL string) *Tencent {
	if baseURL == "" {
		baseURL = TencentBase
	}
	return &Tencent{f: f, base: strings.TrimRight(baseURL, "/")}
}

// ID implements Provider.
func (t *Tencent) ID() string { return "tencent" }

// Capability implements Provider.
func (t *Tencent) Capability() Capability {
	return Capability{
		Datasets:        []Dataset{DatasetBondHistory, DatasetStockHistory},
		SupportsTimeout: true,
		Params:          []string{ParamSymbol, ParamStart, ParamEnd, ParamAdjust},
	}
}

// Fetch implements Provider.
func (t *Tencent) Fetch(ctx context.Context, req Request) (*model.Raw, error) {
	code := model.StripMarketPrefix(req.Param(ParamSymbol, ""))
	var prefix, adjust string
	switch req.Dataset {
	case DatasetBondHistory:
		prefix = model.MarketPrefixForBond(code)
		adjust = req.Param(ParamAdjust, "")
	case DatasetStockHistory:
		prefix = model.MarketPrefixForStock(code)
		adjust = req.Param(ParamAdjust, "hfq")
	default:
		return nil, eris.Errorf("tencent: unsupported dataset %s", req.Dataset)
	}
	if prefix == "" {
		return nil, resilience.NewNotFoundError(eris.Errorf("tencent: invalid symbol %q", code))
	}
	symbol := prefix + code

	param := strings.Join([]string{
		symbol, "day",
		req.Param(ParamStart, "1990-01-01"),
		req.Param(ParamEnd, "2050-12-31"),
		tencentMaxRows, adjust,
	}, ",")
	body, err := t.f.Get(ctx, t.base+tencentKlinePath, url.Values{"param": {param}}, nil)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, eris.Errorf("tencent: invalid kline json for %s", symbol)
	}

	node := gjson.GetBytes(body, "data."+symbol)
	if !node.Exists() || !node.IsObject() {
		return nil, resilience.NewNotFoundError(eris.Errorf("tencent: no data for symbol %s", symbol))
	}
	series := node.Get(adjust + "day")
	if !series.Exists() {
		series = node.Get("day")
	}
	if !series.Exists() {
		return nil, resilience.NewSchemaError("day", eris.Errorf("tencent: kline payload for %s", symbol))
	}
	return arraysTable(series, tencentColumns), nil
}
