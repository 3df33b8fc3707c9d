package provider

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/cbdata/internal/fetcher"
	"github.com/sells-group/cbdata/internal/model"
	"github.com/sells-group/cbdata/internal/resilience"
)

// Eastmoney endpoints.
const (
	EastmoneyKlineBase = "https://push2his.eastmoney.com"
	EastmoneyDataBase  = "https://datacenter-web.eastmoney.com"

	eastmoneyKlinePath = "/api/qt/stock/kline/get"
	eastmoneyDataPath  = "/api/data/v1/get"
	eastmoneyPageSize  = 500
	eastmoneyMaxPages  = 50
)

// klineColumns names the fields f51..f61 of an eastmoney kline line.
var klineColumns = []string{"日期", "开盘", "收盘", "最高", "最低", "成交量", "成交额", "振幅", "涨跌幅", "涨跌额", "换手率"}

var cbListColumns = strings.Join([]string{
	"SECURITY_CODE", "SECURITY_NAME_ABBR", "CONVERT_STOCK_CODE", "SECURITY_SHORT_NAME",
	"CURRENT_BOND_PRICE", "CONVERT_STOCK_PRICE", "TRANSFER_PRICE", "TRANSFER_VALUE",
	"TRANSFER_PREMIUM_RATIO", "RATING", "RESALE_TRIG_PRICE", "REDEEM_TRIG_PRICE",
	"EXPIRE_DATE", "PBV_RATIO",
}, ",")

// Eastmoney serves quotes, valuation analysis, and the bond list.
type Eastmoney struct {
	f         fetcher.Fetcher
	klineBase string
	dataBase  string
}

// NewEastmoney creates the eastmoney provider. A non-empty baseURL replaces
// both endpoint hosts.
func NewEastmoney(f fetcher.Fetcher, baseURL string) *Eastmoney {
	e := &Eastmoney{f: f, klineBase: EastmoneyKlineBase, dataBase: EastmoneyDataBase}
	if baseURL != "" {
		base := strings.TrimRight(baseURL, "/")
		e.klineBase, e.dataBase = base, base
	}
	return e
}

// ID implements Provider.
func (e *Eastmoney) ID() string { return "eastmoney" }

// Capability implements Provider.
func (e *Eastmoney) Capability() Capability {
	return Capability{
		Datasets: []Dataset{
			DatasetSnapshot, DatasetBondList, DatasetBondHistory,
			DatasetValueAnalysis, DatasetStockHistory,
		},
		SupportsTimeout: true,
		Params:          []string{ParamSymbol, ParamStart, ParamEnd, ParamAdjust},
	}
}

// Fetch implements Provider.
func (e *Eastmoney) Fetch(ctx context.Context, req Request) (*model.Raw, error) {
	switch req.Dataset {
	case DatasetBondHistory:
		return e.kline(ctx, req, bondSecID, "")
	case DatasetStockHistory:
		return e.kline(ctx, req, stockSecID, "hfq")
	case DatasetValueAnalysis:
		symbol := req.Param(ParamSymbol, "")
		if symbol == "" {
			return nil, eris.New("eastmoney: value analysis requires a symbol")
		}
		return e.report(ctx, url.Values{
			"reportName":  {"RPT_BOND_CB_VALUEANALYSIS"},
			"columns":     {"TRADE_DATE,CLOSE_PRICE,PUREBOND_VALUE,CONVERT_VALUE,PUREBOND_PREMIUM_RATIO,CONVERT_PREMIUM_RATIO"},
			"filter":      {`(SECURITY_CODE="` + symbol + `")`},
			"sortColumns": {"TRADE_DATE"},
			"sortTypes":   {"1"},
		})
	case DatasetSnapshot, DatasetBondList:
		return e.report(ctx, url.Values{
			"reportName":  {"RPT_BOND_CB_LIST"},
			"columns":     {cbListColumns},
			"sortColumns": {"SECURITY_CODE"},
			"sortTypes":   {"1"},
		})
	default:
		return nil, eris.Errorf("eastmoney: unsupported dataset %s", req.Dataset)
	}
}

// bondSecID maps a bond code to an eastmoney secid (1=sh, 0=sz).
func bondSecID(code string) string {
	if model.MarketPrefixForBond(code) == "sh" {
		return "1." + code
	}
	return "0." + code
}

func stockSecID(code string) string {
	if model.MarketPrefixForStock(code) == "sh" {
		return "1." + code
	}
	return "0." + code
}

func (e *Eastmoney) kline(ctx context.Context, req Request, secID func(string) string, defAdjust string) (*model.Raw, error) {
	symbol := model.StripMarketPrefix(req.Param(ParamSymbol, ""))
	if symbol == "" {
		return nil, eris.New("eastmoney: kline requires a symbol")
	}
	fqt := "0"
	switch req.Param(ParamAdjust, defAdjust) {
	case "qfq":
		fqt = "1"
	case "hfq":
		fqt = "2"
	}
	params := url.Values{
		"secid":   {secID(symbol)},
		"fields1": {"f1,f2,f3,f4,f5,f6"},
		"fields2": {"f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61"},
		"klt":     {"101"},
		"fqt":     {fqt},
		"beg":     {compactDate(req.Param(ParamStart, "19900101"))},
		"end":     {compactDate(req.Param(ParamEnd, "20500101"))},
	}

	body, err := e.f.Get(ctx, e.klineBase+eastmoneyKlinePath, params, nil)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, eris.Errorf("eastmoney: invalid kline json for %s", symbol)
	}
	data := gjson.GetBytes(body, "data")
	if !data.Exists() || data.Type == gjson.Null {
		return nil, resilience.NewNotFoundError(eris.Errorf("eastmoney: symbol %s not found", symbol))
	}
	klines := data.Get("klines")
	if !klines.Exists() {
		return nil, resilience.NewSchemaError("klines", eris.Errorf("eastmoney: kline payload for %s", symbol))
	}
	return csvTable(klines, klineColumns), nil
}

// report pages through a datacenter report.
func (e *Eastmoney) report(ctx context.Context, params url.Values) (*model.Raw, error) {
	params.Set("pageSize", strconv.Itoa(eastmoneyPageSize))
	params.Set("source", "WEB")
	params.Set("client", "WEB")

	out := &model.Raw{}
	index := make(map[string]int)
	for page := 1; page <= eastmoneyMaxPages; page++ {
		params.Set("pageNumber", strconv.Itoa(page))
		body, err := e.f.Get(ctx, e.dataBase+eastmoneyDataPath, params, nil)
		if err != nil {
			return nil, err
		}
		if !gjson.ValidBytes(body) {
			return nil, eris.Errorf("eastmoney: invalid report json for %s", params.Get("reportName"))
		}
		result := gjson.GetBytes(body, "result")
		if !result.Exists() || result.Type == gjson.Null {
			if page == 1 {
				return nil, resilience.NewNotFoundError(eris.Errorf("eastmoney: no data for %s: %s",
					params.Get("reportName"), gjson.GetBytes(body, "message").String()))
			}
			break
		}
		data := result.Get("data")
		if !data.Exists() {
			return nil, resilience.NewSchemaError("data", eris.Errorf("eastmoney: report %s", params.Get("reportName")))
		}
		appendTable(out, index, objectsTable(data))

		pages := int(result.Get("pages").Int())
		if page >= pages {
			break
		}
	}
	return out, nil
}

// appendTable merges src rows into dst, widening dst's columns as needed.
func appendTable(dst *model.Raw, index map[string]int, src *model.Raw) {
	for _, c := range src.Columns {
		if _, ok := index[c]; !ok {
			index[c] = len(dst.Columns)
			dst.Columns = append(dst.Columns, c)
		}
	}
	for i, row := range dst.Rows {
		if len(row) < len(dst.Columns) {
			dst.Rows[i] = append(row, make([]any, len(dst.Columns)-len(row))...)
		}
	}
	for _, row := range src.Rows {
		out := make([]any, len(dst.Columns))
		for j, c := range src.Columns {
			out[index[c]] = row[j]
		}
		dst.Rows = append(dst.Rows, out)
	}
}

// compactDate renders YYYY-MM-DD as YYYYMMDD.
func compactDate(d string) string {
	return strings.ReplaceAll(d, "-", "")
}
