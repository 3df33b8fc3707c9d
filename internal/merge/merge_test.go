package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cbdata/internal/model"
)

var info = model.BondInfo{BondCode: "113050", BondName: "南银转债", StockCode: "601009", StockName: "南京银行"}

func priceOf(t *testing.T, r model.Record) *float64 {
	t.Helper()
	return r.FloatPtr(model.FieldPrice)
}

func TestMerge_BothEmpty(t *testing.T) {
	assert.Empty(t, Merge(nil, nil, []model.Record{{"trade_date": "2024-01-01"}}, info))
}

func TestMerge_PrimaryWinsValuationFills(t *testing.T) {
	primary := []model.Record{
		{"trade_date": "2024-01-02", "price": 10.0},
		{"trade_date": "2024-01-03", "price": nil},
		{"trade_date": "2024-01-04", "price": 12.0},
	}
	valuation := []model.Record{
		{"trade_date": "2024-01-02", "price_val": 9.0, "conv_value": 95.0},
		{"trade_date": "2024-01-03", "price_val": 11.0, "conv_value": 96.0},
		{"trade_date": "2024-01-04", "price_val": 13.0, "conv_value": 97.0},
	}
	out := Merge(primary, valuation, nil, info)
	require.Len(t, out, 3)

	want := []float64{10, 11, 12}
	for i, r := range out {
		p := priceOf(t, r)
		require.NotNil(t, p)
		assert.InDelta(t, want[i], *p, 1e-9)
		assert.NotContains(t, r, "price_val")
	}
	assert.Equal(t, 96.0, out[1]["conv_value"])
}

func TestMerge_ValuationOnly(t *testing.T) {
	valuation := []model.Record{
		{"trade_date": "2024-01-03", "price_val": 101.0, "premium_rate": 20.0},
		{"trade_date": "2024-01-02", "price_val": 100.0, "premium_rate": 25.0},
	}
	out := Merge(nil, valuation, nil, info)
	require.Len(t, out, 2)
	assert.Equal(t, "2024-01-02", out[0].TradeDate())
	assert.Equal(t, 100.0, out[0]["price"])
	assert.NotContains(t, out[0], "price_val")
	assert.Equal(t, 125.0, out[0]["double_low"])
	assert.Equal(t, 121.0, out[1]["double_low"])
}

func TestMerge_BroadcastIdentityAndStock(t *testing.T) {
	primary := []model.Record{
		{"trade_date": "2024-01-02", "price": 100.0},
		{"trade_date": "2024-01-03", "price": 101.0},
	}
	stock := []model.Record{
		{"trade_date": "2024-01-03", "stock_price": 5.5, "stock_chg_pct": 1.2},
	}
	out := Merge(primary, nil, stock, info)
	require.Len(t, out, 2)
	for _, r := range out {
		assert.Equal(t, "113050", r.BondCode())
		assert.Equal(t, "南银转债", r.Str("bond_name"))
		assert.Equal(t, "601009", r.Str("stock_code"))
		assert.Equal(t, "南京银行", r.Str("stock_name"))
	}
	assert.Nil(t, out[0]["stock_price"])
	assert.Equal(t, 5.5, out[1]["stock_price"])
	assert.Equal(t, 1.2, out[1]["stock_chg_pct"])
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	primary := []model.Record{{"trade_date": "2024-01-02", "price": nil}}
	valuation := []model.Record{{"trade_date": "2024-01-02", "price_val": 9.0}}
	Merge(primary, valuation, nil, info)
	assert.Nil(t, primary[0]["price"])
	assert.NotContains(t, primary[0], "bond_code")
}

func TestDerive_PriceChange(t *testing.T) {
	rows := []model.Record{
		{"trade_date": "2024-01-02", "price": 100.0},
		{"trade_date": "2024-01-03", "price": 110.0},
		{"trade_date": "2024-01-04", "price": 99.0},
	}
	Derive(rows)
	assert.Nil(t, rows[0]["price_chg_pct"])
	assert.InDelta(t, 10.0, rows[1]["price_chg_pct"], 1e-9)
	assert.InDelta(t, -10.0, rows[2]["price_chg_pct"], 1e-9)
}

func TestDerive_SkipsNullAndZeroPrior(t *testing.T) {
	rows := []model.Record{
		{"trade_date": "2024-01-02", "price": 0.0},
		{"trade_date": "2024-01-03", "price": 50.0},
		{"trade_date": "2024-01-04", "price": nil},
		{"trade_date": "2024-01-05", "price": 55.0},
	}
	Derive(rows)
	assert.Nil(t, rows[1]["price_chg_pct"], "zero prior price")
	assert.Nil(t, rows[2]["price_chg_pct"], "null price")
	assert.InDelta(t, 10.0, rows[3]["price_chg_pct"], 1e-9, "compares to last non-null price")
}

func TestDerive_DoubleLowNeedsBoth(t *testing.T) {
	rows := []model.Record{
		{"trade_date": "2024-01-02", "price": 100.0, "premium_rate": nil},
		{"trade_date": "2024-01-03", "price": nil, "premium_rate": 5.0},
		{"trade_date": "2024-01-04", "price": 100.0, "premium_rate": -3.0},
	}
	Derive(rows)
	assert.Nil(t, rows[0]["double_low"])
	assert.Nil(t, rows[1]["double_low"])
	assert.Equal(t, 97.0, rows[2]["double_low"])
}

func TestFillDoubleLow(t *testing.T) {
	rows := []model.Record{
		{"bond_code": "113001", "price": 120.0, "premium_rate": 15.5},
		{"bond_code": "123002", "price": 99.0, "premium_rate": 3.0, "double_low": 101.0},
		{"bond_code": "127003", "price": 110.0},
	}
	FillDoubleLow(rows)

	assert.InDelta(t, 135.5, *rows[0].FloatPtr(model.FieldDoubleLow), 1e-9)
	assert.InDelta(t, 101.0, *rows[1].FloatPtr(model.FieldDoubleLow), 1e-9, "existing value kept")
	assert.Nil(t, rows[2].FloatPtr(model.FieldDoubleLow))
}
