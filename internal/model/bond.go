package model

import "time"

// BondInfo is the identity of one convertible bond.
type BondInfo struct {
	BondCode  string `json:"bond_code"`
	BondName  string `json:"bond_name"`
	StockCode string `json:"stock_code"`
	StockName string `json:"stock_name"`
}

// Record converts the identity into a storable record.
func (b BondInfo) Record() Record {
	return Record{
		FieldBondCode:  b.BondCode,
		FieldBondName:  b.BondName,
		FieldStockCode: b.StockCode,
		FieldStockName: b.StockName,
	}
}

// BondInfoFromRecord extracts the identity fields from a record.
func BondInfoFromRecord(r Record) BondInfo {
	return BondInfo{
		BondCode:  r.Str(FieldBondCode),
		BondName:  r.Str(FieldBondName),
		StockCode: r.Str(FieldStockCode),
		StockName: r.Str(FieldStockName),
	}
}

// BondRecord is one bond on one trading date as read back from the store.
type BondRecord struct {
	TradeDate               string   `json:"trade_date"`
	BondCode                string   `json:"bond_code"`
	BondName                string   `json:"bond_name,omitempty"`
	Price                   *float64 `json:"price"`
	PriceChgPct             *float64 `json:"price_chg_pct"`
	OpenPrice               *float64 `json:"open_price"`
	HighPrice               *float64 `json:"high_price"`
	LowPrice                *float64 `json:"low_price"`
	Volume                  *float64 `json:"volume"`
	Turnover                *float64 `json:"turnover"`
	TurnoverRate            *float64 `json:"turnover_rate"`
	StockCode               string   `json:"stock_code,omitempty"`
	StockName               string   `json:"stock_name,omitempty"`
	StockPrice              *float64 `json:"stock_price"`
	StockChgPct             *float64 `json:"stock_chg_pct"`
	StockPB                 *float64 `json:"stock_pb"`
	ConvPrice               *float64 `json:"conv_price"`
	ConvValue               *float64 `json:"conv_value"`
	PremiumRate             *float64 `json:"premium_rate"`
	PureBondValue           *float64 `json:"pure_bond_value"`
	PureBondPremiumRate     *float64 `json:"pure_bond_premium_rate"`
	DoubleLow               *float64 `json:"double_low"`
	BondRating              string   `json:"bond_rating,omitempty"`
	PutTriggerPrice         *float64 `json:"put_trigger_price"`
	ForceRedeemTriggerPrice *float64 `json:"force_redeem_trigger_price"`
	ConvProportion          *float64 `json:"conv_proportion"`
	MaturityDate            string   `json:"maturity_date,omitempty"`
	RemainingYears          *float64 `json:"remaining_years"`
	RemainingSize           *float64 `json:"remaining_size"`
	YTMBeforeTax            *float64 `json:"ytm_before_tax"`
}

// BondRecordFromRecord converts a normalized record into its typed form.
// Unknown keys are ignored.
func BondRecordFromRecord(r Record) BondRecord {
	return BondRecord{
		TradeDate:               r.Str(FieldTradeDate),
		BondCode:                r.Str(FieldBondCode),
		BondName:                r.Str(FieldBondName),
		Price:                   r.FloatPtr(FieldPrice),
		PriceChgPct:             r.FloatPtr(FieldPriceChgPct),
		OpenPrice:               r.FloatPtr(FieldOpen),
		HighPrice:               r.FloatPtr(FieldHigh),
		LowPrice:                r.FloatPtr(FieldLow),
		Volume:                  r.FloatPtr(FieldVolume),
		Turnover:                r.FloatPtr(FieldTurnover),
		TurnoverRate:            r.FloatPtr(FieldTurnoverRate),
		StockCode:               r.Str(FieldStockCode),
		StockName:               r.Str(FieldStockName),
		StockPrice:              r.FloatPtr(FieldStockPrice),
		StockChgPct:             r.FloatPtr(FieldStockChgPct),
		StockPB:                 r.FloatPtr(FieldStockPB),
		ConvPrice:               r.FloatPtr(FieldConvPrice),
		ConvValue:               r.FloatPtr(FieldConvValue),
		PremiumRate:             r.FloatPtr(FieldPremiumRate),
		PureBondValue:           r.FloatPtr(FieldPureBondValue),
		PureBondPremiumRate:     r.FloatPtr(FieldPureBondPremiumRate),
		DoubleLow:               r.FloatPtr(FieldDoubleLow),
		BondRating:              r.Str(FieldBondRating),
		PutTriggerPrice:         r.FloatPtr(FieldPutTriggerPrice),
		ForceRedeemTriggerPrice: r.FloatPtr(FieldForceRedeemTriggerPrice),
		ConvProportion:          r.FloatPtr(FieldConvProportion),
		MaturityDate:            r.Str(FieldMaturityDate),
		RemainingYears:          r.FloatPtr(FieldRemainingYears),
		RemainingSize:           r.FloatPtr(FieldRemainingSize),
		YTMBeforeTax:            r.FloatPtr(FieldYTMBeforeTax),
	}
}

// ColumnStat describes missing-value statistics for one column.
type ColumnStat struct {
	Column      string  `json:"column"`
	Type        string  `json:"type,omitempty"`
	NullCount   int64   `json:"null_count"`
	NullPct     float64 `json:"null_pct"`
	Distinct    int64   `json:"distinct,omitempty"`
	Description string  `json:"description,omitempty"`
}

// DateRange is the span of trading dates present in history.
type DateRange struct {
	Start       string `json:"start"`
	End         string `json:"end"`
	TradingDays int64  `json:"trading_days"`
}

// QualityReport is an immutable audit snapshot of the history table.
type QualityReport struct {
	ID                string       `json:"id"`
	GeneratedAt       time.Time    `json:"generated_at"`
	TotalBonds        int64        `json:"total_bonds"`
	TotalRecords      int64        `json:"total_records"`
	DateRange         DateRange    `json:"date_range"`
	Columns           []ColumnStat `json:"columns"`
	CompletenessScore float64      `json:"completeness_score"`
	FreshnessScore    float64      `json:"freshness_score"`
	DaysSinceUpdate   *int         `json:"days_since_update,omitempty"`
	OverallScore      float64      `json:"overall_score"`
	Errors            []string     `json:"errors,omitempty"`
}
