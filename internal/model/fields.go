package model

// Canonical field names.
const (
	FieldTradeDate               = "trade_date"
	FieldBondCode                = "bond_code"
	FieldBondName                = "bond_name"
	FieldPrice                   = "price"
	FieldPriceVal                = "price_val"
	FieldPriceChgPct             = "price_chg_pct"
	FieldOpen                    = "open_price"
	FieldHigh                    = "high_price"
	FieldLow                     = "low_price"
	FieldVolume                  = "volume"
	FieldTurnover                = "turnover"
	FieldTurnoverRate            = "turnover_rate"
	FieldStockCode               = "stock_code"
	FieldStockName               = "stock_name"
	FieldStockPrice              = "stock_price"
	FieldStockChgPct             = "stock_chg_pct"
	FieldStockPB                 = "stock_pb"
	FieldConvPrice               = "conv_price"
	FieldConvValue               = "conv_value"
	FieldPremiumRate             = "premium_rate"
	FieldPureBondValue           = "pure_bond_value"
	FieldPureBondPremiumRate     = "pure_bond_premium_rate"
	FieldDoubleLow               = "double_low"
	FieldBondRating              = "bond_rating"
	FieldPutTriggerPrice         = "put_trigger_price"
	FieldForceRedeemTriggerPrice = "force_redeem_trigger_price"
	FieldConvProportion          = "conv_proportion"
	FieldMaturityDate            = "maturity_date"
	FieldRemainingYears          = "remaining_years"
	FieldRemainingSize           = "remaining_size"
	FieldYTMBeforeTax            = "ytm_before_tax"
)

// NumericFields are coerced to float64 during normalization.
var NumericFields = map[string]bool{
	FieldPrice:                   true,
	FieldPriceVal:                true,
	FieldPriceChgPct:             true,
	FieldOpen:                    true,
	FieldHigh:                    true,
	FieldLow:                     true,
	FieldVolume:                  true,
	FieldTurnover:                true,
	FieldTurnoverRate:            true,
	FieldStockPrice:              true,
	FieldStockChgPct:             true,
	FieldStockPB:                 true,
	FieldConvPrice:               true,
	FieldConvValue:               true,
	FieldPremiumRate:             true,
	FieldPureBondValue:           true,
	FieldPureBondPremiumRate:     true,
	FieldDoubleLow:               true,
	FieldPutTriggerPrice:         true,
	FieldForceRedeemTriggerPrice: true,
	FieldConvProportion:          true,
	FieldRemainingYears:          true,
	FieldRemainingSize:           true,
	FieldYTMBeforeTax:            true,
}

// DateFields are rendered as YYYY-MM-DD.
var DateFields = map[string]bool{
	FieldTradeDate:    true,
	FieldMaturityDate: true,
}

// IdentityFields are broadcast onto every merged row of a bond.
var IdentityFields = []string{
	FieldBondCode,
	FieldBondName,
	FieldStockCode,
	FieldStockName,
}

// StaticFields change rarely and are copied from the latest snapshot into
// history rows that lack them.
var StaticFields = []string{
	FieldBondRating,
	FieldPutTriggerPrice,
	FieldForceRedeemTriggerPrice,
	FieldConvPrice,
	FieldMaturityDate,
	FieldStockPB,
}

// FieldDescriptions labels columns for the dashboard quality view.
var FieldDescriptions = map[string]string{
	FieldTradeDate:               "trade date",
	FieldBondCode:                "bond code",
	FieldBondName:                "bond name",
	FieldPrice:                   "close price",
	FieldPriceChgPct:             "price change %",
	FieldOpen:                    "open price",
	FieldHigh:                    "high price",
	FieldLow:                     "low price",
	FieldVolume:                  "volume (shares)",
	FieldTurnover:                "turnover amount",
	FieldTurnoverRate:            "turnover rate",
	FieldStockCode:               "underlying stock code",
	FieldStockName:               "underlying stock name",
	FieldStockPrice:              "underlying stock price",
	FieldStockChgPct:             "underlying stock change %",
	FieldStockPB:                 "underlying stock P/B",
	FieldConvPrice:               "conversion price",
	FieldConvValue:               "conversion value",
	FieldPremiumRate:             "conversion premium rate",
	FieldPureBondValue:           "pure bond value",
	FieldPureBondPremiumRate:     "pure bond premium rate",
	FieldDoubleLow:               "double low",
	FieldBondRating:              "credit rating",
	FieldPutTriggerPrice:         "put trigger price",
	FieldForceRedeemTriggerPrice: "forced redemption trigger price",
	FieldConvProportion:          "converted proportion",
	FieldMaturityDate:            "maturity date",
	FieldRemainingYears:          "remaining years",
	FieldRemainingSize:           "remaining size",
	FieldYTMBeforeTax:            "pre-tax yield to maturity",
}

// HistoryFields lists the columns of a history row in storage order.
var HistoryFields = []string{
	FieldTradeDate, FieldBondCode, FieldBondName,
	FieldPrice, FieldPriceChgPct, FieldOpen, FieldHigh, FieldLow,
	FieldVolume, FieldTurnover, FieldTurnoverRate,
	FieldStockCode, FieldStockName, FieldStockPrice, FieldStockChgPct, FieldStockPB,
	FieldConvPrice, FieldConvValue, FieldPremiumRate,
	FieldPureBondValue, FieldPureBondPremiumRate, FieldDoubleLow,
	FieldBondRating, FieldPutTriggerPrice, FieldForceRedeemTriggerPrice,
	FieldConvProportion, FieldMaturityDate, FieldRemainingYears,
	FieldRemainingSize, FieldYTMBeforeTax,
}

// IsCanonical reports whether name is a known canonical field.
func IsCanonical(name string) bool {
	if name == FieldPriceVal {
		return true
	}
	for _, f := range HistoryFields {
		if f == name {
			return true
		}
	}
	return false
}
