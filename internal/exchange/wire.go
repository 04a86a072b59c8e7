package exchange

// These are the upstream JSON wire shapes returned by the exchange
// endpoints the client calls. Only the fields the client's typed results
// use are modeled; anything else upstream sends is ignored by
// encoding/json.

type wireEnvelope[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

type wireContract struct {
	Symbol            string   `json:"symbol"`
	DisplayName       string   `json:"displayName"`
	Asset             string   `json:"asset"`
	Currency          string   `json:"currency"`
	Status            *int     `json:"status"`
	TradeMinQuantity  *float64 `json:"tradeMinQuantity"`
	Size              *float64 `json:"size"`
	MaxQty            *float64 `json:"maxQty"`
	PricePrecision    *int     `json:"pricePrecision"`
	QuantityPrecision *int     `json:"quantityPrecision"`
	MaxLeverage       *float64 `json:"maxLeverage"`
	FeeRate           *float64 `json:"feeRate"`
}

type wireTicker struct {
	Symbol             string  `json:"symbol"`
	LastPrice          float64 `json:"lastPrice"`
	PriceChangePercent float64 `json:"priceChangePercent"`
	BaseVolume         float64 `json:"baseVolume"`
	QuoteVolume        float64 `json:"quoteVolume"`
	HighPrice          float64 `json:"highPrice"`
	LowPrice           float64 `json:"lowPrice"`
	OpenInterest       float64 `json:"openInterest"`
}

type wireBalance struct {
	Asset   string  `json:"asset"`
	Balance float64 `json:"balance"`
	Equity  float64 `json:"equity"`
}

type wirePosition struct {
	Symbol       string  `json:"symbol"`
	PositionSide string  `json:"positionSide"`
	Quantity     float64 `json:"positionAmt"`
	EntryPrice   float64 `json:"avgPrice"`
	UnrealizedPL float64 `json:"unrealizedProfit"`
}

type wireOrderAck struct {
	OrderID string `json:"orderId"`
	Symbol  string `json:"symbol"`
	Status  string `json:"status"`
}

type wireKline struct {
	OpenTime int64   `json:"openTime"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

type wireDepthLevel struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

type wireDepth struct {
	Symbol string           `json:"symbol"`
	Bids   []wireDepthLevel `json:"bids"`
	Asks   []wireDepthLevel `json:"asks"`
}
