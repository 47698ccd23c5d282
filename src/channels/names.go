package channels

// Stable channel names, shared with every subscriber at the core boundary.
const (
	OHLCVChannel                = "OHLCV"
	KlineChannel                = "KLINE"
	TickerChannel               = "TICKER"
	MiniTickerChannel           = "MINI_TICKER"
	RecentTradesChannel         = "RECENT_TRADES"
	LiquidationsChannel         = "LIQUIDATIONS"
	OrderBookChannel            = "ORDER_BOOK"
	OrderBookTickerChannel      = "ORDER_BOOK_TICKER"
	MarkPriceChannel            = "MARK_PRICE"
	FundingChannel              = "FUNDING"
	MarketsChannel              = "MARKETS"
	BalanceChannel              = "BALANCE"
	BalanceProfitabilityChannel = "BALANCE_PROFITABILITY"
	OrdersChannel               = "ORDERS"
	TradesChannel               = "TRADES"
	PositionsChannel            = "POSITIONS"
	ModeChannel                 = "MODE"
)

// Routing keys a consumer filter may constrain.
const (
	KeySymbol         = "symbol"
	KeyCryptocurrency = "cryptocurrency"
	KeyTimeFrame      = "time_frame"
	KeyTradingMode    = "trading_mode_name"
	KeyState          = "state"
)
