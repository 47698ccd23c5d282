package connectors

import (
	"fmt"

	"tradingcore/src/exchange"
	"tradingcore/src/model"
)

// Field extraction for the gateway's JSON payloads, plugged into the
// exchange.Adapter. Panics and malformed fields surface as
// UnexpectedAdapterError through the adapter contract.

func gatewayOrderFields(raw map[string]any) (*model.RawOrder, error) {
	exchangeOrderID, err := exchange.ParseExchangeOrderID(raw)
	if err != nil {
		return nil, err
	}
	symbol, err := exchange.ParseOrderSymbol(raw)
	if err != nil {
		return nil, err
	}

	order := &model.RawOrder{
		ExchangeOrderID: exchangeOrderID,
		Symbol:          symbol.String(),
	}
	if v, ok := raw["client_order_id"].(string); ok {
		order.ClientOrderID = v
	}
	if v, ok := raw["side"].(string); ok {
		order.Side = model.OrderSide(v)
	}
	if v, ok := raw["type"].(string); ok {
		order.Type = model.OrderType(v)
	}
	if v, ok := raw["status"].(string); ok {
		order.Status = model.OrderStatus(v)
	}
	if v, ok := raw["tag"].(string); ok {
		order.Tag = v
	}
	if v, ok := raw["reduce_only"].(bool); ok {
		order.ReduceOnly = v
	}
	if v, ok := raw["post_only"].(bool); ok {
		order.PostOnly = v
	}
	if v, ok := raw["timestamp"].(float64); ok {
		order.Timestamp = int64(v)
	}

	if order.Price, err = exchange.DecimalField(raw, "price"); err != nil {
		return nil, err
	}
	if order.Amount, err = exchange.DecimalField(raw, "quantity"); err != nil {
		return nil, err
	}
	if order.Filled, err = exchange.DecimalField(raw, "filled"); err != nil {
		return nil, err
	}
	if order.AverageFill, err = exchange.DecimalField(raw, "average_fill"); err != nil {
		return nil, err
	}
	if order.Cost, err = exchange.DecimalField(raw, "cost"); err != nil {
		return nil, err
	}

	if feeRaw, ok := raw["fee"].(map[string]any); ok {
		fee := &model.Fee{}
		if v, ok := feeRaw["currency"].(string); ok {
			fee.Currency = v
		}
		if fee.Cost, err = exchange.DecimalField(feeRaw, "cost"); err != nil {
			return nil, err
		}
		if fee.Rate, err = exchange.DecimalField(feeRaw, "rate"); err != nil {
			return nil, err
		}
		order.Fee = fee
	}
	return order, nil
}

func gatewayPositionFields(raw map[string]any) (*model.RawPosition, error) {
	symbol, ok := raw["symbol"].(string)
	if !ok || symbol == "" {
		return nil, fmt.Errorf("raw position has no symbol")
	}

	position := &model.RawPosition{Symbol: symbol}
	if v, ok := raw["side"].(string); ok {
		position.Side = model.PositionSide(v)
	}
	if v, ok := raw["margin_type"].(string); ok {
		position.MarginType = model.MarginType(v)
	}
	if v, ok := raw["contract_type"].(string); ok {
		position.ContractType = model.ContractType(v)
	}
	if v, ok := raw["position_mode"].(string); ok {
		position.PositionMode = model.PositionMode(v)
	}
	if v, ok := raw["timestamp"].(float64); ok {
		position.Timestamp = int64(v)
	}

	var err error
	if position.Quantity, err = exchange.DecimalField(raw, "quantity"); err != nil {
		return nil, err
	}
	if position.EntryPrice, err = exchange.DecimalField(raw, "entry_price"); err != nil {
		return nil, err
	}
	if position.MarkPrice, err = exchange.DecimalField(raw, "mark_price"); err != nil {
		return nil, err
	}
	if position.LiquidationPrice, err = exchange.DecimalField(raw, "liquidation_price"); err != nil {
		return nil, err
	}
	if position.Leverage, err = exchange.DecimalField(raw, "leverage"); err != nil {
		return nil, err
	}
	if position.Margin, err = exchange.DecimalField(raw, "margin"); err != nil {
		return nil, err
	}
	if position.UnrealizedPnl, err = exchange.DecimalField(raw, "unrealized_pnl"); err != nil {
		return nil, err
	}
	if position.RealizedPnl, err = exchange.DecimalField(raw, "realized_pnl"); err != nil {
		return nil, err
	}
	return position, nil
}

func gatewayTickerFields(raw map[string]any) (*model.Ticker, error) {
	symbol, ok := raw["symbol"].(string)
	if !ok || symbol == "" {
		return nil, fmt.Errorf("raw ticker has no symbol")
	}

	ticker := &model.Ticker{Symbol: symbol}
	if v, ok := raw["timestamp"].(float64); ok {
		ticker.Timestamp = int64(v)
	}

	var err error
	if ticker.Bid, err = exchange.DecimalField(raw, "bid"); err != nil {
		return nil, err
	}
	if ticker.Ask, err = exchange.DecimalField(raw, "ask"); err != nil {
		return nil, err
	}
	if ticker.Last, err = exchange.DecimalField(raw, "last"); err != nil {
		return nil, err
	}
	if ticker.High, err = exchange.DecimalField(raw, "high"); err != nil {
		return nil, err
	}
	if ticker.Low, err = exchange.DecimalField(raw, "low"); err != nil {
		return nil, err
	}
	if ticker.Volume, err = exchange.DecimalField(raw, "volume"); err != nil {
		return nil, err
	}
	return ticker, nil
}
