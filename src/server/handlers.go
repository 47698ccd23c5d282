package server

import (
	"encoding/json"
	"net/http"

	logger "github.com/sirupsen/logrus"

	"tradingcore/src/exchanges"
	"tradingcore/src/model"
)

type channelStatus struct {
	Name      string `json:"name"`
	Consumers int    `json:"consumers"`
	Paused    bool   `json:"paused"`
}

type instanceChannels struct {
	ExchangeID string          `json:"exchange_id"`
	Channels   []channelStatus `json:"channels"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Error("Failed to encode response")
	}
}

// resolveManagers selects one instance by exchange_id or all of them.
func resolveManagers(r *http.Request) ([]*exchanges.Manager, bool) {
	if id := r.URL.Query().Get("exchange_id"); id != "" {
		m, ok := exchanges.GetManager(id)
		if !ok {
			return nil, false
		}
		return []*exchanges.Manager{m}, true
	}
	return exchanges.Managers(), true
}

// ChannelsHandler lists every channel of every running instance.
func ChannelsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		managers, ok := resolveManagers(r)
		if !ok {
			http.Error(w, "unknown exchange_id", http.StatusNotFound)
			return
		}

		out := make([]instanceChannels, 0, len(managers))
		for _, m := range managers {
			entry := instanceChannels{ExchangeID: m.ExchangeID()}
			for _, ch := range m.Registry.Channels() {
				entry.Channels = append(entry.Channels, channelStatus{
					Name:      ch.Name(),
					Consumers: ch.ConsumerCount(),
					Paused:    ch.IsPaused(),
				})
			}
			out = append(out, entry)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// PortfolioHandler returns the balance snapshot per instance.
func PortfolioHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		managers, ok := resolveManagers(r)
		if !ok {
			http.Error(w, "unknown exchange_id", http.StatusNotFound)
			return
		}

		out := make(map[string]map[string]model.Balance, len(managers))
		for _, m := range managers {
			out[m.ExchangeID()] = m.Portfolio.Snapshot()
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// OrdersHandler returns the tracked orders per instance.
func OrdersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		managers, ok := resolveManagers(r)
		if !ok {
			http.Error(w, "unknown exchange_id", http.StatusNotFound)
			return
		}

		out := make(map[string][]*model.Order, len(managers))
		for _, m := range managers {
			tracked := m.Orders.Orders()
			orders := make([]*model.Order, 0, len(tracked))
			for _, t := range tracked {
				orders = append(orders, t.Order)
			}
			out[m.ExchangeID()] = orders
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// TradesHandler returns the trade ledger per instance.
func TradesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		managers, ok := resolveManagers(r)
		if !ok {
			http.Error(w, "unknown exchange_id", http.StatusNotFound)
			return
		}

		out := make(map[string][]*model.Trade, len(managers))
		for _, m := range managers {
			out[m.ExchangeID()] = m.Trades.Trades()
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// PositionsHandler returns the open positions per instance.
func PositionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		managers, ok := resolveManagers(r)
		if !ok {
			http.Error(w, "unknown exchange_id", http.StatusNotFound)
			return
		}

		out := make(map[string][]*model.Position, len(managers))
		for _, m := range managers {
			out[m.ExchangeID()] = m.Positions.Positions()
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// TransactionsHandler returns the transaction ledger per instance.
func TransactionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		managers, ok := resolveManagers(r)
		if !ok {
			http.Error(w, "unknown exchange_id", http.StatusNotFound)
			return
		}

		out := make(map[string][]*model.Transaction, len(managers))
		for _, m := range managers {
			out[m.ExchangeID()] = m.Transactions.Transactions()
		}
		writeJSON(w, http.StatusOK, out)
	}
}
