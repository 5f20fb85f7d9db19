package feed

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"main/internal/model"
)

const _binanceBaseWsUrl = "wss://stream.binance.com:9443/ws"

// BinanceFeed streams public trades from Binance and converts them
// into canonical ticks.
type BinanceFeed struct {
	wss *ws.WebSocket
}

// NewBinanceFeed creates a feed against the public trade stream.
func NewBinanceFeed(ctx context.Context) *BinanceFeed {
	return &BinanceFeed{
		wss: ws.New(ctx, _binanceBaseWsUrl),
	}
}

func (f *BinanceFeed) Start(ctx context.Context) error {
	if err := f.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start wss")
	}
	return nil
}

func (f *BinanceFeed) Close() {
	f.wss.Close()
}

type binanceSubscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type binanceSubscribeResponse struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

// SubscribeTrades subscribes the '@trade' stream for symbol.
func (f *BinanceFeed) SubscribeTrades(ctx context.Context, symbol string) error {
	appendIntoRegister := true
	if err := f.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, ws *ws.WebSocket) error {
			payload := binanceSubscribeRequest{
				Method: "SUBSCRIBE",
				Params: []string{
					fmt.Sprintf("%s@trade", strings.ToLower(symbol)),
				},
				ID: 1,
			}

			if err := ws.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}

			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			var resp binanceSubscribeResponse
			if err := m.Unmarshal(&resp); err != nil || resp.ID != 1 {
				return false, nil
			}

			if resp.Result != nil {
				return false, errors.Errorf("subscribe and wait, err: %+v", resp.Result)
			}
			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "send and wait")
	}

	return nil
}

type binanceTrade struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	TradeID   int64  `json:"t"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

// ObserveTrades delivers each trade as a canonical tick until the
// context or process shuts down.
func (f *BinanceFeed) ObserveTrades(ctx context.Context, handler func(model.CanonicalTick)) (unsubscribe func()) {
	ch, cancel := f.wss.Subscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				trade, ok := ws.ReadMessage[binanceTrade](m)
				if !ok || trade.EventType != "trade" {
					continue
				}

				tick, err := tradeToTick(trade)
				if err != nil {
					logs.Warnf("feed: drop malformed trade: %v", err)
					continue
				}

				handler(tick)
			}
		}
	}()

	return cancel
}

func tradeToTick(trade binanceTrade) (model.CanonicalTick, error) {
	price, err := strconv.ParseFloat(trade.Price, 64)
	if err != nil {
		return model.CanonicalTick{}, errors.Wrap(err, "parse trade price").With("price", trade.Price)
	}
	size, err := strconv.ParseFloat(trade.Quantity, 64)
	if err != nil {
		return model.CanonicalTick{}, errors.Wrap(err, "parse trade quantity").With("quantity", trade.Quantity)
	}
	tick := model.CanonicalTick{
		Source:      "binance",
		Symbol:      trade.Symbol,
		TimestampMs: trade.TradeTime,
		Price:       price,
		Size:        size,
	}
	if err := tick.Validate(); err != nil {
		return model.CanonicalTick{}, err
	}
	return tick, nil
}
