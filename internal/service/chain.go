package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/predictionperps/internal/domain"
	"github.com/alanyoungcy/predictionperps/internal/ledgertx"
	"github.com/alanyoungcy/predictionperps/internal/protocol"
)

// Chain is the chain connection shared by every service.
type Chain interface {
	From() common.Address
	Send(ctx context.Context, call protocol.Call) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// TxHooks wires controllers into the desk's shared infrastructure: status
// transitions go to the signal bus and confirmed transactions to the audit
// log. Every dependency is optional.
type TxHooks struct {
	bus    domain.SignalBus
	audit  domain.AuditStore
	sinks  []ledgertx.AfterTxFunc
	watch  []ScopeObserver
	logger *slog.Logger
}

// ScopeObserver receives every transition of every controller built from
// TxHooks, tagged with the controller's scope.
type ScopeObserver func(scope string, ev domain.TxEvent)

// NewTxHooks creates TxHooks. sinks run after every confirmed transaction.
func NewTxHooks(bus domain.SignalBus, audit domain.AuditStore, logger *slog.Logger, sinks ...ledgertx.AfterTxFunc) *TxHooks {
	return &TxHooks{bus: bus, audit: audit, sinks: sinks, logger: logger}
}

type txMessage struct {
	Scope string `json:"scope"`
	domain.TxEvent
}

// Watch registers fn for every transition. It must be called before any
// controller is built.
func (h *TxHooks) Watch(fn ScopeObserver) *TxHooks {
	h.watch = append(h.watch, fn)
	return h
}

// Options returns controller options for operations in scope.
func (h *TxHooks) Options(scope string) []ledgertx.Option {
	if h == nil {
		return nil
	}
	opts := []ledgertx.Option{ledgertx.WithLogger(h.logger)}
	if h.bus != nil {
		opts = append(opts, ledgertx.WithObserver(func(ev domain.TxEvent) {
			payload, err := json.Marshal(txMessage{Scope: scope, TxEvent: ev})
			if err != nil {
				return
			}
			if err := h.bus.Publish(context.Background(), domain.ChannelTx, payload); err != nil {
				h.logger.Warn("tx_hooks: publish failed", slog.String("scope", scope), slog.String("error", err.Error()))
			}
		}))
	}
	for _, fn := range h.watch {
		opts = append(opts, ledgertx.WithObserver(func(ev domain.TxEvent) { fn(scope, ev) }))
	}
	if h.audit != nil {
		opts = append(opts, ledgertx.WithAfterTx(func(ctx context.Context, res *domain.TxResult) error {
			detail := map[string]any{
				"scope":   scope,
				"tx_hash": res.TxHash.Hex(),
				"status":  res.Receipt.Status,
				"gas":     res.Receipt.GasUsed,
			}
			if res.Receipt.BlockNumber != nil {
				detail["block"] = res.Receipt.BlockNumber.Uint64()
			}
			if err := h.audit.Log(ctx, "tx_confirmed", detail); err != nil {
				h.logger.WarnContext(ctx, "tx_hooks: audit log failed", slog.String("error", err.Error()))
			}
			return nil
		}))
	}
	if len(h.sinks) > 0 {
		opts = append(opts, ledgertx.WithAfterTx(h.sinks...))
	}
	return opts
}
