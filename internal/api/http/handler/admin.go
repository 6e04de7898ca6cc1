package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/EternisAI/mailbroker/internal/activation"
	"github.com/EternisAI/mailbroker/internal/api/http/dto"
	"github.com/EternisAI/mailbroker/internal/broadcast"
	"github.com/EternisAI/mailbroker/internal/engine"
	"github.com/EternisAI/mailbroker/internal/monitoring"
	"github.com/EternisAI/mailbroker/internal/provider"
	"github.com/EternisAI/mailbroker/internal/usage"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type KeyRegistry interface {
	GenerateBatch(ctx context.Context, n int) ([]string, error)
	List(ctx context.Context) ([]activation.Key, error)
	ListClaimed(ctx context.Context) ([]activation.Key, error)
}

type UsageReport interface {
	Get(ctx context.Context, requesterID string) (int64, error)
	All(ctx context.Context) ([]usage.Record, error)
	Total(ctx context.Context) (int64, error)
}

type MonitorAdmin interface {
	Monitored(ctx context.Context) ([]monitoring.Resource, error)
	Cancel(ctx context.Context, requesterID string) (string, error)
}

type ProviderInfo interface {
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	GetStock(ctx context.Context) ([]provider.Stock, error)
}

type Broadcaster interface {
	Send(ctx context.Context, message string) (broadcast.Report, error)
}

type AdminHandler struct {
	keys      KeyRegistry
	usage     UsageReport
	monitors  MonitorAdmin
	provider  ProviderInfo
	broadcast Broadcaster
}

func NewAdminHandler(keys KeyRegistry, usageReport UsageReport, monitors MonitorAdmin, providerInfo ProviderInfo, broadcaster Broadcaster) *AdminHandler {
	return &AdminHandler{
		keys:      keys,
		usage:     usageReport,
		monitors:  monitors,
		provider:  providerInfo,
		broadcast: broadcaster,
	}
}

func (h *AdminHandler) GenerateKeys(ctx *gin.Context) {
	var req dto.GenerateKeysRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	codes, err := h.keys.GenerateBatch(ctx.Request.Context(), req.Count)
	if err != nil {
		if errors.Is(err, activation.ErrInvalidBatchSize) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.Error("Failed to generate activation keys", "count", req.Count, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate activation keys"})
		return
	}

	ctx.JSON(http.StatusCreated, dto.GenerateKeysResponse{
		Codes: codes,
		Count: len(codes),
	})
}

// ListKeys accepts ?status=claimed|unclaimed.
func (h *AdminHandler) ListKeys(ctx *gin.Context) {
	status := ctx.Query("status")
	if status != "" && status != "claimed" && status != "unclaimed" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "status must be claimed or unclaimed"})
		return
	}

	var (
		keys []activation.Key
		err  error
	)
	if status == "claimed" {
		keys, err = h.keys.ListClaimed(ctx.Request.Context())
	} else {
		keys, err = h.keys.List(ctx.Request.Context())
	}
	if err != nil {
		slog.Error("Failed to list activation keys", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list activation keys"})
		return
	}

	infos := make([]dto.KeyInfo, 0, len(keys))
	for _, k := range keys {
		if status == "unclaimed" && k.Claimed() {
			continue
		}
		info := dto.KeyInfo{Code: k.Code, Claimant: k.Claimant}
		if !k.CreatedAt.IsZero() {
			createdAt := k.CreatedAt
			info.CreatedAt = &createdAt
		}
		infos = append(infos, info)
	}

	ctx.JSON(http.StatusOK, dto.ListKeysResponse{
		Keys:  infos,
		Count: len(infos),
	})
}

func (h *AdminHandler) ListUsage(ctx *gin.Context) {
	records, err := h.usage.All(ctx.Request.Context())
	if err != nil {
		slog.Error("Failed to list usage", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list usage"})
		return
	}
	total, err := h.usage.Total(ctx.Request.Context())
	if err != nil {
		slog.Error("Failed to total usage", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list usage"})
		return
	}

	infos := make([]dto.UsageInfo, len(records))
	for i, r := range records {
		infos[i] = dto.UsageInfo{RequesterID: r.RequesterID, Count: r.Count}
	}
	ctx.JSON(http.StatusOK, dto.UsageResponse{Requesters: infos, Total: total})
}

func (h *AdminHandler) GetUsage(ctx *gin.Context) {
	requesterID := ctx.Param("id")

	count, err := h.usage.Get(ctx.Request.Context(), requesterID)
	if err != nil {
		slog.Error("Failed to get usage", "requester_id", requesterID, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get usage"})
		return
	}
	ctx.JSON(http.StatusOK, dto.UsageInfo{RequesterID: requesterID, Count: count})
}

func (h *AdminHandler) ListMonitors(ctx *gin.Context) {
	resources, err := h.monitors.Monitored(ctx.Request.Context())
	if err != nil {
		slog.Error("Failed to list monitored accounts", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list monitored accounts"})
		return
	}

	infos := make([]dto.MonitorInfo, len(resources))
	for i, r := range resources {
		infos[i] = dto.MonitorInfo{
			RequesterID: r.RequesterID,
			Address:     provider.AddressOf(r.Handle),
			Handle:      r.Handle,
		}
	}
	ctx.JSON(http.StatusOK, dto.MonitorsResponse{Monitors: infos, Count: len(infos)})
}

func (h *AdminHandler) ClearMonitor(ctx *gin.Context) {
	requesterID := ctx.Param("id")

	handle, err := h.monitors.Cancel(ctx.Request.Context(), requesterID)
	if err != nil {
		if errors.Is(err, engine.ErrNotMonitoring) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": "No account under monitoring for this requester"})
			return
		}
		slog.Error("Failed to clear monitored account", "requester_id", requesterID, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear monitored account"})
		return
	}

	slog.Info("Monitored account cleared by admin", "requester_id", requesterID)
	ctx.JSON(http.StatusOK, dto.MonitorInfo{
		RequesterID: requesterID,
		Address:     provider.AddressOf(handle),
		Handle:      handle,
	})
}

func (h *AdminHandler) Broadcast(ctx *gin.Context) {
	var req dto.BroadcastRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := h.broadcast.Send(ctx.Request.Context(), req.Message)
	if err != nil {
		if errors.Is(err, broadcast.ErrEmptyMessage) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.Error("Broadcast failed", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Broadcast failed"})
		return
	}

	ctx.JSON(http.StatusOK, dto.BroadcastResponse{
		ID:     report.ID,
		Total:  report.Total,
		Sent:   report.Sent,
		Failed: report.Failed,
	})
}

func (h *AdminHandler) ProviderBalance(ctx *gin.Context) {
	balance, err := h.provider.GetBalance(ctx.Request.Context())
	if err != nil {
		providerFailure(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.BalanceResponse{Balance: balance})
}

func (h *AdminHandler) ProviderStock(ctx *gin.Context) {
	stock, err := h.provider.GetStock(ctx.Request.Context())
	if err != nil {
		providerFailure(ctx, err)
		return
	}

	infos := make([]dto.StockInfo, len(stock))
	for i, s := range stock {
		infos[i] = dto.StockInfo{Type: s.Type, Available: s.Available}
	}
	ctx.JSON(http.StatusOK, dto.StockResponse{Stock: infos})
}

func providerFailure(ctx *gin.Context, err error) {
	slog.Warn("Provider call failed", "path", ctx.Request.URL.Path, "error", err)

	var perr *provider.Error
	if errors.As(err, &perr) {
		ctx.JSON(http.StatusBadGateway, gin.H{"error": perr.Reason(), "kind": string(perr.Kind)})
		return
	}
	ctx.JSON(http.StatusBadGateway, gin.H{"error": "Provider unavailable"})
}
