package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

type GenerateKeysRequest struct {
	Count int `json:"count" binding:"required,min=1,max=50"`
}

type GenerateKeysResponse struct {
	Codes []string `json:"codes"`
	Count int      `json:"count"`
}

type KeyInfo struct {
	Code      string     `json:"code"`
	Claimant  string     `json:"claimant,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

type ListKeysResponse struct {
	Keys  []KeyInfo `json:"keys"`
	Count int       `json:"count"`
}

type UsageInfo struct {
	RequesterID string `json:"requester_id"`
	Count       int64  `json:"count"`
}

type UsageResponse struct {
	Requesters []UsageInfo `json:"requesters"`
	Total      int64       `json:"total"`
}

type MonitorInfo struct {
	RequesterID string `json:"requester_id"`
	Address     string `json:"address"`
	Handle      string `json:"handle"`
}

type MonitorsResponse struct {
	Monitors []MonitorInfo `json:"monitors"`
	Count    int           `json:"count"`
}

type BroadcastRequest struct {
	Message string `json:"message" binding:"required"`
}

type BroadcastResponse struct {
	ID     string `json:"id"`
	Total  int    `json:"total"`
	Sent   int    `json:"sent"`
	Failed int    `json:"failed"`
}

type BalanceResponse struct {
	Balance decimal.Decimal `json:"balance"`
}

type StockInfo struct {
	Type      string `json:"type"`
	Available int    `json:"available"`
}

type StockResponse struct {
	Stock []StockInfo `json:"stock"`
}
