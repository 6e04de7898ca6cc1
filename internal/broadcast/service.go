// Package broadcast sends one admin message to every activated requester.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/EternisAI/mailbroker/internal/notify"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const DefaultConcurrency = 8

var ErrEmptyMessage = errors.New("broadcast message is empty")

type ClaimantLister interface {
	Claimants(ctx context.Context) ([]string, error)
}

type Config struct {
	Concurrency int `mapstructure:"concurrency"`
}

// Report summarises one broadcast. Failed recipients do not stop the rest.
type Report struct {
	ID     string `json:"id"`
	Total  int    `json:"total"`
	Sent   int    `json:"sent"`
	Failed int    `json:"failed"`
}

type Service struct {
	claimants ClaimantLister
	sender    notify.Sender
	limit     int
}

func NewService(claimants ClaimantLister, sender notify.Sender, cfg Config) *Service {
	limit := cfg.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	return &Service{
		claimants: claimants,
		sender:    sender,
		limit:     limit,
	}
}

func (s *Service) Send(ctx context.Context, message string) (Report, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Report{}, ErrEmptyMessage
	}

	recipients, err := s.claimants.Claimants(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to list recipients: %w", err)
	}

	report := Report{ID: uuid.NewString(), Total: len(recipients)}
	log := slog.With("broadcast_id", report.ID)
	log.Info("Broadcast started", "recipients", report.Total)

	var sent, failed atomic.Int64
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.limit)
	for _, recipient := range recipients {
		eg.Go(func() error {
			if err := s.sender.Send(egCtx, recipient, message); err != nil {
				failed.Add(1)
				log.Warn("Broadcast delivery failed", "recipient", recipient, "error", err)
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	// Workers never return errors; only ctx cancellation ends the batch early.
	_ = eg.Wait()

	report.Sent = int(sent.Load())
	report.Failed = int(failed.Load())
	log.Info("Broadcast finished", "sent", report.Sent, "failed", report.Failed)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}
