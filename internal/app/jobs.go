/**
 * @description
 * Scheduled job implementations for the ledger-service: the relocation router,
 * the stale intent sweep, and remote rate pruning.
 */
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/yieldrelay/ledger-service/internal/config"
	"github.com/yieldrelay/ledger-service/internal/domain"
	"github.com/yieldrelay/ledger-service/internal/store"
	"github.com/yieldrelay/ledger-service/internal/strategy"
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo       store.Repository
	service    *Service
	strategies *strategy.Registry
	logger     *slog.Logger
	config     config.Config
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo store.Repository, service *Service, strategies *strategy.Registry, logger *slog.Logger, cfg config.Config) *Jobs {
	return &Jobs{
		repo:       repo,
		service:    service,
		strategies: strategies,
		logger:     logger,
		config:     cfg,
	}
}

// EvaluateRelocations is the router job. For every enabled mandate it compares
// the best local strategy rate against fresh remote rates and either relocates
// the user's idle balance to the better chain or deploys it locally. Failures
// for one user never stop the sweep.
func (j *Jobs) EvaluateRelocations() {
	j.logger.Info("starting relocation evaluation job")
	ctx := context.Background()

	mandates, err := j.repo.ListEnabledMandates(ctx)
	if err != nil {
		j.logger.Error("failed to list enabled mandates", "error", err)
		return
	}
	if len(mandates) == 0 {
		j.logger.Info("no enabled relocation mandates")
		return
	}

	j.logger.Info("evaluating mandates", "count", len(mandates))
	freshSince := time.Now().Add(-time.Duration(j.config.RemoteRateTTLMin) * time.Minute)

	for _, mandate := range mandates {
		threshold := mandate.MinIdleAmount
		if threshold < j.config.MinRelocationAmount {
			threshold = j.config.MinRelocationAmount
		}

		balance, err := j.repo.GetBalance(ctx, mandate.UserID, mandate.Asset)
		if err != nil {
			if errors.Is(err, store.ErrBalanceNotFound) {
				continue
			}
			j.logger.Error("failed to load balance", "user_id", mandate.UserID, "asset", mandate.Asset, "error", err)
			continue
		}
		idle := balance.Available
		if idle < threshold {
			continue
		}

		localID, localRate, localErr := j.strategies.BestActive(ctx, mandate.Asset)
		localKnown := localErr == nil

		rates, err := j.repo.ListFreshRemoteRates(ctx, mandate.Asset, freshSince)
		if err != nil {
			j.logger.Error("failed to load remote rates", "asset", mandate.Asset, "error", err)
			continue
		}
		var bestRemote *domain.RemoteRate
		for i := range rates {
			if rates[i].ChainID == j.service.ChainID() {
				continue
			}
			if bestRemote == nil || rates[i].RateBps > bestRemote.RateBps {
				bestRemote = &rates[i]
			}
		}

		if bestRemote != nil && (!localKnown || bestRemote.RateBps > localRate+j.config.RelocationMarginBps) {
			maxFee := idle * j.config.AutoRelocationMaxFeeBps / 10000
			if maxFee <= 0 {
				j.logger.Info("fee allowance rounds to zero; leaving funds in place", "user_id", mandate.UserID, "idle", idle)
				continue
			}
			j.logger.Info("relocating idle funds",
				"user_id", mandate.UserID, "asset", mandate.Asset, "amount", idle,
				"destination", bestRemote.ChainID, "remote_rate_bps", bestRemote.RateBps, "local_rate_bps", localRate)
			req := domain.RelocationRequest{
				Asset:            mandate.Asset,
				Amount:           idle,
				DestinationChain: bestRemote.ChainID,
				MaxFee:           maxFee,
			}
			if _, err := j.service.RequestRelocation(ctx, mandate.UserID, req); err != nil {
				if errors.Is(err, store.ErrRelocationInFlight) {
					j.logger.Info("relocation already in flight; skipping", "user_id", mandate.UserID, "destination", bestRemote.ChainID)
					continue
				}
				j.logger.Error("failed to relocate idle funds", "user_id", mandate.UserID, "destination", bestRemote.ChainID, "error", err)
			}
			continue
		}

		if !localKnown {
			j.logger.Info("no active local strategy; leaving funds idle", "user_id", mandate.UserID, "asset", mandate.Asset)
			continue
		}
		j.logger.Info("deploying idle funds locally",
			"user_id", mandate.UserID, "asset", mandate.Asset, "amount", idle,
			"strategy_id", localID, "rate_bps", localRate)
		if err := j.service.DeployIdleFunds(ctx, mandate.UserID, mandate.Asset, localID, idle); err != nil {
			j.logger.Error("failed to deploy idle funds", "user_id", mandate.UserID, "strategy_id", localID, "error", err)
		}
	}

	j.logger.Info("relocation evaluation job finished")
}

// SweepStaleIntents reports intents stuck in sent past the recovery timeout.
// It never refunds on its own; recovery of a presumed-lost transfer is an
// operator decision.
func (j *Jobs) SweepStaleIntents() {
	j.logger.Info("starting stale intent sweep")
	ctx := context.Background()

	cutoff := time.Now().Add(-time.Duration(j.config.IntentRecoveryTimeoutMin) * time.Minute)
	intents, err := j.repo.ListIntentsByStatus(ctx, domain.IntentStatusSent, &cutoff, defaultIntentListLimit)
	if err != nil {
		j.logger.Error("failed to list sent intents", "error", err)
		return
	}
	if len(intents) == 0 {
		j.logger.Info("no stale intents")
		return
	}

	for _, intent := range intents {
		j.logger.Warn("intent stuck in sent past recovery timeout",
			"message_id", intent.MessageID, "user_id", intent.UserID, "asset", intent.Asset,
			"amount", intent.Amount, "destination", intent.DestinationChain,
			"idle", time.Since(intent.UpdatedAt).Truncate(time.Second).String())
	}

	j.logger.Info("stale intent sweep finished", "stale_count", len(intents))
}

// PruneRemoteRates deletes remote rate reports older than the configured TTL
// so the router never acts on stale data.
func (j *Jobs) PruneRemoteRates() {
	j.logger.Info("starting remote rate prune job")
	ctx := context.Background()

	cutoff := time.Now().Add(-time.Duration(j.config.RemoteRateTTLMin) * time.Minute)
	removed, err := j.repo.DeleteRemoteRatesBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("failed to prune remote rates", "error", err)
		return
	}

	j.logger.Info("remote rate prune job finished", "removed", removed)
}
