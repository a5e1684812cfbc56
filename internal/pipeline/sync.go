package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"mailtriage/internal/model"
	"mailtriage/pkg/trace"
	"mailtriage/pkg/util"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errSyncBusy = errors.New("sync lease held by another run")

// syncAccounts syncs every account with bounded concurrency and returns the number of
// newly stored emails. It fails only when every account failed.
func (o *Orchestrator) syncAccounts(ctx context.Context, accounts []model.Account, log *zap.Logger) (int, error) {
	if len(accounts) == 0 {
		log.Info("No active accounts")
		return 0, nil
	}

	var (
		mu       sync.Mutex
		inserted int
		failures int
		lastErr  error
	)
	g := new(errgroup.Group)
	g.SetLimit(o.cfg.SyncConcurrency)

	for i := range accounts {
		acct := accounts[i]
		g.Go(func() error {
			n, err := o.syncAccount(ctx, &acct, log)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, errSyncBusy):
				log.Info("Account sync already running elsewhere", zap.Int("account_id", acct.ID))
			case err != nil:
				failures++
				lastErr = err
				log.Error("Account sync failed",
					zap.Int("account_id", acct.ID),
					zap.String("provider", acct.Provider),
					zap.Error(err),
				)
			default:
				inserted += n
			}
			return nil
		})
	}
	_ = g.Wait()

	if failures == len(accounts) {
		return 0, fmt.Errorf("sync failed for all %d accounts: %w", failures, lastErr)
	}
	return inserted, nil
}

func (o *Orchestrator) syncAccount(ctx context.Context, acct *model.Account, log *zap.Logger) (int, error) {
	if o.deps.Lease != nil {
		key := util.FormatSyncLeaseKey(acct.ID)
		owner := trace.FromContext(ctx)
		if !o.deps.Lease.Acquire(ctx, key, owner) {
			return 0, errSyncBusy
		}
		defer o.deps.Lease.Release(context.WithoutCancel(ctx), key, owner)
	}

	src, err := o.deps.Sources(acct)
	if err != nil {
		return 0, fmt.Errorf("create source: %w", err)
	}
	res, err := src.Sync(ctx, acct, acct.Cursor)
	if err != nil {
		return 0, fmt.Errorf("%s sync: %w", src.Name(), err)
	}

	n, err := o.deps.Emails.InsertEmails(ctx, res.Emails)
	if err != nil {
		return 0, fmt.Errorf("store emails: %w", err)
	}
	if res.Cursor != "" {
		if err := o.deps.Accounts.SaveCursor(ctx, acct.ID, res.Cursor, o.now()); err != nil {
			return n, fmt.Errorf("save cursor: %w", err)
		}
	}

	log.Info("Account synced",
		zap.Int("account_id", acct.ID),
		zap.String("provider", src.Name()),
		zap.Bool("full_sync", res.FullSync),
		zap.Int("received", len(res.Emails)),
		zap.Int("stored", n),
	)
	return n, nil
}
