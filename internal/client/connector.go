package client

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/codefionn/slackline/internal/api"
	"github.com/codefionn/slackline/internal/errs"
	"github.com/codefionn/slackline/internal/model"
	"github.com/codefionn/slackline/internal/stream"
	"github.com/codefionn/slackline/internal/supervisor"
)

const (
	// deltaPages bounds how many history pages one channel may pull during
	// a re-sync; older gaps are filled by backward pagination on demand.
	deltaPages = 10
	// deltaParallel bounds concurrent history calls during a re-sync.
	deltaParallel = 4
)

// connector makes one connection attempt for the supervisor.
type connector struct {
	c *Client
}

// Connect opens a fresh event stream and then brings the model up to date.
// The stream is opened first so nothing that happens during the sync is
// missed; overlaps are reconciled by the engine's dedup rule.
func (k connector) Connect(ctx context.Context, resync bool) (supervisor.Connection, error) {
	c := k.c
	sess, err := c.login(ctx)
	if err != nil {
		return nil, err
	}

	st := stream.New(stream.Config{
		Opener:       sess,
		Decoder:      c.codec,
		Deliver:      c.engine.Submit,
		Dialer:       c.cfg.Dialer,
		PingInterval: c.cfg.PingInterval,
		Metrics:      c.cfg.Metrics,
	})
	if err := st.Open(ctx); err != nil {
		return nil, err
	}

	if err := c.synchronize(ctx, sess, resync); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// synchronize loads the channel and user listing and fetches, for every
// channel with known messages, what arrived after the newest one.
func (c *Client) synchronize(ctx context.Context, sess *api.Session, resync bool) error {
	id := sess.Identity()
	if resync {
		c.log.Info("re-syncing")
	} else {
		c.log.Info("syncing")
	}

	var (
		channels []model.Channel
		users    []model.User
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		channels, err = sess.FetchChannelList(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		users, err = sess.FetchUserList(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("initial listing: %w", err)
	}
	if err := c.engine.LoadListing(ctx, id, channels, users); err != nil {
		return err
	}

	positions, err := c.engine.Positions(ctx)
	if err != nil {
		return err
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(deltaParallel)
	for channelID, newest := range positions {
		if newest.IsZero() {
			continue
		}
		g.Go(func() error {
			return c.fetchSince(gctx, sess, channelID, newest)
		})
	}
	return g.Wait()
}

// fetchSince merges the history of a channel newer than oldest.
func (c *Client) fetchSince(ctx context.Context, sess *api.Session, channelID string, oldest model.Timestamp) error {
	cursor := ""
	for i := 0; i < deltaPages; i++ {
		page, err := sess.FetchHistory(ctx, api.HistoryQuery{
			ChannelID: channelID,
			Oldest:    oldest,
			Limit:     c.cfg.HistoryPageSize,
			Cursor:    cursor,
		})
		if err != nil {
			if errs.KindOf(err) == errs.KindServerRejected {
				// e.g. the channel was archived while we were away
				c.log.Warn("skipping re-sync of %s: %v", channelID, err)
				return nil
			}
			return fmt.Errorf("re-sync %s: %w", channelID, err)
		}
		if err := c.engine.MergeHistory(ctx, sess.Identity(), page); err != nil {
			return err
		}
		if !page.HasMore || page.NextCursor == "" {
			return nil
		}
		cursor = page.NextCursor
	}
	c.log.Debug("re-sync of %s stopped after %d pages", channelID, deltaPages)
	return nil
}
