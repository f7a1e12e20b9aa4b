package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/cloudconnect/internal/ami"
	"github.com/sweeney/cloudconnect/internal/config"
	"github.com/sweeney/cloudconnect/internal/pbxfeed"
	"github.com/sweeney/cloudconnect/internal/publisher"
)

// RosterRefresher is told when the PBX roster changed.
type RosterRefresher interface {
	RefreshRoster()
}

// runAMI keeps an AMI session open, reconnecting after failures, until ctx
// is cancelled.
func runAMI(ctx context.Context, cfg *config.Config, feed *pbxfeed.Feed, roster RosterRefresher, bridge *publisher.Bridge, log zerolog.Logger) {
	for {
		err := runSession(ctx, cfg.AMI.Addr(), cfg.AMI.Username, cfg.AMI.Secret, feed, roster, bridge, log)
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Dur("retry_in", cfg.AMI.ReconnectDelay).Msg("AMI session ended")
		select {
		case <-time.After(cfg.AMI.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

func runSession(ctx context.Context, addr, user, secret string, feed *pbxfeed.Feed, roster RosterRefresher, bridge *publisher.Bridge, log zerolog.Logger) error {
	log.Info().Str("addr", addr).Msg("connecting to AMI")

	sess, err := ami.Dial(ctx, addr, user, secret)
	if err != nil {
		return err
	}
	defer sess.Close()
	defer func() {
		if n := feed.Reset(); n > 0 {
			log.Info().Int("calls", n).Msg("dropping PBX calls from the lost session")
			roster.RefreshRoster()
		}
	}()

	log.Info().Str("banner", sess.Banner).Msg("AMI authenticated, processing events")

	for {
		evt, ok := sess.Next()
		if !ok {
			if ctx.Err() != nil {
				return nil
			}
			if err := sess.Err(); err != nil {
				return fmt.Errorf("reading AMI: %w", err)
			}
			return fmt.Errorf("AMI connection closed")
		}

		changes := feed.Process(evt)
		if len(changes) == 0 {
			continue
		}
		for _, c := range changes {
			log.Debug().Str("call", c.CallID).Str("phase", string(c.Phase)).Msg("pbx call changed")
		}
		roster.RefreshRoster()
		if bridge != nil {
			bridge.PublishChanges(changes)
		}
	}
}
