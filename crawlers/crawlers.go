// Package crawlers wires the concrete source strategies into the registry.
package crawlers

import (
	"fmt"

	"github.com/contestradar/crawler-http-service/common/crawler"
	"github.com/contestradar/crawler-http-service/common/models"
	"github.com/contestradar/crawler-http-service/common/scraper"
	"github.com/contestradar/crawler-http-service/common/storage"
	"github.com/contestradar/crawler-http-service/common/syncengine"
	dcc "github.com/contestradar/crawler-http-service/crawlers/dimmi-cosa-cerchi"
	soldissimi "github.com/contestradar/crawler-http-service/crawlers/soldissimi-vincite"
	"github.com/rs/zerolog/log"
)

// Dependencies is everything the built-in strategies need
type Dependencies struct {
	Fetcher  *scraper.Fetcher
	Contests *syncengine.Engine[models.Contest, models.ContestRecord]
	Winnings *syncengine.Engine[models.Winning, models.WinningRecord]
	Archive  storage.Archive
}

// RegisterAll builds every built-in strategy and registers it
func RegisterAll(deps Dependencies) error {
	for _, cfg := range []dcc.Config{dcc.MainConfig(), dcc.TravelConfig()} {
		strategy, err := dcc.New(cfg, deps.Fetcher, deps.Contests, deps.Archive)
		if err != nil {
			return fmt.Errorf("building %s strategy: %w", cfg.StrategyID, err)
		}
		if err := crawler.RegisterStrategy(strategy); err != nil {
			return err
		}
	}

	winnings, err := soldissimi.New(deps.Fetcher, deps.Winnings)
	if err != nil {
		return fmt.Errorf("building winnings strategy: %w", err)
	}
	if err := crawler.RegisterStrategy(winnings); err != nil {
		return err
	}

	log.Info().Strs("strategies", crawler.StrategyIDs()).Msg("Strategies registered")
	return nil
}
