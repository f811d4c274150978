// Package soldissimi crawls the soldissimi.it forum board where users post
// the prizes they won.
package soldissimi

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/contestradar/crawler-http-service/common/config"
	"github.com/contestradar/crawler-http-service/common/crawler"
	"github.com/contestradar/crawler-http-service/common/models"
	"github.com/contestradar/crawler-http-service/common/notify"
	"github.com/contestradar/crawler-http-service/common/scraper"
	"github.com/contestradar/crawler-http-service/common/syncengine"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/samber/mo"
)

const (
	strategyID   = "soldissimivincite"
	friendlyName = "Soldissimi Vincite"
	baseURL      = "https://www.soldissimi.it/forum/forum/concorsi-a-premi-gioca-e-vinci-con-noi/vincite"

	maxPages = 2

	anonymousWinner = "Anonimo"
)

// Listing metadata travels to the detail phase through the link's query
// string, the forum listing already shows everything a winning needs.
const (
	metaViews  = "meta_views"
	metaWinner = "meta_winner"
	metaTitle  = "meta_title"
)

// topicIDPattern captures the numeric topic id out of a forum topic URL
var topicIDPattern = regexp.MustCompile(`/(\d+)-`)

var nonDigits = regexp.MustCompile(`\D`)

// Strategy crawls the winnings board
type Strategy struct {
	fetcher *scraper.Fetcher
	engine  *syncengine.Engine[models.Winning, models.WinningRecord]

	base string
}

// New creates the soldissimi winnings strategy
func New(fetcher *scraper.Fetcher, engine *syncengine.Engine[models.Winning, models.WinningRecord]) (*Strategy, error) {
	if fetcher == nil {
		return nil, errors.New("cannot use nil fetcher")
	}
	if engine == nil {
		return nil, errors.New("cannot use nil sync engine")
	}

	return &Strategy{
		fetcher: fetcher,
		engine:  engine,
		base:    baseURL,
	}, nil
}

func (s *Strategy) ID() string {
	return strategyID
}

func (s *Strategy) FriendlyName() string {
	return friendlyName
}

func (s *Strategy) BaseURL() string {
	return s.base
}

// ScanListing walks the topic listing. Winner name, view count and topic
// title are read off the listing rows and folded into each link, so the
// detail phase needs no second fetch.
func (s *Strategy) ScanListing(ctx context.Context, force bool) ([]string, error) {
	pages := maxPages
	if force {
		pages = maxPages * 5
	}

	seen := make(map[string]bool)
	var links []string
	pageURL := s.base

	for page := 1; pageURL != "" && page <= pages; page++ {
		doc, err := s.fetcher.FetchDocument(ctx, pageURL)
		if err != nil {
			return nil, fmt.Errorf("listing page %d: %w", page, err)
		}

		rows := doc.Find("tr.topic-item")
		if rows.Length() == 0 {
			break
		}

		rows.Each(func(_ int, row *goquery.Selection) {
			link := s.topicLink(row, pageURL)
			if link == "" || seen[link] {
				return
			}
			seen[link] = true
			links = append(links, link)
		})

		next := doc.Find("a.arrow.right-arrow").Not(".h-disabled").First()
		href, ok := next.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			break
		}
		pageURL = absoluteURL(href, pageURL)
	}

	log.Info().Str("strategy", strategyID).Int("links", len(links)).Msg("Listing scan finished")
	return links, nil
}

// topicLink builds one annotated detail link from a listing row, or ""
// when the row carries no usable topic
func (s *Strategy) topicLink(row *goquery.Selection, pageURL string) string {
	titleEl := row.Find("a.topic-title").First()
	title := strings.TrimSpace(titleEl.Text())
	href, ok := titleEl.Attr("href")
	if !ok || title == "" || strings.TrimSpace(href) == "" {
		return ""
	}

	views := nonDigits.ReplaceAllString(row.Find(".cell-count .views-count").Text(), "")
	winner := strings.TrimSpace(row.Find(".topic-info a").First().Text())
	if winner == "" {
		winner = anonymousWinner
	}

	parsed, err := url.Parse(absoluteURL(href, pageURL))
	if err != nil {
		return ""
	}
	query := parsed.Query()
	query.Set(metaViews, views)
	query.Set(metaWinner, winner)
	query.Set(metaTitle, title)
	parsed.RawQuery = query.Encode()

	return parsed.String()
}

// ProcessDetail reconciles one winning from its annotated link
func (s *Strategy) ProcessDetail(ctx context.Context, link string) (crawler.ProcessResult, error) {
	record, err := recordFromLink(link)
	if err != nil {
		return crawler.ProcessResult{}, err
	}

	result, err := s.engine.Sync(ctx, record)
	if err != nil {
		return crawler.ProcessResult{}, fmt.Errorf("syncing %s: %w", record.SourceID, err)
	}

	// Winner posts are announced together in the summary, not one by one
	return crawler.ProcessResult{
		Status: result.Status,
		Title:  record.Winner + ": " + record.Title,
		Link:   record.Link,
	}, nil
}

// recordFromLink unpacks the listing metadata carried in the link
func recordFromLink(link string) (models.WinningRecord, error) {
	parsed, err := url.Parse(link)
	if err != nil {
		return models.WinningRecord{}, fmt.Errorf("parsing link %s: %w", link, err)
	}

	query := parsed.Query()
	title := query.Get(metaTitle)
	if title == "" {
		return models.WinningRecord{}, fmt.Errorf("link %s carries no listing metadata", link)
	}
	winner := query.Get(metaWinner)
	if winner == "" {
		winner = anonymousWinner
	}
	views, _ := strconv.ParseInt(query.Get(metaViews), 10, 64)

	parsed.RawQuery = ""
	source := parsed.String()

	return models.WinningRecord{
		SourceID:   sourceIDFromTopic(source),
		StrategyID: strategyID,
		Title:      title,
		Winner:     winner,
		Link:       source,
		Views:      views,
	}, nil
}

// sourceIDFromTopic uses the forum's numeric topic id; links without one
// fall back to an encoding of the whole URL
func sourceIDFromTopic(source string) string {
	if m := topicIDPattern.FindStringSubmatch(source); m != nil {
		return m[1]
	}
	return base64.StdEncoding.EncodeToString([]byte(source))
}

// FormatSummary lists the newly found winners, or nothing when the run saw
// only known posts and no failures
func (s *Strategy) FormatSummary(ctx context.Context, results []crawler.ProcessResult, totalChildren, failed int) *notify.TargetedNotification {
	created := lo.Filter(results, func(r crawler.ProcessResult, _ int) bool {
		return r.Status == syncengine.StatusCreated
	})

	if len(created) == 0 && failed == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("📊 Report vincite Soldissimi\n\n")

	if len(created) > 0 {
		fmt.Fprintf(&b, "✅ Trovati %d nuovi vincitori:\n\n", len(created))
		for _, r := range created {
			fmt.Fprintf(&b, "👤 %s\n🔗 %s\n\n", r.Title, r.Link)
		}
	} else {
		b.WriteString("✅ Nessuna nuova vincita rilevata.\n")
	}

	if failed > 0 {
		fmt.Fprintf(&b, "\n❌ Errori durante la scansione: %d", failed)
	}

	return &notify.TargetedNotification{
		Payload: notify.Payload{
			Message:  strings.TrimRight(b.String(), "\n"),
			ImageURL: mo.None[string](),
		},
		Channels: config.ChannelsForStrategy(strategyID),
	}
}

func absoluteURL(href, base string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	resolved, err := baseURL.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return resolved.String()
}
