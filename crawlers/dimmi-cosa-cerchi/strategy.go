// Package dcc crawls the dimmicosacerchi.it prize-contest listings.
package dcc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/contestradar/crawler-http-service/common/config"
	"github.com/contestradar/crawler-http-service/common/crawler"
	"github.com/contestradar/crawler-http-service/common/models"
	"github.com/contestradar/crawler-http-service/common/notify"
	"github.com/contestradar/crawler-http-service/common/scraper"
	"github.com/contestradar/crawler-http-service/common/storage"
	"github.com/contestradar/crawler-http-service/common/syncengine"
	"github.com/contestradar/crawler-http-service/crawlers/itdate"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/samber/mo"
)

// hardPageCap bounds a forced exhaustive listing crawl
const hardPageCap = 50

// notificationDescLimit trims the description carried in an item notification
const notificationDescLimit = 150

// Strategy crawls one dimmicosacerchi section per its selector table
type Strategy struct {
	cfg     Config
	fetcher *scraper.Fetcher
	engine  *syncengine.Engine[models.Contest, models.ContestRecord]
	archive storage.Archive
	conv    *md.Converter

	now func() time.Time
}

// New creates a strategy for one site section
func New(cfg Config, fetcher *scraper.Fetcher, engine *syncengine.Engine[models.Contest, models.ContestRecord], archive storage.Archive) (*Strategy, error) {
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid strategy config: %w", err)
	}
	if fetcher == nil {
		return nil, errors.New("cannot use nil fetcher")
	}
	if engine == nil {
		return nil, errors.New("cannot use nil sync engine")
	}
	if archive == nil {
		archive = storage.NoopArchive{}
	}

	return &Strategy{
		cfg:     cfg,
		fetcher: fetcher,
		engine:  engine,
		archive: archive,
		conv:    md.NewConverter("", true, nil),
		now:     time.Now,
	}, nil
}

func (s *Strategy) ID() string {
	return s.cfg.StrategyID
}

func (s *Strategy) FriendlyName() string {
	return s.cfg.FriendlyName
}

func (s *Strategy) BaseURL() string {
	return s.cfg.BaseURL
}

// ScanListing walks the listing pages following the next-page link, up to the
// configured page cap. force lifts the cap so the whole archive is walked.
func (s *Strategy) ScanListing(ctx context.Context, force bool) ([]string, error) {
	maxPages := s.cfg.MaxPages
	if force || maxPages <= 0 || maxPages > hardPageCap {
		maxPages = hardPageCap
	}

	seen := make(map[string]bool)
	var links []string
	pageURL := s.cfg.BaseURL

	for page := 1; pageURL != "" && page <= maxPages; page++ {
		doc, err := s.fetcher.FetchDocument(ctx, pageURL)
		if err != nil {
			return nil, fmt.Errorf("listing page %d: %w", page, err)
		}

		found := 0
		doc.Find(s.cfg.ListItem).Each(func(_ int, sel *goquery.Selection) {
			href, ok := sel.Attr("href")
			if !ok || strings.TrimSpace(href) == "" {
				return
			}
			found++
			link := absoluteURL(href, pageURL)
			if !seen[link] {
				seen[link] = true
				links = append(links, link)
			}
		})

		// An empty page means we walked past the end of the listing
		if found == 0 {
			break
		}

		next, ok := doc.Find(s.cfg.ListNextPage).First().Attr("href")
		if !ok || strings.TrimSpace(next) == "" {
			break
		}
		pageURL = absoluteURL(next, pageURL)
	}

	log.Info().Str("strategy", s.cfg.StrategyID).Int("links", len(links)).Msg("Listing scan finished")
	return links, nil
}

// ProcessDetail fetches one contest page, extracts it, and reconciles it
// against storage
func (s *Strategy) ProcessDetail(ctx context.Context, link string) (crawler.ProcessResult, error) {
	body, err := s.fetcher.FetchHTML(ctx, link)
	if err != nil {
		return crawler.ProcessResult{}, err
	}

	if _, err := s.archive.ArchivePage(ctx, s.cfg.StrategyID, link, body); err != nil {
		log.Warn().Err(err).Str("url", link).Msg("Failed to archive page")
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.ProcessResult{}, fmt.Errorf("parsing %s: %w", link, err)
	}

	record := s.extract(doc, link)

	result, err := s.engine.Sync(ctx, record)
	if err != nil {
		return crawler.ProcessResult{}, fmt.Errorf("syncing %s: %w", record.SourceID, err)
	}

	processed := crawler.ProcessResult{
		Status:   result.Status,
		Title:    record.Title,
		Link:     link,
		ImageURL: lo.FirstOr(record.Images, ""),
	}
	if result.Status == syncengine.StatusCreated || result.Status == syncengine.StatusUpdated {
		processed.Notification = s.itemNotification(result.Entity, result.Status)
	}
	return processed, nil
}

// extract pulls a contest record out of a detail page
func (s *Strategy) extract(doc *goquery.Document, link string) models.ContestRecord {
	title := strings.TrimSpace(doc.Find(s.cfg.DetailTitle).First().Text())
	if title == "" {
		title = link
	}

	description := strings.TrimSpace(s.conv.Convert(doc.Find(s.cfg.DetailDescription).First()))

	rulesURL := link
	doc.Find(s.cfg.DetailRulesLink).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if !strings.Contains(strings.ToLower(sel.Text()), "regolamento") {
			return true
		}
		if href, ok := sel.Attr("href"); ok && strings.TrimSpace(href) != "" {
			rulesURL = absoluteURL(href, link)
			return false
		}
		return true
	})

	var images []string
	imageURL, ok := doc.Find(s.cfg.DetailImageTwitter).Attr("content")
	if !ok || imageURL == "" {
		imageURL, _ = doc.Find(s.cfg.DetailImageOG).Attr("content")
	}
	if imageURL != "" {
		images = append(images, absoluteURL(imageURL, link))
	}

	content := doc.Find(s.cfg.DetailContent).Text()
	start, end := itdate.ExtractRange(content, s.now(), s.cfg.Dates)

	return models.ContestRecord{
		SourceID:    sourceIDFromLink(link),
		StrategyID:  s.cfg.StrategyID,
		Title:       title,
		Description: description,
		Link:        link,
		RulesURL:    rulesURL,
		Images:      images,
		StartDate:   &start,
		EndDate:     &end,
	}
}

// itemNotification announces one created or updated contest. Individual
// notifications are delivered silently, the summary is the loud one.
func (s *Strategy) itemNotification(contest models.Contest, status syncengine.Status) *notify.TargetedNotification {
	prefix := "🔄 Concorso aggiornato"
	if status == syncengine.StatusCreated {
		prefix = "✅ Nuovo concorso"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n\n", prefix, contest.Title)
	if contest.Description.Valid && contest.Description.String != "" {
		fmt.Fprintf(&b, "%s\n\n", truncate(contest.Description.String, notificationDescLimit))
	}
	if contest.StartDate.Valid {
		fmt.Fprintf(&b, "🗓 Inizio: %s\n", itdate.Format(contest.StartDate.Time))
	}
	if contest.EndDate.Valid {
		fmt.Fprintf(&b, "⏳ Scadenza: %s\n", itdate.Format(contest.EndDate.Time))
	}
	fmt.Fprintf(&b, "\nDettagli: %s", contest.Link)
	if contest.RulesURL.Valid && contest.RulesURL.String != contest.Link {
		fmt.Fprintf(&b, "\nRegolamento: %s", contest.RulesURL.String)
	}

	imageURL := mo.None[string]()
	if len(contest.Images) > 0 {
		imageURL = mo.Some(contest.Images[0])
	}

	return &notify.TargetedNotification{
		Payload: notify.Payload{
			Message:  b.String(),
			ImageURL: imageURL,
			Silent:   true,
		},
		Channels: config.ChannelsForStrategy(s.cfg.StrategyID),
	}
}

// FormatSummary reports the crawl outcome, or nothing when the run only saw
// already-known contests
func (s *Strategy) FormatSummary(ctx context.Context, results []crawler.ProcessResult, totalChildren, failed int) *notify.TargetedNotification {
	counts := lo.CountValuesBy(results, func(r crawler.ProcessResult) syncengine.Status {
		return r.Status
	})
	created := counts[syncengine.StatusCreated]
	updated := counts[syncengine.StatusUpdated]
	unchanged := counts[syncengine.StatusUnchanged]

	if created == 0 && updated == 0 && failed == 0 {
		return nil
	}

	message := fmt.Sprintf(
		"📊 Report scansione: %s\n\n"+
			"✅ Nuovi: %d\n"+
			"🔄 Aggiornati: %d\n"+
			"ℹ️ Invariati: %d\n"+
			"❌ Falliti: %d\n\n"+
			"Totale elaborati: %d",
		s.cfg.FriendlyName, created, updated, unchanged, failed, totalChildren,
	)

	return &notify.TargetedNotification{
		Payload: notify.Payload{
			Message:  message,
			ImageURL: mo.None[string](),
		},
		Channels: config.ChannelsForStrategy(s.cfg.StrategyID),
	}
}

// sourceIDFromLink derives the stable source identity, the URL path
func sourceIDFromLink(link string) string {
	parsed, err := url.Parse(link)
	if err != nil || parsed.Path == "" {
		return link
	}
	return parsed.Path
}

// absoluteURL resolves href against the page it appeared on
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

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimRight(string(runes[:limit]), " ") + "..."
}
