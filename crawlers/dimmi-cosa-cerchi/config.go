package dcc

import "github.com/contestradar/crawler-http-service/crawlers/itdate"

// Config is the selector table for one dimmicosacerchi site section. The
// variants share the crawl logic and differ only in this data.
type Config struct {
	StrategyID   string `validate:"required"`
	FriendlyName string `validate:"required"`
	BaseURL      string `validate:"required,url"`
	MaxPages     int

	ListItem     string `validate:"required"`
	ListNextPage string `validate:"required"`

	DetailTitle        string `validate:"required"`
	DetailDescription  string `validate:"required"`
	DetailContent      string `validate:"required"`
	DetailRulesLink    string `validate:"required"`
	DetailImageTwitter string `validate:"required"`
	DetailImageOG      string `validate:"required"`

	Dates itdate.Defaults
}

// MainConfig covers the general prize-contest listing
func MainConfig() Config {
	return Config{
		StrategyID:   "dimmicosacerchi",
		FriendlyName: "DimmiCosaCerchi",
		BaseURL:      "https://www.dimmicosacerchi.it/concorsi-a-premi",
		MaxPages:     3,

		ListItem:     "h2.entry-title a.p-url",
		ListNextPage: "a.next.page-numbers",

		DetailTitle:        "h1.s-title",
		DetailDescription:  ".entry-content p",
		DetailContent:      ".entry-content",
		DetailRulesLink:    ".entry-content a",
		DetailImageTwitter: `meta[name="twitter:image"]`,
		DetailImageOG:      `meta[property="og:image"]`,

		Dates: itdate.Defaults{EndDaysFromStart: 30},
	}
}

// TravelConfig covers the travel-prize tag, a single listing page
func TravelConfig() Config {
	cfg := MainConfig()
	cfg.StrategyID = "dimmicosacerchitravel"
	cfg.FriendlyName = "DimmiCosaCerchi Travel"
	cfg.BaseURL = "https://www.dimmicosacerchi.it/tag/vinci-soggiorni"
	cfg.MaxPages = 1
	cfg.ListItem = "h3.entry-title a.p-url"
	return cfg
}
