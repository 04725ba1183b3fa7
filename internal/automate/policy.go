package automate

import (
	"time"

	"github.com/scenepilot/scenepilot/internal/config"
	"github.com/scenepilot/scenepilot/internal/detect"
)

// Policy is the per-run decision configuration. It is a plain value so
// a batch run can carry its own copy without racing the live config.
type Policy struct {
	UseStashDB         bool
	UseThePornDB       bool
	SkipAlreadyScraped bool
	AutoApply          bool
	CreatePerformers   bool
	AutoOrganize       bool
	// OrganizeRequiresAll withholds organizing unless every enabled
	// source ended up scraped. Conservative on purpose.
	OrganizeRequiresAll bool
	// ThumbnailImprovementPct is the pixel-count margin a scraped
	// thumbnail must beat the current one by to be kept.
	ThumbnailImprovementPct int

	NegativePhrases []string
	// MenuLabels maps source name to the scraper menu entry text.
	MenuLabels map[string]string

	EditContextTimeout time.Duration
	OutcomeTimeout     time.Duration
}

// DefaultMenuLabels match the host UI's scraper menu entries.
var DefaultMenuLabels = map[string]string{
	detect.SourceStashDB:   "StashDB",
	detect.SourceThePornDB: "ThePornDB",
}

// PolicyFromConfig builds a Policy from the automation config section.
func PolicyFromConfig(cfg config.AutomationConfig) Policy {
	p := Policy{
		UseStashDB:              cfg.UseStashDB,
		UseThePornDB:            cfg.UseThePornDB,
		SkipAlreadyScraped:      cfg.SkipAlreadyScraped,
		AutoApply:               cfg.AutoApply,
		CreatePerformers:        cfg.CreatePerformers,
		AutoOrganize:            cfg.AutoOrganize,
		OrganizeRequiresAll:     cfg.OrganizeRequiresAll,
		ThumbnailImprovementPct: cfg.ThumbnailImprovementPct,
		NegativePhrases:         cfg.NegativePhrases,
		MenuLabels:              DefaultMenuLabels,
		EditContextTimeout:      6 * time.Second,
		OutcomeTimeout:          8 * time.Second,
	}
	if len(p.NegativePhrases) == 0 {
		p.NegativePhrases = config.DefaultNegativePhrases
	}
	if p.ThumbnailImprovementPct <= 0 {
		p.ThumbnailImprovementPct = 20
	}
	return p
}

// sources returns the enabled sources in the fixed visiting order.
func (p Policy) sources() []string {
	var out []string
	if p.UseStashDB {
		out = append(out, detect.SourceStashDB)
	}
	if p.UseThePornDB {
		out = append(out, detect.SourceThePornDB)
	}
	return out
}

func (p Policy) menuLabel(source string) string {
	if l, ok := p.MenuLabels[source]; ok && l != "" {
		return l
	}
	return source
}
