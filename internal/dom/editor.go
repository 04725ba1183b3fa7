package dom

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
)

// Editor drives the host application's scene edit view. It is the only
// place that touches rod elements; the orchestrator sees it through a
// narrow interface so its decision logic stays DOM-free.
type Editor struct {
	page   *rod.Page
	sel    Selectors
	logger zerolog.Logger
}

// NewEditor creates an Editor bound to the host application's page.
func NewEditor(page *rod.Page, sel Selectors, logger zerolog.Logger) *Editor {
	return &Editor{
		page:   page,
		sel:    sel,
		logger: logger.With().Str("component", "editor").Logger(),
	}
}

// EnsureEditContext verifies the edit view is open, clicking the edit
// affordance and waiting for the panel markers when it is not.
func (e *Editor) EnsureEditContext(ctx context.Context, tok *Token, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 6 * time.Second
	}

	if ok, err := e.visible(ctx, e.sel.EditPanel); err == nil && ok {
		return nil
	}

	if ok, tab, err := e.page.Context(ctx).Has(e.sel.EditTab); err == nil && ok {
		if err := e.clickFast(ctx, tab); err != nil {
			e.logger.Warn().Err(err).Msg("edit tab click failed")
		}
	}

	err := WaitFor(ctx, tok, WaitOpts{Timeout: timeout}, func(ctx context.Context) (bool, error) {
		ok, err := e.visible(ctx, e.sel.EditPanel)
		if err != nil {
			// Transient DOM churn while the panel mounts; keep polling.
			return false, nil
		}
		return ok, nil
	})
	if err != nil {
		return fmt.Errorf("edit panel did not appear: %w", err)
	}
	return nil
}

// TriggerScrape opens the scraper menu and selects the entry whose
// text matches sourceLabel, then gives the UI a bounded reaction
// window. A missing reaction is not an error here; classification is
// PollOutcome's job.
func (e *Editor) TriggerScrape(ctx context.Context, tok *Token, sourceLabel string) error {
	err := WaitFor(ctx, tok, WaitOpts{Timeout: 3 * time.Second, InterruptOnSkip: true}, func(ctx context.Context) (bool, error) {
		ok, err := e.visible(ctx, e.sel.ScrapeButton)
		return ok, err
	})
	if err != nil {
		return fmt.Errorf("scrape button: %w", err)
	}

	_, btn, err := e.page.Context(ctx).Has(e.sel.ScrapeButton)
	if err != nil || btn == nil {
		return fmt.Errorf("scrape button lookup: %w", err)
	}
	if err := e.clickFast(ctx, btn); err != nil {
		return fmt.Errorf("scrape button click: %w", err)
	}

	// Menu entries render asynchronously after the toggle.
	pattern := regexQuote(sourceLabel)
	var item *rod.Element
	err = WaitFor(ctx, tok, WaitOpts{Timeout: 3 * time.Second, InterruptOnSkip: true}, func(ctx context.Context) (bool, error) {
		ok, el, err := e.page.Context(ctx).HasR(e.sel.ScraperMenuItem, pattern)
		if err != nil {
			return false, nil
		}
		if ok {
			item = el
		}
		return ok, nil
	})
	if err != nil {
		return fmt.Errorf("scraper menu entry %q: %w", sourceLabel, err)
	}
	if err := e.clickFast(ctx, item); err != nil {
		return fmt.Errorf("scraper menu click: %w", err)
	}

	// Reaction window: dialog, toast, whichever comes first. Timing
	// out here just hands an unchanged page to the classifier.
	_ = WaitFor(ctx, tok, WaitOpts{Timeout: 7 * time.Second, Interval: 150 * time.Millisecond, InterruptOnSkip: true},
		func(ctx context.Context) (bool, error) {
			if ok, err := e.PositiveSignal(ctx); err == nil && ok {
				return true, nil
			}
			if _, ok, err := e.NegativeSignal(ctx); err == nil && ok {
				return true, nil
			}
			return false, nil
		})

	return nil
}

// PositiveSignal reports whether the result dialog is rendered.
func (e *Editor) PositiveSignal(ctx context.Context) (bool, error) {
	return e.visible(ctx, e.sel.ResultDialog)
}

// NegativeSignal returns the visible toast text, if any.
func (e *Editor) NegativeSignal(ctx context.Context) (string, bool, error) {
	els, err := e.page.Context(ctx).Elements(e.sel.Toast)
	if err != nil || len(els) == 0 {
		return "", false, err
	}
	var parts []string
	for _, el := range els {
		if vis, err := el.Visible(); err != nil || !vis {
			continue
		}
		text, err := el.Text()
		if err != nil {
			continue
		}
		parts = append(parts, text)
	}
	if len(parts) == 0 {
		return "", false, nil
	}
	return strings.Join(parts, " "), true, nil
}

// CreateMissingEntities clicks every visible "create new" affordance
// in the result dialog, with a small settling delay between clicks so
// the dialog can re-render. Returns the number of clicks issued.
func (e *Editor) CreateMissingEntities(ctx context.Context, tok *Token) (int, error) {
	created := 0
	// Re-query after every click: each creation mutates the list.
	for {
		if tok.Cancelled() {
			return created, ErrCancelled
		}
		els, err := e.page.Context(ctx).Elements(e.sel.CreateEntityButton)
		if err != nil {
			return created, fmt.Errorf("create buttons: %w", err)
		}
		var next *rod.Element
		for _, el := range els {
			if vis, err := el.Visible(); err == nil && vis {
				next = el
				break
			}
		}
		if next == nil {
			return created, nil
		}
		if err := e.clickFast(ctx, next); err != nil {
			return created, fmt.Errorf("create button click: %w", err)
		}
		created++
		if err := Settle(ctx, 300*time.Millisecond); err != nil {
			return created, err
		}
	}
}

// collectSnapshotJS reads the comparison dialog's scraped values in
// one evaluation. Executed in the page so a mid-read re-render cannot
// tear the result.
const collectSnapshotJS = `(dialogSel) => {
	const dialog = document.querySelector(dialogSel);
	if (!dialog) return "{}";
	const out = {};
	const fieldMap = {
		"title": "title", "date": "date", "studio": "studio",
		"details": "details", "url": "url", "group": "group",
		"movie": "group",
	};
	for (const row of dialog.querySelectorAll(".row, .form-group")) {
		const label = row.querySelector("label, .col-form-label");
		if (!label) continue;
		const name = label.textContent.trim().toLowerCase();
		const valueEl = row.querySelector(
			".scraped-value, input:not([type=checkbox]), textarea");
		if (fieldMap[name] && valueEl) {
			const v = (valueEl.value !== undefined ? valueEl.value : valueEl.textContent).trim();
			if (v) out[fieldMap[name]] = v;
		}
		if (name === "performers" || name === "tags") {
			const items = [];
			for (const chip of row.querySelectorAll(
					".react-select__multi-value__label, .scraped-value .badge, li")) {
				const t = chip.textContent.trim();
				if (t) items.push(t);
			}
			if (items.length) out[name] = items;
		}
	}
	const img = dialog.querySelector("img.scene-cover, .scraped-value img, img");
	if (img && img.src) {
		out.thumbnailUrl = img.src;
		out.thumbnailWidth = img.naturalWidth;
		out.thumbnailHeight = img.naturalHeight;
	}
	return JSON.stringify(out);
}`

// CollectSnapshot reads the scraped field values from the dialog.
func (e *Editor) CollectSnapshot(ctx context.Context) (*Snapshot, error) {
	res, err := e.page.Context(ctx).Eval(collectSnapshotJS, e.sel.ResultDialog)
	if err != nil {
		return nil, fmt.Errorf("collect snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(res.Value.Str()), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// ClickApply clicks the dialog's apply control and waits for the
// dialog to close, with a bounded fallback. Returns false when no
// apply control exists, which callers treat as skip.
func (e *Editor) ClickApply(ctx context.Context, tok *Token) (bool, error) {
	ok, btn, err := e.page.Context(ctx).HasR(e.sel.ApplyButton, "Apply")
	if err != nil || !ok {
		return false, err
	}
	if err := e.clickFast(ctx, btn); err != nil {
		return false, fmt.Errorf("apply click: %w", err)
	}

	// Mutation-confirmation: the dialog unmounting is the signal,
	// with a fixed fallback when the unmount is never observed.
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	closed := Watch(watchCtx, 100*time.Millisecond, func(ctx context.Context) bool {
		open, err := e.visible(ctx, e.sel.ResultDialog)
		return err == nil && !open
	})
	if err := RaceEvent(ctx, closed, 1500*time.Millisecond); err != nil {
		return true, err
	}
	return true, nil
}

// Save clicks the save control and waits for a confirmation toast,
// falling back to a fixed settling delay when none shows up.
func (e *Editor) Save(ctx context.Context, tok *Token) error {
	ok, btn, err := e.page.Context(ctx).Has(e.sel.SaveButton)
	if err != nil {
		return fmt.Errorf("save button: %w", err)
	}
	if !ok {
		return fmt.Errorf("save button not found")
	}
	if err := e.clickFast(ctx, btn); err != nil {
		return fmt.Errorf("save click: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	confirmed := Watch(watchCtx, 100*time.Millisecond, func(ctx context.Context) bool {
		text, has, err := e.NegativeSignal(ctx)
		if err != nil || !has {
			return false
		}
		lower := strings.ToLower(text)
		return strings.Contains(lower, "updated") || strings.Contains(lower, "saved")
	})
	return RaceEvent(ctx, confirmed, 1200*time.Millisecond)
}

// OrganizedActive reads the organize toggle's pressed state from its
// class list. This is a DOM heuristic; the authoritative answer comes
// from the API.
func (e *Editor) OrganizedActive(ctx context.Context) (bool, error) {
	ok, btn, err := e.page.Context(ctx).Has(e.sel.OrganizedButton)
	if err != nil || !ok {
		return false, err
	}
	res, err := btn.Eval(`() => this.className`)
	if err != nil {
		return false, fmt.Errorf("organized class: %w", err)
	}
	return strings.Contains(res.Value.Str(), e.sel.OrganizedActiveClass), nil
}

// ClickOrganize toggles the organized control.
func (e *Editor) ClickOrganize(ctx context.Context, tok *Token) error {
	ok, btn, err := e.page.Context(ctx).Has(e.sel.OrganizedButton)
	if err != nil {
		return fmt.Errorf("organized button: %w", err)
	}
	if !ok {
		return fmt.Errorf("organized button not found")
	}
	if err := e.clickFast(ctx, btn); err != nil {
		return fmt.Errorf("organized click: %w", err)
	}
	return Settle(ctx, 300*time.Millisecond)
}

// clickFast dispatches a synthetic click in the page, falling back to
// a trusted input click when the evaluation fails. The synthetic path
// avoids rod's scroll-into-view settling on controls React re-renders
// mid-interaction.
func (e *Editor) clickFast(ctx context.Context, el *rod.Element) error {
	if _, err := el.Eval(`() => this.click()`); err == nil {
		return nil
	}
	return el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

// visible reports whether selector matches a visible element.
func (e *Editor) visible(ctx context.Context, selector string) (bool, error) {
	ok, el, err := e.page.Context(ctx).Has(selector)
	if err != nil || !ok {
		return false, err
	}
	vis, err := el.Visible()
	if err != nil {
		return false, nil
	}
	return vis, nil
}

// regexQuote escapes a literal for rod's HasR regex matching.
func regexQuote(s string) string {
	special := `\.+*?()|[]{}^$`
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
