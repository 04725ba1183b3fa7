package dom

// Selectors couples the agent to the host application's rendered UI.
// None of these are a stable contract; the host frontend drifts, so
// every entry can be overridden from configuration.
type Selectors struct {
	// EditTab is the affordance that opens the scene edit view.
	EditTab string `json:"edit_tab"`
	// EditPanel marks that the edit view is open.
	EditPanel string `json:"edit_panel"`
	// ScrapeButton opens the scraper source menu.
	ScrapeButton string `json:"scrape_button"`
	// ScraperMenuItem matches entries of the scraper source menu.
	ScraperMenuItem string `json:"scraper_menu_item"`
	// ResultDialog marks a rendered scrape comparison dialog.
	ResultDialog string `json:"result_dialog"`
	// ResultField matches one scraped-field row inside the dialog.
	ResultField string `json:"result_field"`
	// ApplyButton applies scraped data from the dialog.
	ApplyButton string `json:"apply_button"`
	// SaveButton persists the edit form.
	SaveButton string `json:"save_button"`
	// OrganizedButton toggles the organized flag.
	OrganizedButton string `json:"organized_button"`
	// OrganizedActiveClass marks the button's pressed state.
	OrganizedActiveClass string `json:"organized_active_class"`
	// CreateEntityButton matches "create new" affordances for
	// returned but unresolved entity references.
	CreateEntityButton string `json:"create_entity_button"`
	// Toast matches transient notification elements.
	Toast string `json:"toast"`
}

// DefaultSelectors targets the host application's current markup.
func DefaultSelectors() Selectors {
	return Selectors{
		EditTab:              `a[data-rb-event-key="scene-edit-panel"]`,
		EditPanel:            `#scene-edit-details .edit-buttons-container`,
		ScrapeButton:         `#scene-edit-details .scraper-group button.dropdown-toggle`,
		ScraperMenuItem:      `.dropdown-menu.show .dropdown-item`,
		ResultDialog:         `.modal.show .scrape-dialog`,
		ResultField:          `.scrape-dialog .scene-scrape-results .row`,
		ApplyButton:          `.modal.show .modal-footer button.btn-primary`,
		SaveButton:           `#scene-edit-details .edit-buttons-container button.btn-primary`,
		OrganizedButton:      `button[title="Organized"]`,
		OrganizedActiveClass: "organized",
		CreateEntityButton:   `.scrape-dialog button.minimal.ml-2`,
		Toast:                `.toast-container .toast .toast-body`,
	}
}

// Merge overlays non-empty overrides on s. Keys match the json tags.
func (s Selectors) Merge(overrides map[string]string) Selectors {
	if len(overrides) == 0 {
		return s
	}
	set := func(dst *string, key string) {
		if v, ok := overrides[key]; ok && v != "" {
			*dst = v
		}
	}
	set(&s.EditTab, "edit_tab")
	set(&s.EditPanel, "edit_panel")
	set(&s.ScrapeButton, "scrape_button")
	set(&s.ScraperMenuItem, "scraper_menu_item")
	set(&s.ResultDialog, "result_dialog")
	set(&s.ResultField, "result_field")
	set(&s.ApplyButton, "apply_button")
	set(&s.SaveButton, "save_button")
	set(&s.OrganizedButton, "organized_button")
	set(&s.OrganizedActiveClass, "organized_active_class")
	set(&s.CreateEntityButton, "create_entity_button")
	set(&s.Toast, "toast")
	return s
}
