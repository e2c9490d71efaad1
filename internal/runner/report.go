package runner

import "github.com/sells-group/maps-scraper/internal/model"

// termReport is what one term contributed to the run.
type termReport struct {
	loaded  bool
	blocked bool
	errored bool
	marked  bool

	links          int
	skipped        int
	failedListings int

	extracted    int
	inserted     int
	duplicates   int
	insertFailed int

	errs []string
}

func (r termReport) stored() int {
	return r.inserted + r.duplicates
}

// addTo adds the report's totals to c.
func (r termReport) addTo(c *model.Counters) {
	if r.loaded {
		c.SearchesLoadedOK++
	}
	if r.blocked {
		c.SearchesBlocked++
	}
	if r.errored {
		c.SearchesErrors++
	}
	if r.marked {
		c.SearchesMarkedUsed++
	}
	c.ListingsFound += r.links
	c.ListingsSkipped += r.skipped
	c.ListingsFailed += r.failedListings
	c.BusinessesExtracted += r.extracted
	c.BusinessesInserted += r.inserted
	c.BusinessesDuplicates += r.duplicates
	c.BusinessesInsertedOrSkipped += r.stored()
	c.BusinessesFailed += r.insertFailed
}

// apply folds the report into sum.
func (r termReport) apply(sum *model.RunSummary, term string) {
	r.addTo(&sum.Counters)
	for _, e := range r.errs {
		sum.AddError(term, e)
	}
}
