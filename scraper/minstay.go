package scraper

// DetectMinStay scans the visible text of a property page for a minimum
// length of stay. It returns the night count to query and whether it differs
// from the requested one.
func DetectMinStay(site Site, html string, requested int) (int, bool) {
	n, ok := site.MinStay(VisibleText(html))
	if !ok || n <= requested {
		return requested, false
	}
	return n, true
}
