package scratch

// Base URLs for the platform's distinct hosts. Each host is rate limited
// independently.
const (
	apiBase      = "https://api.scratch.mit.edu"
	siteBase     = "https://scratch.mit.edu"
	projectsBase = "https://projects.scratch.mit.edu"
	assetsBase   = "https://cdn2.scratch.mit.edu"
	waybackBase  = "https://archive.org/wayback/available"
)

// pageLimit is the maximum page size the REST API accepts.
const pageLimit = 40
