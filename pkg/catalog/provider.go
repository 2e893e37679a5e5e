package catalog

import "context"

// Provider supplies tweak definitions to the engine. How tweaks are sourced
// (packaged data, files, a remote feed) is irrelevant to the engine; it
// only requires these read operations.
type Provider interface {
	// GetAll returns every tweak in the catalog.
	GetAll(ctx context.Context) ([]Tweak, error)

	// GetByID returns the tweak with the given id, matched
	// case-insensitively, or nil if it does not exist.
	GetByID(ctx context.Context, id string) (*Tweak, error)

	// GetByCategory returns the tweaks in the given category, matched
	// case-insensitively.
	GetByCategory(ctx context.Context, category string) ([]Tweak, error)

	// Search returns tweaks whose id, name, description, category, or tags
	// contain the term, case-insensitively.
	Search(ctx context.Context, term string) ([]Tweak, error)

	// Categories returns the distinct category names in the catalog.
	Categories(ctx context.Context) ([]string, error)
}
