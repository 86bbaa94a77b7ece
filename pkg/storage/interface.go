package storage

import (
	"context"
	"time"

	"github.com/Sriram-PR/lj-archiver/pkg/models"
)

// PostStore records the archive outcome of journal posts.
// Keys are "<user>/<postid>".
type PostStore interface {
	// CheckPostStatus retrieves the status and details of a post
	// Returns PostStatusNotFound with a nil entry when the post was never attempted
	CheckPostStatus(postKey string) (status models.PostStatus, entry *models.PostDBEntry, err error)

	// UpdatePostStatus stores the status and details for a post
	UpdatePostStatus(postKey string, entry *models.PostDBEntry) error

	// ListPostsByStatus returns the keys of every post currently in the given status
	ListPostsByStatus(ctx context.Context, status models.PostStatus) ([]string, error)
}

// AssetStore records where each asset URL was materialized
type AssetStore interface {
	// CheckAssetStatus retrieves the status and details of an asset URL
	CheckAssetStatus(normalizedURL string) (status models.AssetStatus, entry *models.AssetDBEntry, err error)

	// UpdateAssetStatus stores the status and details for an asset URL
	UpdateAssetStatus(normalizedURL string, entry *models.AssetDBEntry) error
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// KeyCount returns the number of post and asset keys in the store
	KeyCount() int

	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database connection
	Close() error
}

// StateStore combines all store interfaces for components that need full access
type StateStore interface {
	PostStore
	AssetStore
	StoreAdmin
}
