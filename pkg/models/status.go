package models

// PostStatus represents the archive status of a post in the state database
type PostStatus string

const (
	PostStatusUnset    PostStatus = ""          // Zero value = unset/unknown
	PostStatusPending  PostStatus = "pending"   // Archive started but not finished
	PostStatusArchived PostStatus = "archived"  // Post and comments saved
	PostStatusFailure  PostStatus = "failure"   // Archiving failed
	PostStatusNotFound PostStatus = "not_found" // Post not in database
	PostStatusDBError  PostStatus = "db_error"  // Database error occurred
)

// String implements fmt.Stringer for logging
func (s PostStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s PostStatus) IsValid() bool {
	switch s {
	case PostStatusPending, PostStatusArchived, PostStatusFailure:
		return true
	}
	return false
}

// AssetStatus represents the resolution state of a referenced asset
type AssetStatus string

const (
	AssetStatusUnset    AssetStatus = ""
	AssetStatusPending  AssetStatus = "pending"   // Planned, not yet downloaded
	AssetStatusResolved AssetStatus = "resolved"  // Available at its local path
	AssetStatusFallback AssetStatus = "fallback"  // Download failed, sentinel path used
	AssetStatusNotFound AssetStatus = "not_found" // Asset not in database
	AssetStatusDBError  AssetStatus = "db_error"
)

// String implements fmt.Stringer for logging
func (s AssetStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s AssetStatus) IsValid() bool {
	switch s {
	case AssetStatusPending, AssetStatusResolved, AssetStatusFallback:
		return true
	}
	return false
}

// IsTerminal reports whether no further download work is planned for the asset
func (s AssetStatus) IsTerminal() bool {
	return s == AssetStatusResolved || s == AssetStatusFallback
}
