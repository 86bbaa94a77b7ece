package models

import "time"

// Comment is one materialized comment of a discussion, in reading order
type Comment struct {
	Thread    string `json:"thread"`
	Parent    string `json:"parent,omitempty"`
	Above     string `json:"above,omitempty"`
	Below     string `json:"below,omitempty"`
	Level     int    `json:"level"`
	User      string `json:"user,omitempty"`
	Userpic   string `json:"userpic,omitempty"` // Local path after asset substitution
	Date      string `json:"date,omitempty"`
	Timestamp int64  `json:"ts,omitempty"`
	ThreadURL string `json:"thread_url,omitempty"`
	Deleted   bool   `json:"deleted,omitempty"`
	Text      string `json:"text"`
}

// Post is the archived form of a single journal post with its comments
type Post struct {
	ID           string    `json:"id"`
	User         string    `json:"user"`
	Link         string    `json:"link"`
	Header       string    `json:"header"`
	Author       string    `json:"author,omitempty"`
	Date         string    `json:"date,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Text         string    `json:"text"`
	CommentPages []string  `json:"comment_pages,omitempty"`
	ReplyCount   int       `json:"reply_count,omitempty"` // Declared by the site, 0 when unknown
	Comments     []Comment `json:"comments"`
	ArchivedAt   time.Time `json:"archived_at"`
}

// IndexPost is the per-post summary kept in a journal's index file
type IndexPost struct {
	ID     string   `json:"id"`
	Header string   `json:"header"`
	Date   string   `json:"date,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

// Index lists every archived post of one journal
type Index struct {
	User      string               `json:"user"`
	UpdatedAt time.Time            `json:"updated_at"`
	Posts     map[string]IndexPost `json:"posts"`
}

// PostLink is a post URL discovered on a calendar page
type PostLink struct {
	Date string `json:"date"` // YYYY-MM-DD
	URL  string `json:"url"`
}

// PostDBEntry stores the archive outcome of a post in the state database
type PostDBEntry struct {
	Status       PostStatus `json:"status"`
	ErrorType    string     `json:"error_type,omitempty"`    // Error category (on failure)
	CommentCount int        `json:"comment_count,omitempty"` // Comments saved (on success)
	OutputFile   string     `json:"output_file,omitempty"`   // Relative to the output base dir
	LastAttempt  time.Time  `json:"last_attempt"`
}

// AssetDBEntry stores the resolution outcome of an asset URL in the state database
type AssetDBEntry struct {
	Status      AssetStatus `json:"status"`
	LocalPath   string      `json:"local_path,omitempty"` // Relative to the journal dir (on success)
	ErrorType   string      `json:"error_type,omitempty"` // Error category (on failure)
	Size        int64       `json:"size,omitempty"`
	LastAttempt time.Time   `json:"last_attempt"`
}
