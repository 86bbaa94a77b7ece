package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/lj-archiver/pkg/models"
	"github.com/Sriram-PR/lj-archiver/pkg/utils"
)

// IndexFileName is the per-journal index written next to the post files
const IndexFileName = "index.json"

// PostFileName returns the file name of an archived post within its journal directory
func PostFileName(postID string) string {
	return utils.SanitizeFilename(postID) + ".json"
}

// writeJSONFile writes v as indented JSON through a temp file and rename so
// readers never see a partial file
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: JSON encode %s: %w", utils.ErrParsing, path, err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: create %s: %w", utils.ErrFilesystem, dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".write-*")
	if err != nil {
		return fmt.Errorf("%w: temp file in %s: %w", utils.ErrFilesystem, dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write %s: %w", utils.ErrFilesystem, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close %s: %w", utils.ErrFilesystem, tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: rename to %s: %w", utils.ErrFilesystem, path, err)
	}
	return nil
}

// LoadPost reads an archived post file
func LoadPost(path string) (*models.Post, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", utils.ErrFilesystem, path, err)
	}
	var post models.Post
	if err := json.Unmarshal(data, &post); err != nil {
		return nil, fmt.Errorf("%w: JSON post file %s: %w", utils.ErrParsing, path, err)
	}
	return &post, nil
}

// LoadIndex reads a journal index. A missing file yields an empty index.
func LoadIndex(path, user string) (*models.Index, error) {
	idx := &models.Index{User: user, Posts: make(map[string]models.IndexPost)}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", utils.ErrFilesystem, path, err)
	}
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, fmt.Errorf("%w: JSON index %s: %w", utils.ErrParsing, path, err)
	}
	if idx.Posts == nil {
		idx.Posts = make(map[string]models.IndexPost)
	}
	if idx.User == "" {
		idx.User = user
	}
	return idx, nil
}

// updateIndex adds or replaces the entry of post in the journal index
func updateIndex(journalDir string, post *models.Post, log *logrus.Entry) error {
	path := filepath.Join(journalDir, IndexFileName)
	idx, err := LoadIndex(path, post.User)
	if err != nil {
		return err
	}
	idx.Posts[post.ID] = models.IndexPost{
		ID:     post.ID,
		Header: post.Header,
		Date:   post.Date,
		Tags:   post.Tags,
	}
	idx.UpdatedAt = time.Now().UTC()
	if err := writeJSONFile(path, idx); err != nil {
		return err
	}
	log.WithField("posts", len(idx.Posts)).Debugf("Index updated: %s", path)
	return nil
}
