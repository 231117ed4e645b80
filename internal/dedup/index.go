// Package dedup provides content-addressed duplicate detection for documents,
// chunks, and images. Redis answers the hot path; the database is the source
// of truth and the fallback when Redis is down.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/serviceintel-ai/docpipe/internal/cache"
	"github.com/serviceintel-ai/docpipe/internal/observability"
	"github.com/serviceintel-ai/docpipe/internal/storage"
)

// HashBytes returns the lowercase hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Index answers "have we seen this content before" questions.
type Index struct {
	cache  *cache.Client
	repos  *storage.Repositories
	ttl    time.Duration
	logger *observability.Logger
}

// New creates a dedup index. cache may be nil, in which case every lookup
// goes to the database.
func New(c *cache.Client, repos *storage.Repositories, ttl time.Duration, logger *observability.Logger) *Index {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Index{cache: c, repos: repos, ttl: ttl, logger: logger}
}

// DocumentByHash returns the existing document with the given file hash, or
// nil when the content is new.
func (i *Index) DocumentByHash(ctx context.Context, fileHash string) (*storage.Document, error) {
	key := "doc:" + fileHash
	if i.cache != nil {
		if id, hit, err := i.cache.Get(ctx, key); err == nil && hit {
			docID, parseErr := uuid.Parse(id)
			if parseErr == nil {
				doc, getErr := i.repos.Documents.GetByID(ctx, docID)
				if getErr == nil {
					return doc, nil
				}
			}
			// Stale cache entry, fall through to the database.
		}
	}

	doc, err := i.repos.Documents.GetByFileHash(ctx, fileHash)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	i.remember(ctx, key, doc.ID.String())
	return doc, nil
}

// RememberDocument caches a hash to document id mapping after an upload.
func (i *Index) RememberDocument(ctx context.Context, fileHash string, docID uuid.UUID) {
	i.remember(ctx, "doc:"+fileHash, docID.String())
}

// ImageByHash returns any image row sharing the content hash, across all
// documents, so its storage path can be reused instead of re-uploading.
func (i *Index) ImageByHash(ctx context.Context, fileHash string) (*storage.Image, error) {
	img, err := i.repos.Images.GetByFileHash(ctx, fileHash)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return img, err
}

// ChunkSeen reports whether the document already holds a chunk with the
// content hash.
func (i *Index) ChunkSeen(ctx context.Context, docID uuid.UUID, contentHash string) (bool, error) {
	key := "chunk:" + docID.String() + ":" + contentHash
	if i.cache != nil {
		if _, hit, err := i.cache.Get(ctx, key); err == nil && hit {
			return true, nil
		}
	}

	seen, err := i.repos.Chunks.ExistsContentHash(ctx, docID, contentHash)
	if err != nil {
		return false, err
	}
	if seen {
		i.remember(ctx, key, "1")
	}
	return seen, nil
}

// RememberChunk caches a chunk content hash after insertion.
func (i *Index) RememberChunk(ctx context.Context, docID uuid.UUID, contentHash string) {
	i.remember(ctx, "chunk:"+docID.String()+":"+contentHash, "1")
}

func (i *Index) remember(ctx context.Context, key, value string) {
	if i.cache == nil {
		return
	}
	if err := i.cache.Set(ctx, key, value, i.ttl); err != nil {
		i.logger.Debug().Err(err).Str("key", key).Msg("dedup cache write failed")
	}
}
