package archive

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/lbento/warden/internal/database"
)

// ContentHash returns the hex BLAKE3 digest of the raw bytes. It is
// the primary key of the media store: identical payloads collapse
// onto one stored object.
func ContentHash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// storeMedia persists one media payload. The content is hashed before
// any disk write; a known hash only gains a back-reference, an
// unknown one is written under its MIME category directory and gets
// fresh metadata.
func (a *Archiver) storeMedia(ctx context.Context, m *mediaItem) error {
	hash := ContentHash(m.data)

	if !m.stored {
		existing, err := a.store.GetMediaObject(ctx, hash)
		if err != nil {
			return fmt.Errorf("failed to look up media object: %w", err)
		}

		if existing != nil {
			m.stored = true
			m.deduped = true
		} else {
			category := mediaCategory(m.mimeType)
			dir := filepath.Join(a.cfg.MediaDir, category)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create media directory %s: %w", dir, err)
			}

			path := filepath.Join(dir, hash+mediaExtension(m.mimeType, m.fileName))
			if err := os.WriteFile(path, m.data, 0o644); err != nil {
				return fmt.Errorf("failed to write media file %s: %w", path, err)
			}

			obj := &database.MediaObject{
				Hash:      hash,
				Category:  category,
				MimeType:  m.mimeType,
				SizeBytes: int64(len(m.data)),
				Path:      path,
			}
			if err := a.store.InsertMediaObject(ctx, obj); err != nil {
				return err
			}
			m.stored = true

			a.mu.Lock()
			a.stats.MediaStored++
			a.mu.Unlock()
			a.logger.Debug("Media stored", "hash", hash, "category", category, "size", len(m.data))
		}
	}

	if err := a.store.AddMediaRef(ctx, hash, m.messageID, m.conversation); err != nil {
		return err
	}

	if m.deduped {
		a.mu.Lock()
		a.stats.MediaDeduped++
		a.mu.Unlock()
		a.logger.Debug("Media deduplicated", "hash", hash, "message_id", m.messageID)
	}
	return nil
}

// mediaCategory maps a MIME type onto a storage category directory.
func mediaCategory(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	default:
		return "document"
	}
}

// mediaExtension picks a file extension from the original file name
// when present, falling back to a MIME-derived one.
func mediaExtension(mimeType, fileName string) string {
	if ext := filepath.Ext(fileName); ext != "" {
		return ext
	}

	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}
