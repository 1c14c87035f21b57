package imports

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	apperrors "github.com/avolkov/stockroom-backend/pkg/errors"
)

// DuplicateGuard rejects re-imports of the same source bytes using the
// SHA-256 content hash recorded in the import history.
type DuplicateGuard struct {
	repo Repository
}

// NewDuplicateGuard wires the guard with the import history repository.
func NewDuplicateGuard(repo Repository) *DuplicateGuard {
	return &DuplicateGuard{repo: repo}
}

// HashFile streams the file through SHA-256 and returns the hex digest.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening file for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DuplicateInfo is the prior import's metadata surfaced with a rejection.
type DuplicateInfo struct {
	OriginalName string     `json:"original_name"`
	Supplier     *string    `json:"supplier,omitempty"`
	Invoice      *string    `json:"invoice,omitempty"`
	ImportedAt   time.Time  `json:"imported_at"`
	RevertedAt   *time.Time `json:"reverted_at,omitempty"`
}

// Check returns a conflict error carrying the prior import's metadata when
// the hash is already recorded and that import was not reverted. Reverted
// imports no longer block: their stock effect has been undone.
func (g *DuplicateGuard) Check(ctx context.Context, sourceHash string) error {
	record, err := g.repo.FindByHash(ctx, sourceHash)
	if err != nil {
		return err
	}
	if record == nil || record.RevertedAt != nil {
		return nil
	}
	return apperrors.New(apperrors.CodeDuplicateImport,
		fmt.Sprintf("file already imported on %s", record.CreatedAt.Format("2006-01-02 15:04"))).
		WithDetails(DuplicateInfo{
			OriginalName: record.OriginalName,
			Supplier:     record.Supplier,
			Invoice:      record.Invoice,
			ImportedAt:   record.CreatedAt,
			RevertedAt:   record.RevertedAt,
		})
}
