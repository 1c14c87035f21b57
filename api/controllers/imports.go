package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/avolkov/stockroom-backend/api/responses"
	"github.com/avolkov/stockroom-backend/api/validators"
	"github.com/avolkov/stockroom-backend/internal/imports"
	"github.com/avolkov/stockroom-backend/pkg/config"
	"github.com/avolkov/stockroom-backend/pkg/db/models"
	pkgerrors "github.com/avolkov/stockroom-backend/pkg/errors"
	"github.com/avolkov/stockroom-backend/pkg/logger"
)

const uploadFieldName = "file"

// ImportPreview accepts a multipart supply document, extracts its rows and
// opens a pending session the client later commits or cancels.
func ImportPreview(svc imports.Service, cfg config.ImportsConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "import service unavailable"))
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes)
		if err := r.ParseMultipartForm(cfg.MaxUploadBytes); err != nil {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid multipart upload"))
			return
		}

		file, header, err := r.FormFile(uploadFieldName)
		if err != nil {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.Wrap(pkgerrors.CodeValidation, err, "missing file field"))
			return
		}
		defer file.Close()

		name := strings.TrimSpace(header.Filename)
		if name == "" {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "uploaded file has no name"))
			return
		}

		out, err := svc.Preview(r.Context(), imports.PreviewInput{
			OriginalName: name,
			Content:      file,
		})
		if err != nil {
			// Extraction failures still carry the preview so the operator
			// can see what the parser was looking at.
			if out != nil && pkgerrors.IsCode(err, pkgerrors.CodeExtractionFailed) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.As(err).WithDetails(map[string]any{
					"token":   out.Token,
					"preview": out.Preview,
				}))
				return
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, out)
	}
}

type importCommitRequest struct {
	Token string             `json:"token" validate:"required"`
	Rows  []imports.RowInput `json:"rows,omitempty" validate:"omitempty,dive"`
}

// ImportCommit applies a pending session to the ledger row by row.
func ImportCommit(svc imports.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "import service unavailable"))
			return
		}

		var payload importCommitRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithImportToken(ctx, payload.Token)
		}

		result, err := svc.Commit(ctx, payload.Token, payload.Rows)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

type importCancelRequest struct {
	Token string `json:"token" validate:"required"`
}

// ImportCancel discards a pending session and its stored upload.
func ImportCancel(svc imports.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "import service unavailable"))
			return
		}

		var payload importCancelRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Cancel(r.Context(), payload.Token); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "cancelled"})
	}
}

// ImportRevert rolls back the latest non-reverted import.
func ImportRevert(svc imports.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "import service unavailable"))
			return
		}

		result, err := svc.Revert(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

type importRecordResponse struct {
	ID           uint       `json:"id"`
	OriginalName string     `json:"original_name"`
	ImportKind   string     `json:"import_kind"`
	ItemsCount   int        `json:"items_count"`
	Supplier     *string    `json:"supplier,omitempty"`
	Invoice      *string    `json:"invoice,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	RevertedAt   *time.Time `json:"reverted_at,omitempty"`
}

type importHistoryResponse struct {
	Items []importRecordResponse `json:"items"`
	Total int64                  `json:"total"`
}

// ImportHistory lists past imports, most recent first.
func ImportHistory(svc imports.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "import service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 20, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		offset, err := validators.ParseQueryInt(r, "offset", 0, 0, 1_000_000)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		records, total, err := svc.History(r.Context(), limit, offset)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]importRecordResponse, 0, len(records))
		for _, rec := range records {
			items = append(items, toImportRecordResponse(rec))
		}
		responses.WriteSuccess(w, importHistoryResponse{Items: items, Total: total})
	}
}

func toImportRecordResponse(rec models.ImportRecord) importRecordResponse {
	return importRecordResponse{
		ID:           rec.ID,
		OriginalName: rec.OriginalName,
		ImportKind:   string(rec.ImportKind),
		ItemsCount:   rec.ItemsCount,
		Supplier:     rec.Supplier,
		Invoice:      rec.Invoice,
		CreatedAt:    rec.CreatedAt,
		RevertedAt:   rec.RevertedAt,
	}
}
