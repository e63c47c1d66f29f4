package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/dgallion1/docards/internal/extract"
)

const maxReplyBytes = 4 << 20

// handleRecover runs the card recoverer over a raw model reply sent as the
// request body.
func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxReplyBytes+1))
	if err != nil {
		jsonError(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxReplyBytes {
		jsonError(w, "reply too large", http.StatusRequestEntityTooLarge)
		return
	}

	res, err := extract.Recover(string(body))
	if err != nil {
		var pe *extract.ParseError
		if errors.As(err, &pe) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":    pe.Err.Error(),
				"original": pe.Original,
				"repaired": pe.Repaired,
			})
			return
		}
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"valid":    res.Valid,
		"invalid":  res.Invalid,
		"repaired": res.Repaired,
		"summary":  res.Summary(),
	})
}
