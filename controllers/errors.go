package controllers

import (
	"net/http"
	"time"

	"fundraiser/apperr"
	"fundraiser/utils"
)

const timeLayout = time.RFC3339

// StatusForKind maps an error kind to the HTTP status a client sees.
func StatusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidFormat, apperr.KindInvalidPhone, apperr.KindInvalidAmount, apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound, apperr.KindUnknownCorrelation:
		return http.StatusNotFound
	case apperr.KindDuplicateCorrelation:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeKindError writes the failure envelope for err. Internal kinds never
// expose their cause.
func writeKindError(w http.ResponseWriter, err error, fallback string) {
	kind := apperr.KindOf(err)
	status := StatusForKind(kind)
	msg := apperr.MessageOf(err, fallback)
	if kind == apperr.KindUnknown {
		msg = fallback
	}
	utils.WriteError(w, status, string(kind), msg)
}
