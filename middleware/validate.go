package middleware

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"fundraiser/utils"
)

var errUnsupportedMedia = errors.New("unsupported media type")

// ValidateJSON decodes a JSON payload into dst and runs utils.ValidateStruct.
// On failure it has already written a 400/415 envelope.
func ValidateJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		utils.WriteError(w, http.StatusUnsupportedMediaType, "VALIDATION_FAILED", "Content-Type must be application/json")
		return errUnsupportedMedia
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "VALIDATION_FAILED", "Invalid JSON body")
		return err
	}
	if err := utils.ValidateStruct(dst); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return err
	}
	return nil
}
