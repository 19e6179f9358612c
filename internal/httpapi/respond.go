package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/parkedge/internal/parking/types"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, types.ErrorResponse{OK: false, Code: code, Message: msg})
}

// respond writes v as protobuf when the client asked for it, JSON
// otherwise.
func respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	if !wantsProtobuf(r) {
		writeJSON(w, status, v)
		return
	}
	st, err := toStruct(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "encode response")
		return
	}
	writeProto(w, status, st)
}

// decodeRequest reads a JSON or protobuf Struct body into v.
func decodeRequest(r *http.Request, v any) error {
	if isProtobuf(r) {
		st := &structpb.Struct{}
		if err := readProto(r, st); err != nil {
			return err
		}
		return fromStruct(st, v)
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
