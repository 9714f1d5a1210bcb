package controlplane

import (
	"encoding/json"
	"net/http"
)

// outJSON ports varasto's restapi.go outJson helper verbatim in shape.
func outJSON(w http.ResponseWriter, out interface{}) {
	w.Header().Set("Content-Type", "application/json")
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(out); err != nil {
		// headers are already written; nothing left to do but note it.
	}
}

// errorBody is the stable `{error|detail: string}` shape spec.md section 7
// promises callers: both keys carry the same string so GUI and CLI clients
// coded against either name keep working.
type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func httpError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg, Detail: msg})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}
