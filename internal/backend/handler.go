package backend

import (
	"encoding/json"
	"net/http"
)

// Handler serves the status of every backend as JSON, in route order.
func (p *Pool) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(p.Statuses()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}
