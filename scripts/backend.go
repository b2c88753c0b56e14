// Backend is a stub book service for running the gateway locally. Start one
// per route:
//
//	go run ./scripts -name catalog -port 3001
//	go run ./scripts -name inventory -port 3002
//	go run ./scripts -name orders -port 3003 -gzip
//
// Every request is answered with a JSON echo of what arrived. POST answers
// 201 with a fresh id, /<name>/redirect answers 302 to /<name>, and -gzip
// compresses every response body.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/angeloszaimis/book-gateway/pkg/logger"
)

type echo struct {
	ID        string              `json:"id,omitempty"`
	Service   string              `json:"service"`
	Method    string              `json:"method"`
	Path      string              `json:"path"`
	Query     string              `json:"query,omitempty"`
	Host      string              `json:"host"`
	RequestID string              `json:"request_id,omitempty"`
	Cookies   map[string]string   `json:"cookies,omitempty"`
	Headers   map[string][]string `json:"headers"`
	Body      json.RawMessage     `json:"body,omitempty"`
}

func main() {
	name := flag.String("name", "catalog", "service name, also the route prefix")
	port := flag.Int("port", 3001, "port to listen on")
	compress := flag.Bool("gzip", false, "gzip every response body")
	flag.Parse()

	log := logger.New("debug", false, "dev").With(slog.String("stub", *name))

	mux := http.NewServeMux()
	mux.HandleFunc("/"+*name+"/redirect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/"+*name, http.StatusFound)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		log.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("host", r.Host),
			slog.String("request_id", r.Header.Get("X-Request-ID")),
			slog.Int("body_bytes", len(body)))

		resp := echo{
			Service:   *name,
			Method:    r.Method,
			Path:      r.URL.Path,
			Query:     r.URL.RawQuery,
			Host:      r.Host,
			RequestID: r.Header.Get("X-Request-ID"),
			Headers:   r.Header,
		}
		if cookies := r.Cookies(); len(cookies) > 0 {
			resp.Cookies = make(map[string]string, len(cookies))
			for _, c := range cookies {
				resp.Cookies[c.Name] = c.Value
			}
		}
		if len(body) > 0 {
			if json.Valid(body) {
				resp.Body = body
			} else {
				resp.Body, _ = json.Marshal(string(body))
			}
		}

		status := http.StatusOK
		if r.Method == http.MethodPost {
			resp.ID = uuid.NewString()
			status = http.StatusCreated
		}

		writeJSON(w, r, status, resp, *compress)
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Info("starting stub backend", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("server failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any, compress bool) {
	w.Header().Set("Content-Type", "application/json")

	if !compress || !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
		return
	}

	w.Header().Set("Content-Encoding", "gzip")
	w.WriteHeader(status)
	gz := gzip.NewWriter(w)
	defer gz.Close()
	json.NewEncoder(gz).Encode(v)
}
