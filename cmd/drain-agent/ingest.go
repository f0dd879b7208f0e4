package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/velmie/drain"
	"github.com/velmie/drain/memory"
	"github.com/velmie/drain/pebble"
)

const (
	// ingestHeaderPrefix marks request headers copied into event headers.
	// X-Event-Source: api becomes the event header source=api.
	ingestHeaderPrefix = "X-Event-"
	maxIngestBody      = 4 << 20
)

// eventPutter is implemented by the channels only this process can write to.
type eventPutter interface {
	Put(ctx context.Context, event drain.Event) error
}

// ingestHandler accepts one event per POST: the request body becomes the
// event body.
func ingestHandler(path string, ch eventPutter, logger drain.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+path, func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "event body too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		if len(body) == 0 {
			http.Error(w, "event body is empty", http.StatusBadRequest)
			return
		}

		event := drain.Event{Headers: eventHeaders(r.Header), Body: body}
		if err := ch.Put(r.Context(), event); err != nil {
			switch {
			case errors.Is(err, memory.ErrFull), errors.Is(err, pebble.ErrFull), errors.Is(err, pebble.ErrClosed):
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
			default:
				logger.Error("drain ingest put failed", "err", err)
				http.Error(w, "put failed", http.StatusInternalServerError)
			}
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	return mux
}

func eventHeaders(h http.Header) map[string]string {
	var headers map[string]string
	for k, v := range h {
		if len(v) == 0 || len(k) <= len(ingestHeaderPrefix) || !strings.EqualFold(k[:len(ingestHeaderPrefix)], ingestHeaderPrefix) {
			continue
		}
		if headers == nil {
			headers = make(map[string]string)
		}
		headers[strings.ToLower(k[len(ingestHeaderPrefix):])] = v[0]
	}

	return headers
}
