package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/devrev/avcorr/internal/errors"
	"github.com/devrev/avcorr/internal/queue"
	"github.com/devrev/avcorr/internal/selection"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	sel        *selection.RawVideoSelection
	queue      *queue.RedisSampleQueue
	sample     selection.SampleOptions
	maxSamples int
	logger     *zap.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(sel *selection.RawVideoSelection, q *queue.RedisSampleQueue, sample selection.SampleOptions, maxSamples int, logger *zap.Logger) *Handlers {
	return &Handlers{
		sel:        sel,
		queue:      q,
		sample:     sample,
		maxSamples: maxSamples,
		logger:     logger,
	}
}

// Liveness reports that the process is serving requests
func (h *Handlers) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Readiness checks the table and, when configured, the sample queue
func (h *Handlers) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	ready := true
	if _, err := h.sel.Metadata().RowsAtLeast(ctx, 1); err != nil {
		checks["store"] = err.Error()
		ready = false
	} else {
		checks["store"] = "ok"
	}
	if h.queue != nil {
		if err := h.queue.Ping(ctx); err != nil {
			checks["queue"] = err.Error()
			ready = false
		} else {
			checks["queue"] = "ok"
		}
	}

	code, status := http.StatusOK, "ready"
	if !ready {
		code, status = http.StatusServiceUnavailable, "not_ready"
	}
	writeJSON(w, code, map[string]interface{}{"status": status, "checks": checks})
}

// Describe returns the table, prefix and column families served
func (h *Handlers) Describe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sel.Describe())
}

// ListShards returns shard metadata. Query parameters: num_shards and
// ignore_unfinished (default true).
func (h *Handlers) ListShards(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	numShards, err := intParam(q.Get("num_shards"), 0)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	ignoreUnfinished, err := boolParam(q.Get("ignore_unfinished"), true)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	shards, err := h.sel.Metadata().LookupShardMetadata(r.Context(), numShards, ignoreUnfinished)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	out := make(map[string]map[string]interface{}, len(shards))
	for key, m := range shards {
		out[key] = m.AsDict()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"shards": out})
}

// GetVideo returns the metadata of one video
func (h *Handlers) GetVideo(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	shardID, err := intParam(vars["shard_id"], 0)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	videoID, err := intParam(vars["video_id"], 0)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	meta := h.sel.Metadata()
	vm, err := meta.LookupVideoMetadata(r.Context(), meta.Prefix(), shardID, videoID)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, vm)
}

// StreamSamples draws n example sets and writes them as newline delimited
// JSON, one set per line. With keys_only the samples are in their serialized
// key form.
func (h *Handlers) StreamSamples(w http.ResponseWriter, r *http.Request) {
	sampler, n, err := h.newSampler(r)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	// The first set is drawn before the header goes out so that setup errors
	// still produce an error status.
	set, err := sampler.Next(r.Context())
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	for i := 0; ; i++ {
		if err := enc.Encode(set); err != nil {
			h.logger.Warn("Failed to write example set", zap.Error(err))
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		if i+1 >= n {
			return
		}
		set, err = sampler.Next(r.Context())
		if err == io.EOF {
			return
		}
		if err != nil {
			h.logger.Error("Sampling stopped mid stream",
				zap.Int("emitted", i+1),
				zap.String("request_id", r.Header.Get("X-Request-ID")),
				zap.Error(err))
			return
		}
	}
}

// QueueSamples draws n key-only example sets and pushes them onto the sample
// queue for remote consumers.
func (h *Handlers) QueueSamples(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		handleError(w, r, h.logger, errors.Unavailable("sample queue is not configured", nil))
		return
	}
	q := r.URL.Query()
	q.Set("keys_only", "true")
	r.URL.RawQuery = q.Encode()

	sampler, n, err := h.newSampler(r)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	var depth int64
	pushed := 0
	for pushed < n {
		set, err := sampler.Next(r.Context())
		if err == io.EOF {
			break
		}
		if err != nil {
			handleError(w, r, h.logger, err)
			return
		}
		if depth, err = h.queue.Push(r.Context(), set); err != nil {
			handleError(w, r, h.logger, err)
			return
		}
		pushed++
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queue":  h.queue.Key(),
		"pushed": pushed,
		"depth":  depth,
	})
}

func (h *Handlers) newSampler(r *http.Request) (*selection.Sampler, int, error) {
	q := r.URL.Query()
	n, err := intParam(q.Get("n"), 1)
	if err != nil {
		return nil, 0, err
	}
	if n <= 0 {
		return nil, 0, errors.InvalidArgumentf("n must be positive, saw %d", n)
	}
	if n > h.maxSamples {
		n = h.maxSamples
	}

	opts := h.sample
	opts.MaxNumSamples = n
	if opts.KeysOnly, err = boolParam(q.Get("keys_only"), opts.KeysOnly); err != nil {
		return nil, 0, err
	}
	if opts.EmitNegativeDifferent, err = boolParam(q.Get("negative_different"), opts.EmitNegativeDifferent); err != nil {
		return nil, 0, err
	}
	if opts.NumShards, err = intParam(q.Get("num_shards"), opts.NumShards); err != nil {
		return nil, 0, err
	}

	sampler, err := h.sel.SampleAVCorrespondenceExamples(opts)
	if err != nil {
		return nil, 0, err
	}
	return sampler, n, nil
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.InvalidArgument("invalid integer "+strconv.Quote(raw), err)
	}
	return v, nil
}

func boolParam(raw string, def bool) (bool, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.InvalidArgument("invalid boolean "+strconv.Quote(raw), err)
	}
	return v, nil
}
