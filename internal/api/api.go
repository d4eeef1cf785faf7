// Package api serves document writes over HTTP and reports duplicate-key
// violations as 422 validation errors.
package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/dalemusser/dupkey/httputil"
	"github.com/dalemusser/dupkey/middleware"
	"github.com/dalemusser/dupkey/pantry/health"
	"github.com/dalemusser/dupkey/unique"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Store is the write surface of one collection. Errors it returns are
// already translated; *mongodb.Collection satisfies it.
type Store interface {
	Namespace() string
	InsertOne(ctx context.Context, doc any, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	UpdateOne(ctx context.Context, filter, update any, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// Handler serves the collection routes.
type Handler struct {
	stores   map[string]Store
	registry *unique.Registry
	checks   map[string]health.Check
	logger   *zap.Logger
}

// NewHandler serves stores keyed by collection name. checks back /health
// and may be nil.
func NewHandler(stores map[string]Store, registry *unique.Registry, checks map[string]health.Check, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{stores: stores, registry: registry, checks: checks, logger: logger}
}

// Mount registers the routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Method(http.MethodGet, "/health", health.Handler(h.checks, h.logger))
	r.Route("/collections/{collection}", func(r chi.Router) {
		r.Use(middleware.RequireJSON)
		r.Post("/documents", h.insert)
		r.Patch("/documents/{id}", h.update)
		r.Get("/indexes", h.indexes)
	})
}

func (h *Handler) store(w http.ResponseWriter, r *http.Request) (Store, bool) {
	name := chi.URLParam(r, "collection")
	s, ok := h.stores[name]
	if !ok {
		httputil.JSONError(w, http.StatusNotFound, "unknown_collection",
			"collection "+name+" is not declared in the schema")
		return nil, false
	}
	return s, true
}

func (h *Handler) insert(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
	doc, err := httputil.BindDocument(r)
	if err != nil {
		bodyError(w, err)
		return
	}

	res, err := s.InsertOne(r.Context(), doc)
	if err != nil {
		h.writeError(w, r, s, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{"inserted_id": res.InsertedID})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
	doc, err := httputil.BindDocument(r)
	if err != nil {
		bodyError(w, err)
		return
	}
	for _, e := range doc {
		if strings.HasPrefix(e.Key, "$") || e.Key == "_id" {
			httputil.JSONError(w, http.StatusBadRequest, "invalid_request",
				"field "+e.Key+" cannot be set")
			return
		}
	}

	filter := bson.D{{Key: "_id", Value: documentID(chi.URLParam(r, "id"))}}
	update := bson.D{{Key: "$set", Value: doc}}

	res, err := s.UpdateOne(r.Context(), filter, update)
	if err != nil {
		h.writeError(w, r, s, err)
		return
	}
	if res.MatchedCount == 0 {
		httputil.JSONError(w, http.StatusNotFound, "not_found", "no document with that id")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int64{
		"matched":  res.MatchedCount,
		"modified": res.ModifiedCount,
	})
}

type indexView struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
	Unique bool     `json:"unique"`
}

func (h *Handler) indexes(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
	set, err := h.registry.Indexes(r.Context(), s.Namespace())
	if err != nil {
		h.logger.Warn("index lookup failed", zap.String("namespace", s.Namespace()), zap.Error(err))
		httputil.JSONError(w, http.StatusServiceUnavailable, "index_lookup_failed", "indexes are unavailable")
		return
	}

	out := make([]indexView, 0, len(set))
	for _, d := range set {
		out = append(out, indexView{Name: d.Name, Fields: d.Fields, Unique: d.Unique})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"namespace": s.Namespace(),
		"indexes":   out,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, s Store, err error) {
	if verr, ok := unique.AsValidationError(err); ok {
		httputil.ValidationFailed(w, verr)
		return
	}
	h.logger.Error("write failed",
		zap.String("namespace", s.Namespace()),
		zap.String("method", r.Method),
		zap.Error(err))
	httputil.JSONError(w, http.StatusInternalServerError, "write_failed", "the write could not be completed")
}

func bodyError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, httputil.ErrBodyTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	httputil.JSONError(w, status, "invalid_request", err.Error())
}

// documentID treats 24-hex ids as ObjectIDs and anything else as a string.
func documentID(s string) any {
	if oid, err := primitive.ObjectIDFromHex(s); err == nil {
		return oid
	}
	return s
}
