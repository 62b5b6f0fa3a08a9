package sharestore

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gezibash/arc-shares/internal/container"
	"github.com/gezibash/arc-shares/internal/observability"
	"github.com/gezibash/arc-shares/internal/sharestore/physical"
	"github.com/gezibash/arc-shares/pkg/storageindex"
)

// Response headers carrying container metadata on share reads and writes.
const (
	HeaderLayout  = "X-Container-Layout"
	HeaderVersion = "X-Container-Version"
)

// IndexListing is the JSON body of GET /shares/{si}.
type IndexListing struct {
	StorageIndex storageindex.StorageIndex `json:"storage_index"`
	Path         string                    `json:"path"`
	Shares       []uint8                   `json:"shares"`
}

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Error    string `json:"error"`
	Category string `json:"category"`
	Kind     string `json:"kind,omitempty"`
}

// Handler serves shares over HTTP:
//
//	GET    /shares/{si}         share numbers held for si
//	GET    /shares/{si}/{num}   container data
//	PUT    /shares/{si}/{num}   store a container (?layout=mutable|immutable)
//	DELETE /shares/{si}/{num}   remove a share
//	GET    /resolve/{prefix}    unique storage index for a prefix
type Handler struct {
	store *ShareStore
	mux   *http.ServeMux
}

// NewHandler builds the HTTP API for store.
func NewHandler(store *ShareStore) *Handler {
	h := &Handler{store: store, mux: http.NewServeMux()}
	h.route("GET /shares/{si}", h.listShares)
	h.route("GET /shares/{si}/{num}", h.getShare)
	h.route("PUT /shares/{si}/{num}", h.putShare)
	h.route("DELETE /shares/{si}/{num}", h.deleteShare)
	h.route("GET /resolve/{prefix}", h.resolve)
	return h
}

func (h *Handler) route(pattern string, fn http.HandlerFunc) {
	h.mux.Handle(pattern, observability.HTTPMiddleware(h.store.metrics, pattern, fn))
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) listShares(w http.ResponseWriter, r *http.Request) {
	si, err := storageindex.Parse(r.PathValue("si"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	nums, err := h.store.ListShares(r.Context(), si)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(nums) == 0 {
		writeError(w, r, ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, IndexListing{
		StorageIndex: si,
		Path:         storageindex.PathFor(si).Rel(),
		Shares:       nums,
	})
}

func (h *Handler) getShare(w http.ResponseWriter, r *http.Request) {
	si, num, err := shareParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.store.ReadShare(r.Context(), si, num)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(c.Data)))
	w.Header().Set(HeaderLayout, c.Layout.String())
	w.Header().Set(HeaderVersion, strconv.FormatUint(uint64(c.Version), 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(c.Data)
}

func (h *Handler) putShare(w http.ResponseWriter, r *http.Request) {
	si, num, err := shareParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	layout := container.Immutable
	if l := r.URL.Query().Get("layout"); l != "" {
		if layout, err = container.ParseLayout(l); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorBody{Error: err.Error(), Category: CategoryMalformed.String()})
			return
		}
	}

	// Bodies that cannot fit are cut off early; the exact cap is enforced
	// by WriteShare on the encoded size.
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.store.MaxContainerSize()))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, container.CheckSize(tooBig.Limit+1, h.store.MaxContainerSize()))
			return
		}
		writeJSON(w, http.StatusBadRequest, ErrorBody{Error: err.Error(), Category: CategoryMalformed.String()})
		return
	}

	if err := h.store.WriteShare(r.Context(), si, num, layout, data); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set(HeaderLayout, layout.String())
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) deleteShare(w http.ResponseWriter, r *http.Request) {
	si, num, err := shareParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.DeleteShare(r.Context(), si, num); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	si, err := h.store.ResolvePrefix(r.Context(), r.PathValue("prefix"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"storage_index": si,
		"path":          storageindex.PathFor(si).Rel(),
	})
}

func shareParams(r *http.Request) (storageindex.StorageIndex, uint8, error) {
	si, err := storageindex.Parse(r.PathValue("si"))
	if err != nil {
		return si, 0, err
	}
	num, err := physical.ParseShareNum(r.PathValue("num"))
	if err != nil {
		return si, 0, &storageindex.DecodeError{Input: r.PathValue("num"), Reason: "share number must be 0-255"}
	}
	return si, num, nil
}

// StatusFor maps a Category onto an HTTP status code.
func StatusFor(c Category) int {
	switch c {
	case CategoryMalformed:
		return http.StatusBadRequest
	case CategoryTooLarge:
		return http.StatusRequestEntityTooLarge
	case CategoryUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case CategoryNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	cat := Classify(err)
	body := ErrorBody{Error: err.Error(), Category: cat.String()}
	if kind, ok := container.KindOf(err); ok {
		body.Kind = kind.String()
	}
	if cat == CategoryInternal {
		slog.ErrorContext(r.Context(), "share request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, StatusFor(cat), body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
