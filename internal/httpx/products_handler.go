package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fournildore/boulangerie-api/internal/catalog"
)

type ProductsHandler struct {
	Store catalog.Store
}

func (h *ProductsHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Get("/products/slug/{slug}", h.getProductBySlug)
	r.Get("/products/{id}", h.getProduct)
}

func (h *ProductsHandler) RegisterAdmin(r chi.Router) {
	r.Post("/products", h.createProduct)
	r.Patch("/products/{id}", h.updateProduct)
	r.Delete("/products/{id}", h.archiveProduct)
}

type listProductsResp struct {
	Products []catalog.Product `json:"products"`
	Total    int               `json:"total"`
}

func (h *ProductsHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := catalog.ListFilter{
		Search: q.Get("search"),
		Page:   atoiDefault(q.Get("page"), 1),
		Limit:  atoiDefault(q.Get("limit"), 50),
	}
	if c := q.Get("category"); c != "" {
		cat := catalog.Category(c)
		f.Category = &cat
	}
	// Storefront sees only sellable products unless the caller asks for all.
	if q.Get("all") != "1" {
		avail := true
		status := catalog.StatusAvailable
		f.Available = &avail
		f.Status = &status
	}
	ps, total, err := h.Store.List(r.Context(), f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if ps == nil {
		ps = []catalog.Product{}
	}
	writeJSON(w, http.StatusOK, listProductsResp{Products: ps, Total: total})
}

// getProduct accepts an id, falling back to slug lookup so old storefront
// links with slugs in the id position keep working.
func (h *ProductsHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "id")
	var (
		p   catalog.Product
		err error
	)
	if _, uuidErr := uuid.Parse(key); uuidErr == nil {
		p, err = h.Store.Get(r.Context(), key)
	} else {
		p, err = h.Store.GetBySlug(r.Context(), key)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProductsHandler) getProductBySlug(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProductsHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	var in catalog.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", "invalid json body", nil)
		return
	}
	if in.Name == "" || !in.Category.Valid() {
		writeError(w, http.StatusBadRequest, "VALIDATION", "name and a valid category are required", nil)
		return
	}
	if in.Price.IsNegative() {
		writeError(w, http.StatusBadRequest, "VALIDATION", "price must not be negative", nil)
		return
	}
	p, err := h.Store.Create(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *ProductsHandler) updateProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var in catalog.UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", "invalid json body", nil)
		return
	}
	p, err := h.Store.Update(r.Context(), id, in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// archiveProduct soft-deletes: the product disappears from the storefront
// but order history keeps referencing its snapshot.
func (h *ProductsHandler) archiveProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.Archive(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
