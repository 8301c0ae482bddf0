package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound  = errors.New("product not found")
	ErrSlugTaken = errors.New("slug already in use")
)

// Store is what handlers and the order service need from the catalog.
type Store interface {
	List(ctx context.Context, f ListFilter) ([]Product, int, error)
	Get(ctx context.Context, id string) (Product, error)
	GetBySlug(ctx context.Context, slug string) (Product, error)
	Create(ctx context.Context, in CreateInput) (Product, error)
	Update(ctx context.Context, id string, in UpdateInput) (Product, error)
	Archive(ctx context.Context, id string) (Product, error)
}

type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

const productColumns = `id, name, slug, description, category, status, price, image, images,
	weight, is_available, stock, meta_title, meta_description, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.Description, &p.Category, &p.Status, &p.Price,
		&p.Image, &p.Images, &p.Weight, &p.IsAvailable, &p.Stock, &p.MetaTitle, &p.MetaDescription,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	return p, err
}

func (r *Repo) List(ctx context.Context, f ListFilter) ([]Product, int, error) {
	where := []string{"TRUE"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Category != nil {
		where = append(where, "category = "+arg(*f.Category))
	}
	if f.Status != nil {
		where = append(where, "status = "+arg(*f.Status))
	}
	if f.Available != nil {
		where = append(where, "is_available = "+arg(*f.Available))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		where = append(where, "name ILIKE "+arg("%"+s+"%"))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM products WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, limit := f.Page, f.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	query := `SELECT ` + productColumns + ` FROM products WHERE ` + cond +
		` ORDER BY created_at DESC LIMIT ` + arg(limit) + ` OFFSET ` + arg((page-1)*limit)

	rows, err := r.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (r *Repo) Get(ctx context.Context, id string) (Product, error) {
	return scanProduct(r.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
}

func (r *Repo) GetBySlug(ctx context.Context, slug string) (Product, error) {
	return scanProduct(r.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE slug=$1`, slug))
}

func (r *Repo) Create(ctx context.Context, in CreateInput) (Product, error) {
	slug := in.Slug
	if slug == "" {
		slug = Slugify(in.Name)
	}
	status := in.Status
	if status == "" {
		status = StatusAvailable
	}
	available := true
	if in.IsAvailable != nil {
		available = *in.IsAvailable
	}
	images := in.Images
	if images == nil {
		images = []string{}
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := r.DB.Exec(ctx, `
		INSERT INTO products (id, name, slug, description, category, status, price, image, images,
			weight, is_available, stock, meta_title, meta_description, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)`,
		id, in.Name, slug, in.Description, in.Category, status, in.Price, in.Image, images,
		in.Weight, available, in.Stock, in.MetaTitle, in.MetaDescription, now)
	if err != nil {
		if isUniqueViolation(err) {
			return Product{}, ErrSlugTaken
		}
		return Product{}, err
	}
	return r.Get(ctx, id)
}

func (r *Repo) Update(ctx context.Context, id string, in UpdateInput) (Product, error) {
	sets := []string{}
	args := []any{}
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if in.Name != nil {
		set("name", *in.Name)
	}
	if in.Slug != nil {
		set("slug", *in.Slug)
	}
	if in.Description != nil {
		set("description", *in.Description)
	}
	if in.Category != nil {
		set("category", *in.Category)
	}
	if in.Status != nil {
		set("status", *in.Status)
	}
	if in.Price != nil {
		set("price", *in.Price)
	}
	if in.Image != nil {
		set("image", *in.Image)
	}
	if in.Images != nil {
		set("images", in.Images)
	}
	if in.Weight != nil {
		set("weight", *in.Weight)
	}
	if in.IsAvailable != nil {
		set("is_available", *in.IsAvailable)
	}
	if in.ClearStock {
		sets = append(sets, "stock = NULL")
	} else if in.Stock != nil {
		set("stock", *in.Stock)
	}
	if in.MetaTitle != nil {
		set("meta_title", *in.MetaTitle)
	}
	if in.MetaDescription != nil {
		set("meta_description", *in.MetaDescription)
	}
	if len(sets) == 0 {
		return r.Get(ctx, id)
	}
	set("updated_at", time.Now().UTC())
	args = append(args, id)

	ct, err := r.DB.Exec(ctx,
		fmt.Sprintf(`UPDATE products SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args)),
		args...)
	if err != nil {
		if isUniqueViolation(err) {
			return Product{}, ErrSlugTaken
		}
		return Product{}, err
	}
	if ct.RowsAffected() == 0 {
		return Product{}, ErrNotFound
	}
	return r.Get(ctx, id)
}

// Archive retires a product from sale while keeping it for order history.
func (r *Repo) Archive(ctx context.Context, id string) (Product, error) {
	ct, err := r.DB.Exec(ctx,
		`UPDATE products SET status=$1, is_available=FALSE, updated_at=$2 WHERE id=$3`,
		StatusArchived, time.Now().UTC(), id)
	if err != nil {
		return Product{}, err
	}
	if ct.RowsAffected() == 0 {
		return Product{}, ErrNotFound
	}
	return r.Get(ctx, id)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
