package sqlite

import (
	"fmt"

	"github.com/mistakeknot/interlock/internal/core"
)

func (t *Tx) CreateProject(p *core.Project) error {
	res, err := t.q.Exec(
		`INSERT INTO projects (slug, human_key, created_at) VALUES (?, ?, ?)`,
		p.Slug, p.HumanKey, fmtTime(p.CreatedAt),
	)
	if err != nil {
		return mapErr("insert project", err)
	}
	p.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("project id: %w", err)
	}
	return nil
}

func (t *Tx) ProjectByID(id int64) (*core.Project, error) {
	return t.scanProject(t.q.QueryRow(
		`SELECT id, slug, human_key, created_at FROM projects WHERE id = ?`, id))
}

func (t *Tx) ProjectBySlug(slug string) (*core.Project, error) {
	return t.scanProject(t.q.QueryRow(
		`SELECT id, slug, human_key, created_at FROM projects WHERE slug = ?`, slug))
}

func (t *Tx) ListProjects() ([]core.Project, error) {
	rows, err := t.q.Query(`SELECT id, slug, human_key, created_at FROM projects ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	var out []core.Project
	for rows.Next() {
		var (
			p         core.Project
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.Slug, &p.HumanKey, &createdAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (t *Tx) scanProject(row rowScanner) (*core.Project, error) {
	var (
		p         core.Project
		createdAt string
	)
	if err := row.Scan(&p.ID, &p.Slug, &p.HumanKey, &createdAt); err != nil {
		return nil, scanOne("scan project", err)
	}
	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *Tx) CreateProduct(p *core.Product) error {
	res, err := t.q.Exec(
		`INSERT INTO products (product_uid, name, created_at) VALUES (?, ?, ?)`,
		p.ProductUID, p.Name, fmtTime(p.CreatedAt),
	)
	if err != nil {
		return mapErr("insert product", err)
	}
	p.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("product id: %w", err)
	}
	return nil
}

func (t *Tx) ProductByUID(uid string) (*core.Product, error) {
	return t.scanProduct(t.q.QueryRow(
		`SELECT id, product_uid, name, created_at FROM products WHERE product_uid = ?`, uid))
}

func (t *Tx) ProductByName(name string) (*core.Product, error) {
	return t.scanProduct(t.q.QueryRow(
		`SELECT id, product_uid, name, created_at FROM products WHERE name = ?`, name))
}

func (t *Tx) scanProduct(row rowScanner) (*core.Product, error) {
	var (
		p         core.Product
		createdAt string
	)
	if err := row.Scan(&p.ID, &p.ProductUID, &p.Name, &createdAt); err != nil {
		return nil, scanOne("scan product", err)
	}
	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *Tx) AddProductProject(l *core.ProductProjectLink) error {
	res, err := t.q.Exec(
		`INSERT INTO product_project_links (product_id, project_id, created_at) VALUES (?, ?, ?)`,
		l.ProductID, l.ProjectID, fmtTime(l.CreatedAt),
	)
	if err != nil {
		return mapErr("insert product link", err)
	}
	l.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("product link id: %w", err)
	}
	return nil
}

func (t *Tx) ProductProjects(productID int64) ([]core.Project, error) {
	rows, err := t.q.Query(
		`SELECT p.id, p.slug, p.human_key, p.created_at
		 FROM projects p
		 JOIN product_project_links l ON l.project_id = p.id
		 WHERE l.product_id = ?
		 ORDER BY p.slug`, productID)
	if err != nil {
		return nil, fmt.Errorf("query product projects: %w", err)
	}
	defer rows.Close()

	var out []core.Project
	for rows.Next() {
		var (
			p         core.Project
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.Slug, &p.HumanKey, &createdAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
