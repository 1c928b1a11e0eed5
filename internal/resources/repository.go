package resources

import (
	"context"
	"database/sql"
	"errors"

	"chantier-intranet/internal/rbac"
)

// Repository reads chantiers and the records attached to them.
//
// Ownership: a chantier is owned by its client_id; invoices and attachments are owned by
// the client of the chantier they belong to.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetChantier(ctx context.Context, id int64) (Chantier, error) {
	const q = `
SELECT id, name, address, status, client_id, started_at
FROM chantiers
WHERE id = $1
`
	var (
		c        Chantier
		clientID sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, q, id).Scan(&c.ID, &c.Name, &c.Address, &c.Status, &clientID, &c.StartedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Chantier{}, ErrNotFound
		}
		return Chantier{}, err
	}
	if clientID.Valid {
		v := clientID.Int64
		c.ClientID = &v
	}
	return c, nil
}

func (r *Repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	const q = `
SELECT id, number, chantier_id, amount_cents, status, issued_at
FROM invoices
WHERE id = $1
`
	var inv Invoice
	err := r.db.QueryRowContext(ctx, q, id).Scan(&inv.ID, &inv.Number, &inv.ChantierID, &inv.AmountCents, &inv.Status, &inv.IssuedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Invoice{}, ErrNotFound
		}
		return Invoice{}, err
	}
	return inv, nil
}

func (r *Repository) GetAttachment(ctx context.Context, id int64) (Attachment, error) {
	const q = `
SELECT id, chantier_id, file_name, content_type, size_bytes, uploaded_at
FROM attachments
WHERE id = $1
`
	var a Attachment
	err := r.db.QueryRowContext(ctx, q, id).Scan(&a.ID, &a.ChantierID, &a.FileName, &a.ContentType, &a.SizeBytes, &a.UploadedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Attachment{}, ErrNotFound
		}
		return Attachment{}, err
	}
	return a, nil
}

/* ===================== OWNERSHIP ===================== */

const (
	chantierOwnerQuery = `SELECT client_id FROM chantiers WHERE id = $1`

	invoiceOwnerQuery = `
SELECT c.client_id
FROM invoices i
JOIN chantiers c ON c.id = i.chantier_id
WHERE i.id = $1
`

	attachmentOwnerQuery = `
SELECT c.client_id
FROM attachments a
JOIN chantiers c ON c.id = a.chantier_id
WHERE a.id = $1
`
)

// RegisterOwners installs the ownership resolvers for every resource type this
// repository knows about.
func (r *Repository) RegisterOwners(reg *rbac.Registry) {
	reg.Register(rbac.ResourceChantier, r.ownerResolver(chantierOwnerQuery))
	reg.Register(rbac.ResourceInvoice, r.ownerResolver(invoiceOwnerQuery))
	reg.Register(rbac.ResourceAttachment, r.ownerResolver(attachmentOwnerQuery))
}

func (r *Repository) ownerResolver(query string) rbac.OwnerResolverFunc {
	return func(ctx context.Context, resourceID int64) (int64, error) {
		var owner sql.NullInt64
		if err := r.db.QueryRowContext(ctx, query, resourceID).Scan(&owner); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return 0, rbac.ErrOwnerNotFound
			}
			return 0, err
		}
		if !owner.Valid {
			return 0, rbac.ErrOwnerNotFound
		}
		return owner.Int64, nil
	}
}
