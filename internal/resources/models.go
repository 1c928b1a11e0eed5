package resources

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("resources: not found")

type Chantier struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Status    string    `json:"status"`
	ClientID  *int64    `json:"client_id,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

type Invoice struct {
	ID          int64     `json:"id"`
	Number      string    `json:"number"`
	ChantierID  int64     `json:"chantier_id"`
	AmountCents int64     `json:"amount_cents"`
	Status      string    `json:"status"`
	IssuedAt    time.Time `json:"issued_at"`
}

type Attachment struct {
	ID          int64     `json:"id"`
	ChantierID  int64     `json:"chantier_id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	UploadedAt  time.Time `json:"uploaded_at"`
}
