package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Entry is a row of a lookup table referenced by patients: a region or a
// disease type.
type Entry struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Kind names the lookup table an Entry belongs to.
type Kind string

const (
	KindRegion      Kind = "region"
	KindDiseaseType Kind = "disease_type"
)

func (k Kind) label() string {
	if k == KindDiseaseType {
		return "disease type"
	}
	return string(k)
}
