package dali

import (
	"bytes"

	"github.com/oklog/ulid/v2"
)

// comparable
// Ids are local to the process. They identify observations and listener
// registrations and are ordered by creation time.
type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

func ParseId(idStr string) (Id, error) {
	u, err := ulid.Parse(idStr)
	if err != nil {
		return Id{}, err
	}
	return Id(u), nil
}

func (self Id) LessThan(b Id) bool {
	return bytes.Compare(self[:], b[:]) < 0
}

func (self Id) String() string {
	return ulid.ULID(self).String()
}
