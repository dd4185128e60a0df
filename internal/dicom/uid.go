package dicom

import (
	"math/big"

	"github.com/google/uuid"
)

// NewUID returns a globally unique DICOM UID derived from a random UUID,
// using the 2.25 root (ISO/IEC 9834-8).
func NewUID() string {
	u := uuid.New()
	return "2.25." + new(big.Int).SetBytes(u[:]).String()
}
