package model

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"pulseguard/pkg/health"
)

// SplitFractions controls the train/validation/test partition. Fractions
// apply to the user-hash space, not the row count, so a user's rows always
// land in exactly one partition.
type SplitFractions struct {
	Train      float64
	Validation float64
}

// DefaultSplit is the standard 70/15/15 partition.
var DefaultSplit = SplitFractions{Train: 0.70, Validation: 0.15}

// Validate checks the fractions leave room for a test partition.
func (s SplitFractions) Validate() error {
	if s.Train <= 0 || s.Validation < 0 || s.Train+s.Validation >= 1 {
		return fmt.Errorf("invalid split fractions train=%.2f validation=%.2f", s.Train, s.Validation)
	}
	return nil
}

// userFraction hashes a user ID onto [0,1). The hash is the partition: the
// same user always lands in the same place regardless of row order, row
// count, or which other users are present.
func userFraction(userID string) float64 {
	sum := sha256.Sum256([]byte(userID))
	v := binary.BigEndian.Uint64(sum[:8])
	return float64(v) / float64(^uint64(0))
}

// SplitRows partitions feature rows into user-disjoint train, validation,
// and test sets.
func SplitRows(rows []health.FeatureRow, frac SplitFractions) (train, validation, test []health.FeatureRow, err error) {
	if err := frac.Validate(); err != nil {
		return nil, nil, nil, err
	}
	for _, row := range rows {
		f := userFraction(row.UserID)
		switch {
		case f < frac.Train:
			train = append(train, row)
		case f < frac.Train+frac.Validation:
			validation = append(validation, row)
		default:
			test = append(test, row)
		}
	}
	return train, validation, test, nil
}
