package app

import (
	"github.com/anaparv/anaparv-pep-project/pkg/domain"
)

// classify passes domain errors through and turns anything else into a storage failure.
func classify(op string, err error) error {
	if err == nil || domain.IsClassified(err) {
		return err
	}
	return domain.Storage(op, err)
}
