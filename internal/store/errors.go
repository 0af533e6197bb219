package store

import (
	"fmt"

	"github.com/Lllllllleong/disclosureflow/internal/common"
)

func docNotFound(id string) error {
	return fmt.Errorf("%w: %s", common.ErrDocumentNotFound, id)
}

func pageRangeError(page, pageCount int) error {
	return fmt.Errorf("%w: page %d outside [1, %d]", common.ErrInvalidPage, page, pageCount)
}

func pageBusyError(page int, state string) error {
	return fmt.Errorf("%w: page %d is %s", common.ErrAlreadyInProgress, page, state)
}
