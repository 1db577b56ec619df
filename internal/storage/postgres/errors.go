package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"

	"github.com/sheikh-saqib/funds-transfer-engine/internal/models"
)

// ErrAccountExists is returned by OpenAccount when the handle or owner is
// already taken.
var ErrAccountExists = errors.New("account already exists")

const uniqueViolation = pq.ErrorCode("23505")

// SQLSTATE classes that mean the database could not serve the request right
// now. Retrying the same request later is safe.
var unavailableClasses = map[pq.ErrorClass]struct{}{
	"08": {}, // connection exception
	"40": {}, // transaction rollback (serialization failure, deadlock)
	"53": {}, // insufficient resources
	"57": {}, // operator intervention (admin shutdown, query canceled)
	"58": {}, // system error
}

// classify wraps err with models.ErrStorageUnavailable when it is a
// connectivity or capacity problem, and with plain context otherwise.
func classify(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("%w: %s: %w", models.ErrStorageUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnavailable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		_, ok := unavailableClasses[pqErr.Code.Class()]
		return ok
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
