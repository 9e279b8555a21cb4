package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/kkkkikiki/couponhub/internal/apperrors"
)

const (
	uniqueViolation     = pq.ErrorCode("23505")
	foreignKeyViolation = pq.ErrorCode("23503")
)

// classify wraps a database error with op and maps it onto the application
// error taxonomy.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}

	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}

	wrapped := fmt.Errorf("%s: %w", op, err)

	if errors.Is(err, context.Canceled) {
		return wrapped
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return apperrors.Transient(wrapped)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code == uniqueViolation {
			return apperrors.Conflict("DUPLICATE", fmt.Sprintf("%s: %s", op, pqErr.Message))
		}
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57":
			// connection, rollback, resources, operator intervention
			return apperrors.Transient(wrapped)
		}
	}

	return apperrors.Internal(wrapped)
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation
}
