package database

import (
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/pkg/errors"
)

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsSerializationFailure reports whether a serializable transaction lost against a concurrent one
// and may succeed if run again.
func IsSerializationFailure(err error) bool {
	code := pgErrorCode(err)
	return code == pgerrcode.SerializationFailure || code == pgerrcode.DeadlockDetected
}
