package upstream

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrFatal marks an unrecoverable source failure: a declared column the
	// upstream cannot satisfy, a wire value the declared type cannot decode,
	// or an authentication rejection. Reconnecting would reproduce it.
	ErrFatal = errors.New("upstream fatal")

	// ErrProtocol marks malformed protocol framing (bad timestamp or diff
	// column, regressing timestamps). Handled like a connection failure:
	// the session is rebuilt.
	ErrProtocol = errors.New("upstream protocol violation")

	// ErrIdle marks a session that produced neither data nor progress for
	// longer than the configured liveness timeout.
	ErrIdle = errors.New("upstream idle timeout")
)

func fatalf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFatal, fmt.Sprintf(format, args...))
}

func protocolf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}

// IsFatal reports whether the source must stop rather than reconnect.
func IsFatal(err error) bool {
	if errors.Is(err, ErrFatal) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "28000", "28P01": // invalid authorization, invalid password
			return true
		case "42P01", "42703": // undefined object/column: schema does not match
			return true
		}
	}
	return false
}
