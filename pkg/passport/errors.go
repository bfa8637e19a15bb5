package passport

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/socialpassport/passport-registry/pkg/authz"
)

// Sentinel errors returned (optionally wrapped) by stores and the service.
var (
	ErrNotFound             = errors.New("not found")
	ErrReferentialIntegrity = errors.New("referential integrity violation")
	ErrUnavailable          = errors.New("persistence unavailable")
	ErrInvalidInput         = errors.New("invalid input")

	ErrForbidden       = authz.ErrForbidden
	ErrUnauthenticated = authz.ErrUnauthenticated
)

// MySQL server error numbers.
const (
	mysqlDuplicateEntry   = 1062
	mysqlRowIsReferenced  = 1451
	mysqlNoReferencedRow  = 1452
	mysqlRowIsReferenced2 = 1217
	mysqlNoReferencedRow2 = 1216
	mysqlDataTooLong      = 1406
)

// PostgreSQL SQLSTATE codes.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgStringTooLong       = "22001"
	pgProgramLimit        = "54000"
)

// classifyError maps driver and GORM errors onto the package sentinels. Errors
// that match nothing are returned unchanged.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if isClassified(err) {
		return err
	}
	switch {
	case isIntegrityError(err):
		return fmt.Errorf("%w: %v", ErrReferentialIntegrity, err)
	case isTooLargeError(err):
		return fmt.Errorf("%w: value too large: %v", ErrInvalidInput, err)
	case isUnavailableError(err):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func isClassified(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrReferentialIntegrity) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrInvalidInput)
}

func isIntegrityError(err error) bool {
	if errors.Is(err, ErrReferentialIntegrity) ||
		errors.Is(err, gorm.ErrDuplicatedKey) ||
		errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlDuplicateEntry, mysqlRowIsReferenced, mysqlNoReferencedRow,
			mysqlRowIsReferenced2, mysqlNoReferencedRow2:
			return true
		}
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation || pgErr.Code == pgForeignKeyViolation
	}

	// The pure-Go SQLite driver only exposes constraint failures through the
	// message text. SQLITE_BUSY is where a concurrent writer lost the race
	// for the database lock; callers see it as a conflict like a duplicate.
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "FOREIGN KEY constraint failed") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

func isTooLargeError(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDataTooLong
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgStringTooLong || pgErr.Code == pgProgramLimit
	}
	return false
}

func isUnavailableError(err error) bool {
	if errors.Is(err, ErrUnavailable) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}

// IsUnavailable reports whether err means the database could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) || isUnavailableError(err)
}
