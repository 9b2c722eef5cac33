package services

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrDuplicateUsername  = errors.New("username is already taken")
	ErrDuplicateEmail     = errors.New("email is already in use")
	ErrUserNotFound       = errors.New("user not found")

	ErrProductNotFound = errors.New("product not found")
	ErrProductInUse    = errors.New("product is referenced by orders")

	ErrCartItemNotFound = errors.New("cart item not found")
	ErrNotOwner         = errors.New("resource belongs to another user")
	ErrInvalidQuantity  = errors.New("quantity must be at least 1")

	ErrEmptyCart         = errors.New("cart is empty")
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidStatus     = errors.New("invalid order status")
	ErrIllegalTransition = errors.New("illegal order status transition")
	ErrExport            = errors.New("order export failed")
)

// MySQL server error numbers
const (
	mysqlDuplicateEntry  = 1062
	mysqlRowIsReferenced = 1451
)

func mysqlError(err error, number uint16) (*mysql.MySQLError, bool) {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == number {
		return myErr, true
	}
	return nil, false
}
