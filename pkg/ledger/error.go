package ledger

import "errors"

var errDuplicateOrder = errors.New("duplicate client order id")
