package httpapi

import "fmt"

func errNotFound(kind, id string) error {
	return fmt.Errorf("%s %q not found", kind, id)
}

func errUnknownOp(op string) error {
	return fmt.Errorf("unknown advance op %q", op)
}
