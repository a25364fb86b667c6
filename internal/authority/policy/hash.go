package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

func hashContext(c SemanticContext) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%t|%t|%t",
		c.WorkOrderID, c.Domain, c.ActionText, c.TargetHost,
		c.IsExternalCall, c.IsDestructiveOp, c.HasProductionMarker)
	return hex.EncodeToString(h.Sum(nil))
}
