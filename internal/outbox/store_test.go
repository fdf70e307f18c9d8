package outbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// A raised unique violation would abort the caller's transaction, so the
// follow-up lookup for the existing row could never run and the operational
// write riding the same transaction would be poisoned. The insert must
// suppress the conflict instead.
func TestEnqueueStatementSuppressesDuplicateKeyConflict(t *testing.T) {
	assert.Contains(t, enqueueEventSQL,
		"ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING")
	assert.Contains(t, enqueueEventSQL, "RETURNING "+eventColumns)
}
