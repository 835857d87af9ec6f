package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerify(t *testing.T) {
	const secret = "test-secret"

	t.Run("accepts a provider-signed digest", func(t *testing.T) {
		signed := Sign(secret, "order_123", "pay_456")
		assert.True(t, Verify(secret, "order_123", "pay_456", signed))
	})

	t.Run("rejects a tampered signature", func(t *testing.T) {
		signed := Sign(secret, "order_123", "pay_456")
		tampered := signed[:len(signed)-1] + "0"
		if tampered == signed {
			tampered = signed[:len(signed)-1] + "1"
		}
		assert.False(t, Verify(secret, "order_123", "pay_456", tampered))
	})

	t.Run("rejects a signature over different ids", func(t *testing.T) {
		signed := Sign(secret, "order_123", "pay_456")
		assert.False(t, Verify(secret, "order_999", "pay_456", signed))
		assert.False(t, Verify(secret, "order_123", "pay_999", signed))
	})

	t.Run("rejects the wrong secret", func(t *testing.T) {
		signed := Sign("other-secret", "order_123", "pay_456")
		assert.False(t, Verify(secret, "order_123", "pay_456", signed))
	})

	t.Run("rejects empty inputs", func(t *testing.T) {
		assert.False(t, Verify("", "order_123", "pay_456", Sign("", "order_123", "pay_456")))
		assert.False(t, Verify(secret, "order_123", "pay_456", ""))
	})
}
