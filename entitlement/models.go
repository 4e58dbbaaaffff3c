// Package entitlement records which products the user has unlocked.
package entitlement

import "strings"

// DefaultNamespace prefixes every entitlement key in the durable store.
const DefaultNamespace = "Purchased-"

// Record is one product's purchase flag.
type Record struct {
	ProductID string `json:"product_id"`
	Purchased bool   `json:"purchased"`
}

// Key returns the durable store key for productID under namespace.
func Key(namespace, productID string) string {
	return namespace + productID
}

// ProductID strips namespace from key. ok is false when key is outside it.
func ProductID(namespace, key string) (string, bool) {
	pid, ok := strings.CutPrefix(key, namespace)
	if !ok || pid == "" {
		return "", false
	}
	return pid, true
}
