package config

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
)

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// hashConfigValue hashes the JSON form of v. Map keys are sorted by
// encoding/json, so equal values hash equally.
func hashConfigValue(v any) uint64 {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

// Hash identifies the declaration. Reconciliation stores it on the job so an
// unchanged declaration leaves the running job alone across reloads.
func (jc JobConfig) Hash() string {
	return fmt.Sprintf("%016x", hashConfigValue(jc))
}
