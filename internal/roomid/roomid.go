// Package roomid generates memorable room identifiers such as
// "otter-calculus-bagel-cozy".
package roomid

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const words = 4

// maxAttempts bounds the search for an unused id. With six pools of twenty
// words the space is large enough that hitting it means the check is broken.
const maxAttempts = 64

// New returns a random id made of four words, each from a different pool.
func New() string {
	picked := make([]string, 0, words)
	used := make(map[int]bool, words)
	for len(picked) < words {
		i := randomIndex(len(pools))
		if used[i] {
			continue
		}
		used[i] = true
		pool := pools[i]
		picked = append(picked, pool[randomIndex(len(pool))])
	}
	return strings.Join(picked, "-")
}

// NewUnused keeps generating until taken reports the id is free.
func NewUnused(taken func(id string) (bool, error)) (string, error) {
	for range maxAttempts {
		id := New()
		busy, err := taken(id)
		if err != nil {
			return "", err
		}
		if !busy {
			return id, nil
		}
	}
	return "", fmt.Errorf("no unused room id after %d attempts", maxAttempts)
}

// randomIndex returns a cryptographically secure random index for a slice of given length.
func randomIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return int(v.Int64())
}
