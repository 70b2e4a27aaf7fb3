package services

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/tyler-smith/go-bip39/wordlists"
)

// wordlist is the BIP39 English wordlist (2048 words).
var wordlist = wordlists.English

// NameGenerator produces human-readable display names for hub sessions,
// e.g. "HappyTiger42". Names are not unique; the session ID is.
type NameGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewNameGenerator creates a NameGenerator with its own random source.
func NewNameGenerator() *NameGenerator {
	return newNameGenerator(time.Now().UnixNano())
}

func newNameGenerator(seed int64) *NameGenerator {
	return &NameGenerator{rng: rand.New(rand.NewSource(seed))}
}

// GenerateName returns a PascalCase name made of two words and a number.
func (g *NameGenerator) GenerateName() string {
	g.mu.Lock()
	word1 := wordlist[g.rng.Intn(len(wordlist))]
	word2 := wordlist[g.rng.Intn(len(wordlist))]
	num := g.rng.Intn(100)
	g.mu.Unlock()

	return fmt.Sprintf("%s%s%d", capitalize(word1), capitalize(word2), num)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
