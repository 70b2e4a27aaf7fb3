package services

import (
	"regexp"
	"sync"
	"testing"
)

func TestGenerateName_Format(t *testing.T) {
	g := NewNameGenerator()
	pattern := regexp.MustCompile(`^[A-Z][a-z]+[A-Z][a-z]+\d{1,2}$`)

	for i := 0; i < 50; i++ {
		name := g.GenerateName()
		if !pattern.MatchString(name) {
			t.Errorf("GenerateName() = %q, does not match expected pattern", name)
		}
	}
}

func TestGenerateName_SeededIsDeterministic(t *testing.T) {
	a, b := newNameGenerator(7), newNameGenerator(7)
	for i := 0; i < 5; i++ {
		if x, y := a.GenerateName(), b.GenerateName(); x != y {
			t.Fatalf("names diverged at %d: %q vs %q", i, x, y)
		}
	}
}

func TestGenerateName_ConcurrentUse(t *testing.T) {
	g := NewNameGenerator()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				g.GenerateName()
			}
		}()
	}
	wg.Wait()
}

func TestCapitalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"a", "A"},
		{"tiger", "Tiger"},
	}
	for _, tt := range tests {
		if got := capitalize(tt.in); got != tt.want {
			t.Errorf("capitalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
