package markov

import (
	"go/build"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

const fishCorpus = "one fish two fish."

// newTestGenerator builds a chain from corpus and returns a Generator over it.
func newTestGenerator(t testing.TB, corpus string) *Generator {
	t.Helper()
	chain, err := BuildChainFromReader(strings.NewReader(corpus), NewDefaultTokenizer())
	if err != nil {
		t.Fatalf("BuildChainFromReader() error = %v", err)
	}
	return NewGenerator(chain, NewDefaultTokenizer())
}

// seededRand returns a deterministic random source for reproducible tests.
func seededRand() *rand.Rand {
	return rand.New(rand.NewPCG(7, 77))
}

// recordingRand always returns the highest allowed value and records the
// bound it was called with.
type recordingRand struct {
	bounds []int
}

func (r *recordingRand) IntN(n int) int {
	r.bounds = append(r.bounds, n)
	return n - 1
}

var (
	benchmarkCorpus string
	corpusOnce      sync.Once
)

// createBenchmarkCorpus reads Go source files to create a corpus for benchmarking.
func createBenchmarkCorpus() string {
	corpusOnce.Do(func() {
		var sb strings.Builder
		goRoot := build.Default.GOROOT
		filesToRead := []string{
			filepath.Join(goRoot, "src/net/http/server.go"),
			filepath.Join(goRoot, "src/go/parser/parser.go"),
			filepath.Join(goRoot, "src/encoding/json/encode.go"),
		}

		for _, file := range filesToRead {
			content, err := os.ReadFile(file)
			if err != nil {
				benchmarkCorpus = "this is a fallback corpus for benchmarking. it is not very long but will prevent a crash. "
				return
			}
			sb.Write(content)
			sb.WriteString("\n")
		}
		benchmarkCorpus = sb.String()
	})
	return benchmarkCorpus
}
