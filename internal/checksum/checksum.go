package checksum

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"lukechampine.com/blake3"
)

// HashBytes returns the hex blake3-256 digest of data.
func HashBytes(data []byte) string {
	h := blake3.New(32, nil)
	h.Write(data)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// HashString is HashBytes for strings.
func HashString(s string) string {
	return HashBytes([]byte(s))
}

// NewHasher returns a streaming blake3-256 hasher.
func NewHasher() *blake3.Hasher {
	return blake3.New(32, nil)
}

// File hashes a single file.
func File(path string) (string, error) {
	buf := make([]byte, 64*1024)
	return hashFile(path, buf)
}

// Files hashes paths in parallel and returns path -> digest. The first
// error is returned alongside whatever succeeded.
func Files(paths []string) (map[string]string, error) {
	results := make(map[string]string, len(paths))
	if len(paths) == 0 {
		return results, nil
	}

	var mu sync.Mutex

	numWorkers := runtime.NumCPU() * 2
	if len(paths) < numWorkers {
		numWorkers = len(paths)
	}

	jobs := make(chan string, len(paths))
	var wg sync.WaitGroup
	var errOnce sync.Once
	var firstErr error

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, 64*1024)
			for path := range jobs {
				hash, err := hashFile(path, buf)
				mu.Lock()
				if err != nil {
					errOnce.Do(func() { firstErr = err })
				} else {
					results[path] = hash
				}
				mu.Unlock()
			}
		}()
	}

	for _, p := range paths {
		jobs <- p
	}
	close(jobs)
	wg.Wait()

	return results, firstErr
}

func hashFile(path string, buf []byte) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New(32, nil)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
