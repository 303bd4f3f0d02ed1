// Package procfile provides small read-only virtual files: a fixed string and
// the list of primes up to a limit. Reads follow a one-shot cursor: a read at
// offset zero returns the whole content, any later offset returns io.EOF.
package procfile

import (
	"errors"
	"io"
	"strconv"
	"strings"
)

// ErrShortBuffer is returned when the caller's buffer cannot hold the whole
// content. Partial reads are not supported.
var ErrShortBuffer = errors.New("procfile: buffer shorter than content")

// DefaultPrimesLimit is the sieve limit used when none is configured.
const DefaultPrimesLimit = 100

// File is a named, read-only virtual file.
type File interface {
	Name() string
	// ReadAt copies the whole content into p when off is zero.
	ReadAt(p []byte, off int64) (int, error)
	// Size returns the content length, computing it if needed.
	Size() int
}

// Static serves a fixed string.
type Static struct {
	name    string
	content string
}

// NewStatic returns a File with the given name and content.
func NewStatic(name, content string) *Static {
	return &Static{name: name, content: content}
}

func (s *Static) Name() string { return s.name }
func (s *Static) Size() int    { return len(s.content) }

func (s *Static) ReadAt(p []byte, off int64) (int, error) {
	return readOnce(p, off, s.content)
}

// Primes serves the primes up to Limit, computed on each read.
type Primes struct {
	name  string
	limit int
}

// NewPrimes returns a File listing primes in [2, limit].
func NewPrimes(name string, limit int) *Primes {
	return &Primes{name: name, limit: limit}
}

func (p *Primes) Name() string { return p.name }
func (p *Primes) Limit() int   { return p.limit }
func (p *Primes) Size() int    { return len(FormatPrimes(Sieve(p.limit))) }

func (p *Primes) ReadAt(b []byte, off int64) (int, error) {
	if off > 0 {
		return 0, io.EOF
	}
	return readOnce(b, off, FormatPrimes(Sieve(p.limit)))
}

func readOnce(p []byte, off int64, content string) (int, error) {
	if off > 0 {
		return 0, io.EOF
	}
	if len(p) < len(content) {
		return 0, ErrShortBuffer
	}
	return copy(p, content), nil
}

// Sieve returns the primes in [2, limit] using the sieve of Eratosthenes.
func Sieve(limit int) []int {
	if limit < 2 {
		return nil
	}
	composite := make([]bool, limit+1)
	for i := 2; i*i <= limit; i++ {
		if composite[i] {
			continue
		}
		for j := i * i; j <= limit; j += i {
			composite[j] = true
		}
	}

	var primes []int
	for i := 2; i <= limit; i++ {
		if !composite[i] {
			primes = append(primes, i)
		}
	}
	return primes
}

// FormatPrimes renders each prime followed by a space, then a newline.
// An empty list renders as "None\n".
func FormatPrimes(primes []int) string {
	if len(primes) == 0 {
		return "None\n"
	}
	var b strings.Builder
	for _, p := range primes {
		b.WriteString(strconv.Itoa(p))
		b.WriteByte(' ')
	}
	b.WriteByte('\n')
	return b.String()
}

// ReadAll reads the whole content of f through its cursor semantics.
func ReadAll(f File) ([]byte, error) {
	buf := make([]byte, f.Size())
	n, err := f.ReadAt(buf, 0)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
