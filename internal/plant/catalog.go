package plant

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var ErrEmptyCatalog = errors.New("label catalog is empty")

// Catalog is the ordered list of class labels. Index i is the label of the
// model's i-th output.
type Catalog struct {
	labels []string
}

func NewCatalog(labels []string) (*Catalog, error) {
	if len(labels) == 0 {
		return nil, ErrEmptyCatalog
	}
	owned := make([]string, len(labels))
	copy(owned, labels)
	return &Catalog{labels: owned}, nil
}

// LoadCatalog reads one label per line from path.
func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open labels: %w", err)
	}
	defer f.Close()

	return ReadCatalog(f)
}

// ReadCatalog trims every line and drops blank lines at the end of input.
// Blank lines in the middle still take an index.
func ReadCatalog(r io.Reader) (*Catalog, error) {
	var labels []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		labels = append(labels, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}

	for len(labels) > 0 && labels[len(labels)-1] == "" {
		labels = labels[:len(labels)-1]
	}
	return NewCatalog(labels)
}

func (c *Catalog) Len() int {
	return len(c.labels)
}

// Label returns the label at index i, or false if i is out of range.
func (c *Catalog) Label(i int) (string, bool) {
	if i < 0 || i >= len(c.labels) {
		return "", false
	}
	return c.labels[i], true
}

// Labels returns a copy of all labels in index order.
func (c *Catalog) Labels() []string {
	out := make([]string, len(c.labels))
	copy(out, c.labels)
	return out
}
