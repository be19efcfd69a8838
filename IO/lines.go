package IO

import (
	"bufio"
	"io"
	"os"
	"strings"
)

// LineIter streams corpus lines as token ids without loading the file into
// memory. At EOF it rewinds so the caller can run multiple epochs.
type LineIter struct {
	path string
	f    *os.File
	r    *bufio.Reader
	tz   *Tokenizer
}

func NewLineIter(path string, tz *Tokenizer) (*LineIter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &LineIter{path: path, f: f, r: bufio.NewReaderSize(f, 1<<20), tz: tz}, nil
}

// NextIDs returns the next non-empty line as token ids, or io.EOF after
// rewinding to the start.
func (it *LineIter) NextIDs() ([]int, error) {
	for {
		line, err := it.r.ReadString('\n')
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			ids, encErr := it.tz.Encode(trimmed)
			if encErr != nil {
				return nil, encErr
			}
			if len(ids) > 0 {
				return ids, nil
			}
		}
		if err == io.EOF {
			if _, err2 := it.f.Seek(0, io.SeekStart); err2 != nil {
				return nil, err2
			}
			it.r.Reset(it.f)
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
	}
}

// NextBatch collects up to batchSize sequences into one padded batch. Fewer
// sequences come back at an epoch boundary.
func (it *LineIter) NextBatch(batchSize, maxLen, padTokenID int) (TokenBatch, error) {
	seqs := make([][]int, 0, batchSize)
	for len(seqs) < batchSize {
		ids, err := it.NextIDs()
		if err == io.EOF {
			break
		}
		if err != nil {
			return TokenBatch{}, err
		}
		seqs = append(seqs, ids)
	}
	if len(seqs) == 0 {
		return TokenBatch{}, io.EOF
	}
	return NewTokenBatch(seqs, maxLen, padTokenID), nil
}

func (it *LineIter) Close() error {
	if it.f != nil {
		return it.f.Close()
	}
	return nil
}

// CountLines returns the number of lines in a file, for logging.
func CountLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	r := bufio.NewReaderSize(f, 1<<20)
	n := 0
	for {
		_, err := r.ReadString('\n')
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}
