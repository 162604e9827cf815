// Package questions loads the question bank from CSV files.
package questions

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/deduction-labs/deduction/internal/domain"
	"github.com/deduction-labs/deduction/internal/store"
)

// ErrEmptyFile is returned when the CSV contains a header but no rows.
var ErrEmptyFile = errors.New("no question rows in file")

// Parse reads CSV question rows from r. The first record must be the
// header "stage,prompt,answer"; each following row becomes one
// question with a freshly generated ID.
func Parse(r io.Reader) ([]domain.Question, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if err := checkHeader(header); err != nil {
		return nil, err
	}

	var qs []domain.Question
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		stage, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil || stage < 1 {
			return nil, fmt.Errorf("line %d: invalid stage %q", line, rec[0])
		}
		prompt := strings.TrimSpace(rec[1])
		ans := strings.TrimSpace(rec[2])
		if prompt == "" || ans == "" {
			return nil, fmt.Errorf("line %d: empty prompt or answer", line)
		}

		qs = append(qs, domain.Question{
			ID:     uuid.NewString(),
			Stage:  stage,
			Prompt: prompt,
			Answer: ans,
		})
	}
	if len(qs) == 0 {
		return nil, ErrEmptyFile
	}
	return qs, nil
}

func checkHeader(header []string) error {
	want := []string{"stage", "prompt", "answer"}
	if len(header) != len(want) {
		return fmt.Errorf("bad header: got %d columns, want %d", len(header), len(want))
	}
	for i, col := range header {
		if !strings.EqualFold(strings.TrimSpace(col), want[i]) {
			return fmt.Errorf("bad header: column %d is %q, want %q", i+1, col, want[i])
		}
	}
	return nil
}

// ImportFile parses path and stores the questions in the repository.
// It returns the number of imported rows.
func ImportFile(ctx context.Context, repo store.Repository, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	qs, err := Parse(f)
	if err != nil {
		return 0, err
	}
	if err := repo.InsertQuestions(ctx, qs); err != nil {
		return 0, fmt.Errorf("store questions: %w", err)
	}
	return len(qs), nil
}
