package learn

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tmercier/fieldmend/internal/quality"
)

// CorpusTrainer prepares fine-tuning datasets. It exports the corpus as
// a JSONL file under Dir; the actual fine-tune runs out of process
// against that artifact.
type CorpusTrainer struct {
	Dir string
}

type corpusLine struct {
	Input    string `json:"input"`
	Output   string `json:"output"`
	Field    string `json:"field"`
	Type     string `json:"type"`
	Decision string `json:"decision"`
}

// FineTune writes the dataset and returns its path.
func (t *CorpusTrainer) FineTune(ctx context.Context, examples []quality.TrainingExample, epochs int) (string, error) {
	if err := os.MkdirAll(t.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}

	path := filepath.Join(t.Dir, fmt.Sprintf("corpus_%s.jsonl", time.Now().UTC().Format("20060102_150405")))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create corpus file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, ex := range examples {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		line := corpusLine{
			Input:    ex.InputText,
			Output:   ex.OutputText,
			Field:    ex.Field,
			Type:     string(ex.InconsistencyType),
			Decision: string(ex.HumanDecision),
		}
		if err := enc.Encode(line); err != nil {
			return "", fmt.Errorf("write corpus line: %w", err)
		}
	}
	return path, nil
}
