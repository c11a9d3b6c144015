package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *Store) Dir() string { return s.baseDir }

type RunMetadata struct {
	ID           string             `json:"id"`
	Problem      string             `json:"problem"`
	Preset       string             `json:"preset,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
	Seed         int64              `json:"seed"`
	NPoints      [3]int             `json:"npoints"`
	Sampler      string             `json:"sampler"`
	Epochs       int                `json:"epochs"`
	NumLayers    int                `json:"num_layers"`
	HiddenSize   int                `json:"hidden_size"`
	Activation   string             `json:"activation"`
	LearningRate float64            `json:"learning_rate"`
	StartTime    float64            `json:"start_time"`
	TimeStep     float64            `json:"time_step"`
	NumTimeSteps int                `json:"num_time_step"`
	Rank         int                `json:"rank"`
	NRanks       int                `json:"nranks"`
	Device       int                `json:"device"`
	Files        []string           `json:"files,omitempty"`
	Metrics      map[string]float64 `json:"metrics"`
}

// LossRecord is the loss after one optimizer step.
type LossRecord struct {
	Step  int
	Epoch int
	Time  float64
	Loss  float64
}

// Save writes metadata.json and loss.csv into a new run directory and
// returns the run id.
func (s *Store) Save(meta RunMetadata, losses []LossRecord) (string, error) {
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	if meta.ID == "" {
		meta.ID = fmt.Sprintf("%s_%d", meta.Problem, meta.Timestamp.UnixNano())
	}
	runDir := filepath.Join(s.baseDir, meta.ID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	metaFile, err := os.Create(filepath.Join(runDir, "metadata.json"))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvFile, err := os.Create(filepath.Join(runDir, "loss.csv"))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	w := csv.NewWriter(csvFile)
	if err := w.Write([]string{"step", "epoch", "time", "loss"}); err != nil {
		return "", err
	}
	for _, r := range losses {
		row := []string{
			strconv.Itoa(r.Step),
			strconv.Itoa(r.Epoch),
			strconv.FormatFloat(r.Time, 'f', -1, 64),
			strconv.FormatFloat(r.Loss, 'g', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}

	return meta.ID, nil
}

// List returns the metadata of every stored run, oldest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })

	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, "metadata.json"))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}

	return &meta, nil
}

func (s *Store) LoadLosses(runID string) ([]LossRecord, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, "loss.csv"))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}

	out := make([]LossRecord, 0, len(records))
	for i, rec := range records {
		if i == 0 {
			continue
		}
		if len(rec) != 4 {
			return nil, fmt.Errorf("run %s: loss.csv line %d has %d fields", runID, i+1, len(rec))
		}
		var r LossRecord
		if r.Step, err = strconv.Atoi(rec[0]); err != nil {
			return nil, fmt.Errorf("run %s: line %d: %w", runID, i+1, err)
		}
		if r.Epoch, err = strconv.Atoi(rec[1]); err != nil {
			return nil, fmt.Errorf("run %s: line %d: %w", runID, i+1, err)
		}
		if r.Time, err = strconv.ParseFloat(rec[2], 64); err != nil {
			return nil, fmt.Errorf("run %s: line %d: %w", runID, i+1, err)
		}
		if r.Loss, err = strconv.ParseFloat(rec[3], 64); err != nil {
			return nil, fmt.Errorf("run %s: line %d: %w", runID, i+1, err)
		}
		out = append(out, r)
	}
	return out, nil
}
