package data

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ReadList reads one entry per line from a listing file, skipping blanks.
func ReadList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening list %s", path)
	}
	defer f.Close()

	var entries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			entries = append(entries, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading list %s", path)
	}
	return entries, nil
}

// PretrainList truncates a training list to the leading ratio fraction,
// matching how pretraining subsets are drawn from the full split.
func PretrainList(path string, ratio float64) ([]string, error) {
	if ratio <= 0 || ratio > 1 {
		return nil, errors.Errorf("ratio must be in (0, 1], got %g", ratio)
	}
	entries, err := ReadList(path)
	if err != nil {
		return nil, err
	}
	return entries[:int(float64(len(entries))*ratio)], nil
}

// LunaFoldSplit walks the LUNA subset<N> directories and assigns scan files
// to train, validation, and test sets by fold number. Files whose names
// carry a "gt" marker are ground-truth volumes and are skipped; suffix
// filters by file extension.
func LunaFoldSplit(dataDir string, trainFolds, validFolds, testFolds []int, suffix string) (train, valid, test []string, err error) {
	scan := func(folds []int) ([]string, error) {
		var files []string
		for _, fold := range folds {
			dir := filepath.Join(dataDir, fmt.Sprintf("subset%d", fold))
			entries, err := os.ReadDir(dir)
			if err != nil {
				return nil, errors.Wrapf(err, "listing %s", dir)
			}
			for _, e := range entries {
				name := e.Name()
				if !strings.Contains(name, suffix) || strings.Contains(name, "gt") {
					continue
				}
				files = append(files, filepath.Join(dir, name))
			}
		}
		return files, nil
	}

	if train, err = scan(trainFolds); err != nil {
		return nil, nil, nil, err
	}
	if valid, err = scan(validFolds); err != nil {
		return nil, nil, nil, err
	}
	if test, err = scan(testFolds); err != nil {
		return nil, nil, nil, err
	}
	return train, valid, test, nil
}

// Split holds the three patient lists of a dataset.
type Split struct {
	Train []string
	Valid []string
	Test  []string
}

// LoadSplit reads <name>_train.txt, <name>_valid.txt, and <name>_test.txt
// from the listing directory. The train list is truncated to ratio for
// pretraining runs.
func LoadSplit(listDir, name string, ratio float64) (*Split, error) {
	train, err := PretrainList(filepath.Join(listDir, name+"_train.txt"), ratio)
	if err != nil {
		return nil, err
	}
	valid, err := ReadList(filepath.Join(listDir, name+"_valid.txt"))
	if err != nil {
		return nil, err
	}
	test, err := ReadList(filepath.Join(listDir, name+"_test.txt"))
	if err != nil {
		return nil, err
	}
	return &Split{Train: train, Valid: valid, Test: test}, nil
}
