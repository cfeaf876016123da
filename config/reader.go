package config

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// ReadConfig reads a config from a JSON file. Fields missing from the file keep their defaults.
func ReadConfig(filePath string) (*Config, error) {
	var attributes map[string]interface{}
	if err := readJSON(filePath, &attributes); err != nil {
		return nil, err
	}
	return FromAttributes(attributes)
}

// ReadProblem reads and validates a problem from a JSON file.
func ReadProblem(filePath string) (*Problem, error) {
	problem := &Problem{}
	if err := readJSON(filePath, problem); err != nil {
		return nil, err
	}
	problem.FilePath = filePath
	if err := problem.Validate("problem"); err != nil {
		return nil, errors.Wrapf(err, "invalid problem %q", filePath)
	}
	return problem, nil
}

// WriteProblem writes a problem as indented JSON.
func WriteProblem(filePath string, problem *Problem) (err error) {
	data, err := json.MarshalIndent(problem, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode problem")
	}
	//nolint:gosec
	f, err := os.Create(filePath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()
	_, err = f.Write(data)
	return err
}

func readJSON(filePath string, out interface{}) error {
	//nolint:gosec
	f, err := os.Open(filePath)
	if err != nil {
		return errors.Wrap(err, "error opening JSON file")
	}
	defer utils.UncheckedErrorFunc(f.Close)
	data, err := io.ReadAll(f)
	if err != nil {
		return errors.Wrap(err, "error reading JSON data")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "failed to decode %q from json", filePath)
	}
	return nil
}
