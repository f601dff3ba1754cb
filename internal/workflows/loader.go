package workflows

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// WorkflowFile is one loaded-and-validated spec document, together with the
// source path and raw bytes it was parsed from.
type WorkflowFile struct {
	FilePath   string
	Spec       *WorkflowSpec
	RawContent json.RawMessage
	Checksum   string
}

// LoadResult aggregates the outcome of scanning a directory of spec documents.
type LoadResult struct {
	Specs      []*WorkflowFile
	Errors     []LoadError
	TotalFiles int
}

// LoadError records one file that failed to load or validate.
type LoadError struct {
	FilePath string
	Error    error
}

// Loader scans a directory for workflow spec documents (SPEC_FULL §4.1).
type Loader struct {
	specsDir string
}

// NewLoader returns a Loader scanning specsDir.
func NewLoader(specsDir string) *Loader {
	return &Loader{specsDir: specsDir}
}

// LoadAll globs specsDir for *.workflow.{yaml,yml,json} documents and
// validates each one.
func (l *Loader) LoadAll() (*LoadResult, error) {
	result := &LoadResult{
		Specs:  []*WorkflowFile{},
		Errors: []LoadError{},
	}

	if _, err := os.Stat(l.specsDir); os.IsNotExist(err) {
		return result, nil
	}

	var allFiles []string
	for _, pattern := range []string{"*.workflow.yaml", "*.workflow.yml", "*.workflow.json"} {
		matches, err := filepath.Glob(filepath.Join(l.specsDir, pattern))
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow files (%s): %w", pattern, err)
		}
		allFiles = append(allFiles, matches...)
	}
	result.TotalFiles = len(allFiles)

	for _, filePath := range allFiles {
		wf, err := l.LoadFile(filePath)
		if err != nil {
			result.Errors = append(result.Errors, LoadError{FilePath: filePath, Error: err})
			continue
		}
		result.Specs = append(result.Specs, wf)
	}

	return result, nil
}

// LoadFile reads, normalizes, and validates a single spec document.
func (l *Loader) LoadFile(filePath string) (*WorkflowFile, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	checksum := computeChecksum(content)
	name := extractWorkflowName(filePath)

	var dataMap map[string]interface{}
	if strings.HasSuffix(filePath, ".json") {
		if err := json.Unmarshal(content, &dataMap); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	} else {
		var yamlData interface{}
		if err := yaml.Unmarshal(content, &yamlData); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		converted := convertYAMLToJSON(yamlData)
		var ok bool
		dataMap, ok = converted.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("workflow spec must be an object")
		}
	}

	if _, hasName := dataMap["name"]; !hasName {
		dataMap["name"] = name
	}

	rawJSON, err := json.Marshal(dataMap)
	if err != nil {
		return nil, fmt.Errorf("failed to convert to JSON: %w", err)
	}

	spec, validationResult, err := ValidateSpec(rawJSON)
	if err != nil {
		var errMsgs []string
		for _, ve := range validationResult.Errors {
			errMsgs = append(errMsgs, fmt.Sprintf("%s: %s", ve.Path, ve.Message))
		}
		return nil, fmt.Errorf("validation failed: %s", strings.Join(errMsgs, "; "))
	}
	spec.Checksum = checksum

	return &WorkflowFile{
		FilePath:   filePath,
		Spec:       spec,
		RawContent: rawJSON,
		Checksum:   checksum,
	}, nil
}

func extractWorkflowName(filePath string) string {
	base := filepath.Base(filePath)
	for _, suffix := range []string{".workflow.yaml", ".workflow.yml", ".workflow.json"} {
		if strings.HasSuffix(base, suffix) {
			return strings.TrimSuffix(base, suffix)
		}
	}
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext)
}

func computeChecksum(content []byte) string {
	hash := md5.Sum(content)
	return hex.EncodeToString(hash[:])
}

func convertYAMLToJSON(input interface{}) interface{} {
	switch v := input.(type) {
	case map[string]interface{}:
		result := make(map[string]interface{})
		for key, val := range v {
			result[key] = convertYAMLToJSON(val)
		}
		return result
	case map[interface{}]interface{}:
		result := make(map[string]interface{})
		for key, val := range v {
			strKey := fmt.Sprintf("%v", key)
			result[strKey] = convertYAMLToJSON(val)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, val := range v {
			result[i] = convertYAMLToJSON(val)
		}
		return result
	default:
		return v
	}
}
