// Package seed loads workflow definitions from a YAML file.
package seed

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pesio-ai/be-qms-documents/internal/repository"
	"github.com/pesio-ai/be-qms-documents/internal/service"
)

// File is the document layout of a seed file.
type File struct {
	Workflows []Workflow `yaml:"workflows"`
}

// Workflow is one definition to create.
type Workflow struct {
	CompanyID string                    `yaml:"company_id"`
	Name      string                    `yaml:"name"`
	Module    string                    `yaml:"module"`
	CreatedBy string                    `yaml:"created_by"`
	Steps     []repository.WorkflowStep `yaml:"steps"`
}

// Result counts what a seed run did.
type Result struct {
	Created int
	Skipped int
}

// Parse decodes a seed file. Unknown keys are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	return &f, nil
}

// LoadFile parses the seed file at path.
func LoadFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return Parse(fh)
}

// Apply creates every workflow in f that does not exist yet. A workflow exists
// when the company already has one with the same module and name.
func Apply(ctx context.Context, workflows *service.WorkflowDefinitionService, f *File) (Result, error) {
	var res Result
	for _, wf := range f.Workflows {
		existing, err := workflows.ListWorkflows(ctx, wf.CompanyID, wf.Module)
		if err != nil {
			return res, fmt.Errorf("list workflows of %s: %w", wf.CompanyID, err)
		}
		if hasName(existing, wf.Name) {
			res.Skipped++
			continue
		}
		if _, err := workflows.CreateWorkflow(ctx, &service.CreateWorkflowRequest{
			CompanyID: wf.CompanyID,
			Name:      wf.Name,
			Module:    wf.Module,
			Steps:     wf.Steps,
			CreatedBy: wf.CreatedBy,
		}); err != nil {
			return res, fmt.Errorf("create workflow %q: %w", wf.Name, err)
		}
		res.Created++
	}
	return res, nil
}

func hasName(wfs []*repository.WorkflowDefinition, name string) bool {
	for _, wf := range wfs {
		if wf.Name == name {
			return true
		}
	}
	return false
}
