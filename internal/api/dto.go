package api

import (
	"time"

	"github.com/epiforge/cascade/internal/simservice"
)

// CreateModelRequest is the request body for uploading a model document.
type CreateModelRequest struct {
	Path    string `json:"path" example:"models/sir.yaml" validate:"required"`
	Content string `json:"content" example:"name: sir\n..." validate:"required"`
}

// UpdateModelRequest is the request body for updating a model document.
type UpdateModelRequest struct {
	Content string `json:"content" example:"name: sir\n..." validate:"required"`
}

// ValidateModelRequest is the request body for validating a document without
// writing it.
type ValidateModelRequest struct {
	Content string `json:"content" validate:"required"`
}

// ValidateModelResponse reports the outcome of a validation request.
type ValidateModelResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ModelDetail is the full model response type (aliased from the domain layer).
type ModelDetail = simservice.ModelDetail

// ModelListItem is a lightweight item in a model list response.
type ModelListItem struct {
	Path            string    `json:"path" example:"models/sir.yaml"`
	Name            string    `json:"name" example:"sir"`
	Checksum        string    `json:"checksum" example:"abc123..."`
	Valid           bool      `json:"valid"`
	Error           string    `json:"error,omitempty"`
	Compartments    int       `json:"compartments"`
	Characteristics int       `json:"characteristics"`
	Parameters      int       `json:"parameters"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ModelListResponse wraps model listings.
type ModelListResponse struct {
	Models []ModelListItem `json:"models" validate:"required"`
	Total  int             `json:"total" example:"4" validate:"required"`
}

// RunRequest is the request body for starting a simulation run (aliased from
// the domain layer).
type RunRequest = simservice.RunRequest

// RunSummary is the run response type (aliased from the domain layer).
type RunSummary = simservice.RunSummary

// RunListResponse wraps run listings.
type RunListResponse struct {
	Runs  []RunSummary `json:"runs" validate:"required"`
	Total int          `json:"total" example:"7" validate:"required"`
}
