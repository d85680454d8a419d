package web

import "github.com/dukex/devflow/pkg/models"

type CreateRunRequest struct {
	Slug            string                 `json:"slug"             validate:"required,min=3,max=100"`
	WorkDescription string                 `json:"work_description" validate:"required,min=1"`
	Pipeline        *models.PipelineConfig `json:"pipeline,omitempty"`
}

type ResolveApprovalRequest struct {
	Phase     string `json:"phase"      validate:"required"`
	Decision  string `json:"decision"   validate:"required,oneof=approved rejected"`
	Feedback  string `json:"feedback,omitempty"`
	DecidedBy string `json:"decided_by,omitempty"`
}

type CancelRunRequest struct {
	Reason string `json:"reason,omitempty"`
}
