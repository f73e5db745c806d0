package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/yanqian/truthcard/internal/domain/roast"
	"github.com/yanqian/truthcard/internal/domain/usage"
)

// State is a phase of the analysis flow.
type State string

const (
	StateOnboarding State = "onboarding"
	StateUpload     State = "upload"
	StateAnalyzing  State = "analyzing"
	StateRoasting   State = "roasting"
	StateError      State = "error"
)

// Error codes surfaced as notices or returned to callers.
const (
	CodeInvalidFileType    = "invalid_file_type"
	CodeFileReadFailure    = "file_read_failure"
	CodeImageDecodeFailure = "image_decode_failure"
	CodeInvalidState       = "invalid_state"
	CodeNotFound           = "not_found"
)

// ImageRef points at the uploaded screenshot in object storage.
type ImageRef struct {
	Key      string `json:"key"`
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// Notice is the last user visible error.
type Notice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SupportPrompt is the delayed overlay shown on the results screen.
type SupportPrompt struct {
	Visible bool   `json:"visible"`
	URL     string `json:"url"`
}

// Snapshot is a point in time copy of a session.
type Snapshot struct {
	ID              uuid.UUID             `json:"id"`
	State           State                 `json:"state"`
	OnboardingLines []string              `json:"onboardingLines"`
	Progress        float64               `json:"progress"`
	Image           *ImageRef             `json:"image,omitempty"`
	Score           float64               `json:"score"`
	Severity        roast.Severity        `json:"severity,omitempty"`
	RoastLines      []roast.Line          `json:"roastLines"`
	RedFlags        []roast.RedFlag       `json:"redFlags"`
	Heatmap         []roast.HeatmapMetric `json:"heatmap"`
	Tier            usage.Tier            `json:"tier"`
	LipSyncing      bool                  `json:"lipSyncing"`
	ShowShareCard   bool                  `json:"showShareCard"`
	SupportPrompt   SupportPrompt         `json:"supportPrompt"`
	Notice          *Notice               `json:"notice,omitempty"`
	Failure         string                `json:"failure,omitempty"`
	UpdatedAt       time.Time             `json:"updatedAt"`
	Version         uint64                `json:"version"`
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.OnboardingLines = append([]string{}, s.OnboardingLines...)
	out.RoastLines = append([]roast.Line{}, s.RoastLines...)
	out.RedFlags = append([]roast.RedFlag{}, s.RedFlags...)
	out.Heatmap = append([]roast.HeatmapMetric{}, s.Heatmap...)
	if s.Image != nil {
		img := *s.Image
		out.Image = &img
	}
	if s.Notice != nil {
		n := *s.Notice
		out.Notice = &n
	}
	return out
}

// UploadInput is one screenshot submitted from the upload screen.
type UploadInput struct {
	FileName string
	MimeType string
	Data     []byte
}

// Dimensions are the pixel size read from an image header.
type Dimensions struct {
	Width  int
	Height int
}
