package domain

import (
	"strings"
	"time"
)

// Category is the closed meeting taxonomy. CategoryGeneral is the fallback
// used when classification fails or returns a label outside the taxonomy.
type Category string

const (
	CategoryMarketing   Category = "Marketing"
	CategoryEngineering Category = "Engineering"
	CategorySales       Category = "Sales"
	CategoryHR          Category = "HR"
	CategoryManagement  Category = "Management"
	CategoryGeneral     Category = "General"
)

var categories = []Category{
	CategoryMarketing,
	CategoryEngineering,
	CategorySales,
	CategoryHR,
	CategoryManagement,
}

// ParseCategory decodes raw model output into a taxonomy member.
// The match is case-insensitive on the trimmed text. Anything outside the
// taxonomy decodes to CategoryGeneral with ok=false.
func ParseCategory(raw string) (Category, bool) {
	trimmed := strings.TrimSpace(raw)
	for _, c := range categories {
		if strings.EqualFold(trimmed, string(c)) {
			return c, true
		}
	}
	return CategoryGeneral, false
}

type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// Stage identifies one discrete unit of pipeline work.
type Stage string

const (
	StageNormalize  Stage = "normalize"
	StageTranscribe Stage = "transcribe"
	StageClassify   Stage = "classify"
	StageSummarize  Stage = "summarize"
	StageVisuals    Stage = "extract-visuals"
	StagePersist    Stage = "persist"
)

// StageFailure records a tolerated, non-fatal stage error so callers can
// inspect degraded-but-successful runs.
type StageFailure struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
}

// Session is the persisted record of one fully or partially processed meeting.
type Session struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"ownerId,omitempty"`
	Title           string    `json:"title"`
	RecordedAt      time.Time `json:"recordedAt"`
	DurationSeconds int       `json:"durationSeconds"`
	Transcript      string    `json:"transcript"`
	Summary         string    `json:"summary,omitempty"`
	Classification  Category  `json:"classification"`
	VisualRefs      []string  `json:"visualRefs"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// ChatMessage is one turn in a conversation. SessionID and OwnerID may both
// be empty for anonymous chat, in which case the message is never persisted.
type ChatMessage struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Role      ChatRole  `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
