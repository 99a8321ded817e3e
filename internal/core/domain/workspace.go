package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	QueueDirName     = "queue"
	ContextDirName   = "context"
	OrganizedDirName = "organized"

	ProgressMarkerFile = "current_system_file_name.json"
	AnnotationSuffix   = ".json"
)

var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Tenant is an opaque, externally validated workspace owner id.
type Tenant string

func (t Tenant) String() string { return string(t) }

func ParseTenant(raw string) (Tenant, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", WrapError(ErrInvalidInput, "parse tenant", fmt.Errorf("tenant id is required"))
	}
	if !tenantPattern.MatchString(value) {
		return "", WrapError(ErrInvalidInput, "parse tenant", fmt.Errorf("tenant id %q must be alphanumeric, hyphen or underscore", value))
	}
	return Tenant(value), nil
}

func IsValidTenant(raw string) bool {
	return tenantPattern.MatchString(raw)
}

type Workspace struct {
	Tenant       Tenant `json:"tenant"`
	Root         string `json:"root"`
	QueueDir     string `json:"queue_dir"`
	ContextDir   string `json:"context_dir"`
	OrganizedDir string `json:"organized_dir"`
}

// FileRef points at a single file inside a workspace area.
type FileRef struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// AnnotationName returns the organized-area name of the annotation for item.
// "report.pdf" becomes "report.pdf.json".
func AnnotationName(itemName string) string {
	return itemName + AnnotationSuffix
}

type ProgressMarker struct {
	CurrentSystemFileName string `json:"current_system_file_name"`
}

type TenantStats struct {
	Tenant         Tenant     `json:"tenant"`
	QueuedFiles    int        `json:"queued_files"`
	OrganizedFiles int        `json:"organized_files"`
	LastProcessed  *time.Time `json:"last_processed"`
}
