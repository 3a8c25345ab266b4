package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// AssetType identifies the kind of content an asset holds.
type AssetType string

const (
	AssetTypeText       AssetType = "text"
	AssetTypeEmpty      AssetType = "empty"
	AssetTypeQuestion   AssetType = "question"
	AssetTypeBlock      AssetType = "block"
	AssetTypeSurvey     AssetType = "survey"
	AssetTypeTemplate   AssetType = "template"
	AssetTypeCollection AssetType = "collection"
)

// DeploymentStatus is the publication state of an asset.
type DeploymentStatus string

const (
	// DeploymentStatusArchived is set on assets that were deployed and are no
	// longer active.
	DeploymentStatusArchived DeploymentStatus = "archived"
	// DeploymentStatusDeployed is set on assets with an active deployment.
	DeploymentStatusDeployed DeploymentStatus = "deployed"
	// DeploymentStatusDraft is set on surveys that were never deployed.
	DeploymentStatusDraft DeploymentStatus = "draft"
)

// DeploymentStatusMaxLength is the width of the column storing a
// DeploymentStatus.
const DeploymentStatusMaxLength = 8

var deploymentStatusLabels = map[DeploymentStatus]string{
	DeploymentStatusArchived: "Archived",
	DeploymentStatusDeployed: "Deployed",
	DeploymentStatusDraft:    "Draft",
}

// DeploymentStatuses returns all valid deployment statuses in display order.
func DeploymentStatuses() []DeploymentStatus {
	return []DeploymentStatus{
		DeploymentStatusArchived,
		DeploymentStatusDeployed,
		DeploymentStatusDraft,
	}
}

// Valid reports whether s is one of the known deployment statuses.
func (s DeploymentStatus) Valid() bool {
	_, ok := deploymentStatusLabels[s]
	return ok
}

// Label returns the human readable name of the status.
func (s DeploymentStatus) Label() string {
	if l, ok := deploymentStatusLabels[s]; ok {
		return l
	}
	return string(s)
}

func (s DeploymentStatus) String() string {
	return string(s)
}

// DeploymentData is the legacy deployment payload stored with each asset. Only
// the keys relevant to the deployment state are decoded, the remaining ones
// are kept as raw JSON.
type DeploymentData struct {
	// Active is nil when the payload has no "active" key. Otherwise it holds
	// the truthiness of the stored value: false, null, 0, "" and empty
	// arrays or objects are inactive.
	Active *bool

	fields map[string]json.RawMessage
}

// ParseDeploymentData decodes a JSON object into DeploymentData. An empty or
// null document yields an empty payload.
func ParseDeploymentData(raw []byte) (DeploymentData, error) {
	var d DeploymentData
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return d, nil
	}

	if err := json.Unmarshal(raw, &d.fields); err != nil {
		return d, fmt.Errorf("decoding deployment data: %w", err)
	}

	if v, ok := d.fields["active"]; ok {
		active := truthy(v)
		d.Active = &active
	}

	return d, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *DeploymentData) UnmarshalJSON(b []byte) error {
	parsed, err := ParseDeploymentData(b)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON implements json.Marshaler. An empty payload is encoded as {}.
func (d DeploymentData) MarshalJSON() ([]byte, error) {
	if d.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d.fields)
}

// Empty reports whether the payload has no keys at all.
func (d DeploymentData) Empty() bool {
	return len(d.fields) == 0
}

// IsActive reports whether the payload marks the deployment as active. A
// missing "active" key counts as inactive.
func (d DeploymentData) IsActive() bool {
	return d.Active != nil && *d.Active
}

// DeploymentStatus derives the status of a non-empty payload.
func (d DeploymentData) DeploymentStatus() DeploymentStatus {
	if d.IsActive() {
		return DeploymentStatusDeployed
	}
	return DeploymentStatusArchived
}

// truthy evaluates a raw JSON value the way a dynamic language would in a
// boolean context.
func truthy(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return false
	}

	switch v[0] {
	case 'n', 'f':
		return false
	case 't':
		return true
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return false
		}
		return s != ""
	case '[':
		var a []json.RawMessage
		if err := json.Unmarshal(v, &a); err != nil {
			return false
		}
		return len(a) > 0
	case '{':
		var o map[string]json.RawMessage
		if err := json.Unmarshal(v, &o); err != nil {
			return false
		}
		return len(o) > 0
	default:
		f, err := strconv.ParseFloat(string(v), 64)
		// out of range values come back as ±Inf or 0
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return false
		}
		return f != 0
	}
}

// Asset is a form or library item. Only the attributes relevant to the
// deployment state are represented.
type Asset struct {
	ID               int64
	UID              string
	Name             string
	AssetType        AssetType
	DeploymentData   DeploymentData
	DeploymentStatus *DeploymentStatus
	PendingDelete    bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ExpectedDeploymentStatus returns the status the asset should hold given its
// type and deployment payload. The boolean is false for assets without a
// deployment payload that are not surveys, as they have no derived status.
func (a *Asset) ExpectedDeploymentStatus() (DeploymentStatus, bool) {
	if a.DeploymentData.Empty() {
		if a.AssetType == AssetTypeSurvey {
			return DeploymentStatusDraft, true
		}
		return "", false
	}
	return a.DeploymentData.DeploymentStatus(), true
}

// Assets is a slice of Asset pointers.
type Assets []*Asset

// IDs returns the identifiers of all assets, in order.
func (aa Assets) IDs() []int64 {
	ids := make([]int64, 0, len(aa))
	for _, a := range aa {
		ids = append(ids, a.ID)
	}
	return ids
}
