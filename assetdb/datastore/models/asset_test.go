package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeploymentStatus_Labels(t *testing.T) {
	tests := map[DeploymentStatus]string{
		DeploymentStatusArchived: "Archived",
		DeploymentStatusDeployed: "Deployed",
		DeploymentStatusDraft:    "Draft",
	}

	for s, label := range tests {
		require.True(t, s.Valid())
		require.Equal(t, label, s.Label())
		require.LessOrEqual(t, len(s), DeploymentStatusMaxLength)
	}

	require.Len(t, DeploymentStatuses(), len(tests))
	require.False(t, DeploymentStatus("pending").Valid())
	require.Equal(t, "pending", DeploymentStatus("pending").Label())
}

func TestParseDeploymentData(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantEmpty  bool
		wantActive *bool
		wantStatus DeploymentStatus
	}{
		{name: "empty object", raw: `{}`, wantEmpty: true, wantStatus: DeploymentStatusArchived},
		{name: "blank", raw: ``, wantEmpty: true, wantStatus: DeploymentStatusArchived},
		{name: "null", raw: `null`, wantEmpty: true, wantStatus: DeploymentStatusArchived},
		{name: "active true", raw: `{"active": true}`, wantActive: ptr(true), wantStatus: DeploymentStatusDeployed},
		{name: "active false", raw: `{"active": false}`, wantActive: ptr(false), wantStatus: DeploymentStatusArchived},
		{name: "active missing", raw: `{"backend": "mock"}`, wantStatus: DeploymentStatusArchived},
		{name: "active null", raw: `{"active": null}`, wantActive: ptr(false), wantStatus: DeploymentStatusArchived},
		{name: "active one", raw: `{"active": 1}`, wantActive: ptr(true), wantStatus: DeploymentStatusDeployed},
		{name: "active zero", raw: `{"active": 0}`, wantActive: ptr(false), wantStatus: DeploymentStatusArchived},
		{name: "active zero float", raw: `{"active": 0.0}`, wantActive: ptr(false), wantStatus: DeploymentStatusArchived},
		{name: "active string", raw: `{"active": "yes"}`, wantActive: ptr(true), wantStatus: DeploymentStatusDeployed},
		{name: "active empty string", raw: `{"active": ""}`, wantActive: ptr(false), wantStatus: DeploymentStatusArchived},
		{name: "active empty list", raw: `{"active": []}`, wantActive: ptr(false), wantStatus: DeploymentStatusArchived},
		{name: "active list", raw: `{"active": [0]}`, wantActive: ptr(true), wantStatus: DeploymentStatusDeployed},
		{name: "active empty object", raw: `{"active": {}}`, wantActive: ptr(false), wantStatus: DeploymentStatusArchived},
		{name: "active overflowing number", raw: `{"active": 1e400}`, wantActive: ptr(true), wantStatus: DeploymentStatusDeployed},
		{name: "active negative overflow", raw: `{"active": -1e400}`, wantActive: ptr(true), wantStatus: DeploymentStatusDeployed},
		{name: "active underflowing number", raw: `{"active": 1e-400}`, wantActive: ptr(false), wantStatus: DeploymentStatusArchived},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDeploymentData([]byte(tt.raw))
			require.NoError(t, err)
			require.Equal(t, tt.wantEmpty, d.Empty())
			require.Equal(t, tt.wantActive, d.Active)
			require.Equal(t, tt.wantStatus, d.DeploymentStatus())
		})
	}
}

func TestParseDeploymentData_Invalid(t *testing.T) {
	_, err := ParseDeploymentData([]byte(`[1, 2]`))
	require.Error(t, err)

	_, err = ParseDeploymentData([]byte(`{"active":`))
	require.Error(t, err)
}

func TestDeploymentData_JSON(t *testing.T) {
	var d DeploymentData
	require.NoError(t, json.Unmarshal([]byte(`{"active": true, "version": "v1"}`), &d))
	require.True(t, d.IsActive())

	b, err := json.Marshal(d)
	require.NoError(t, err)
	require.JSONEq(t, `{"active": true, "version": "v1"}`, string(b))

	b, err = json.Marshal(DeploymentData{})
	require.NoError(t, err)
	require.Equal(t, `{}`, string(b))
}

func TestAsset_ExpectedDeploymentStatus(t *testing.T) {
	tests := []struct {
		name      string
		assetType AssetType
		data      string
		want      DeploymentStatus
		wantOK    bool
	}{
		{name: "survey without deployment", assetType: AssetTypeSurvey, data: `{}`, want: DeploymentStatusDraft, wantOK: true},
		{name: "active survey", assetType: AssetTypeSurvey, data: `{"active": true}`, want: DeploymentStatusDeployed, wantOK: true},
		{name: "inactive survey", assetType: AssetTypeSurvey, data: `{"active": false}`, want: DeploymentStatusArchived, wantOK: true},
		{name: "active non-survey", assetType: AssetTypeTemplate, data: `{"active": true}`, want: DeploymentStatusDeployed, wantOK: true},
		{name: "non-survey without deployment", assetType: AssetTypeBlock, data: `{}`, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDeploymentData([]byte(tt.data))
			require.NoError(t, err)

			a := &Asset{AssetType: tt.assetType, DeploymentData: d}
			got, ok := a.ExpectedDeploymentStatus()
			require.Equal(t, tt.wantOK, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestAssets_IDs(t *testing.T) {
	aa := Assets{{ID: 3}, {ID: 1}, {ID: 2}}
	require.Equal(t, []int64{3, 1, 2}, aa.IDs())
	require.Empty(t, Assets{}.IDs())
}

func ptr[T any](v T) *T {
	return &v
}
