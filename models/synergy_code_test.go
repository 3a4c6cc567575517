package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSynergyCode(t *testing.T) {
	assert.Equal(t, "LAP-00001", FormatSynergyCode("LAP", 1))
	assert.Equal(t, "LAP-00008", FormatSynergyCode("LAP", 8))
	assert.Equal(t, "GEN-00042", FormatSynergyCode("GEN", 42))
	assert.Equal(t, "GEN-12345", FormatSynergyCode("GEN", 12345))
	// Beyond the padding width the number just keeps growing.
	assert.Equal(t, "GEN-123456", FormatSynergyCode("GEN", 123456))
}

func TestParseSynergyCodeSeq(t *testing.T) {
	seq, err := ParseSynergyCodeSeq("LAP-00008")
	require.NoError(t, err)
	assert.Equal(t, int64(8), seq)

	seq, err = ParseSynergyCodeSeq("GEN-12345")
	require.NoError(t, err)
	assert.Equal(t, int64(12345), seq)

	// Multi-dash prefixes parse from the last dash.
	seq, err = ParseSynergyCodeSeq("LAP-PRO-00012")
	require.NoError(t, err)
	assert.Equal(t, int64(12), seq)

	_, err = ParseSynergyCodeSeq("LAP00008")
	assert.Error(t, err)

	_, err = ParseSynergyCodeSeq("LAP-")
	assert.Error(t, err)

	_, err = ParseSynergyCodeSeq("LAP-abc")
	assert.Error(t, err)
}

func TestClassifyExplodeState(t *testing.T) {
	assert.Equal(t, ExplodeStateDone, classifyExplodeState(5, 0))
	assert.Equal(t, ExplodeStatePartial, classifyExplodeState(2, 3))
	assert.Equal(t, ExplodeStateAlready, classifyExplodeState(0, 0))
	assert.Equal(t, ExplodeStateAlready, classifyExplodeState(0, 5))
}

func TestParseLinePayload(t *testing.T) {
	payload := parseLinePayload(nil)
	assert.JSONEq(t, `{}`, string(payload.Specs))
	assert.Nil(t, payload.TesterComment)

	payload = parseLinePayload(json.RawMessage(`not json at all`))
	assert.JSONEq(t, `{}`, string(payload.Specs))
	assert.Nil(t, payload.TesterComment)

	payload = parseLinePayload(json.RawMessage(`{"specs": {"cpu": "i5", "ram_gb": 16}, "item_notes": "scratched lid"}`))
	assert.JSONEq(t, `{"cpu": "i5", "ram_gb": 16}`, string(payload.Specs))
	require.NotNil(t, payload.TesterComment)
	assert.Equal(t, "scratched lid", *payload.TesterComment)

	payload = parseLinePayload(json.RawMessage(`{"specs": null}`))
	assert.JSONEq(t, `{}`, string(payload.Specs))
	assert.Nil(t, payload.TesterComment)
}

func strPtr(s string) *string { return &s }

func TestAssignPreviewCodesSharedPrefix(t *testing.T) {
	// Two lines under the same fresh prefix: the second continues where the
	// first left off, with no DB writes involved.
	rows := []previewLineRow{
		{ID: uuid.New(), Qty: 2, ProductNameRaw: "Keyboard", Prefix: strPtr("GEN")},
		{ID: uuid.New(), Qty: 3, ProductNameRaw: "Mouse", Prefix: strPtr("GEN")},
	}

	scans := 0
	previews, err := assignPreviewCodes(rows, func(prefix string) (int64, error) {
		scans++
		assert.Equal(t, "GEN", prefix)
		return 0, nil
	})
	require.NoError(t, err)
	require.Len(t, previews, 2)

	assert.Equal(t, []string{"GEN-00001", "GEN-00002"}, previews[0].Codes)
	assert.Equal(t, []string{"GEN-00003", "GEN-00004", "GEN-00005"}, previews[1].Codes)
	assert.Equal(t, 1, scans, "sequence scan should run once per distinct prefix")
}

func TestAssignPreviewCodesStartsAfterExistingMax(t *testing.T) {
	rows := []previewLineRow{
		{ID: uuid.New(), Qty: 2, ProductNameRaw: "Latitude 5420", Prefix: strPtr("LAP")},
	}
	previews, err := assignPreviewCodes(rows, func(prefix string) (int64, error) {
		return 7, nil
	})
	require.NoError(t, err)
	require.Len(t, previews, 1)
	assert.Equal(t, []string{"LAP-00008", "LAP-00009"}, previews[0].Codes)
}

func TestAssignPreviewCodesMissingPrefix(t *testing.T) {
	rows := []previewLineRow{
		{ID: uuid.New(), Qty: 4, ProductNameRaw: "Mystery pallet", Prefix: nil},
		{ID: uuid.New(), Qty: 1, ProductNameRaw: "Blank prefix", Prefix: strPtr("  ")},
	}
	previews, err := assignPreviewCodes(rows, func(prefix string) (int64, error) {
		t.Fatalf("scan should not run for lines without a prefix")
		return 0, nil
	})
	require.NoError(t, err)
	require.Len(t, previews, 2)
	for _, p := range previews {
		assert.Empty(t, p.Codes)
		assert.Equal(t, "No category prefix; cannot preview.", p.Note)
	}
}

func TestAssignPreviewCodesZeroQtyTreatedAsOne(t *testing.T) {
	rows := []previewLineRow{
		{ID: uuid.New(), Qty: 0, ProductNameRaw: "Single unit", Prefix: strPtr("PHN")},
	}
	previews, err := assignPreviewCodes(rows, func(prefix string) (int64, error) {
		return 0, nil
	})
	require.NoError(t, err)
	require.Len(t, previews, 1)
	assert.Equal(t, 1, previews[0].Qty)
	assert.Equal(t, []string{"PHN-00001"}, previews[0].Codes)
}

func TestAssignPreviewCodesScanError(t *testing.T) {
	rows := []previewLineRow{
		{ID: uuid.New(), Qty: 1, ProductNameRaw: "Latitude", Prefix: strPtr("LAP")},
	}
	scanErr := errors.New("db down")
	_, err := assignPreviewCodes(rows, func(prefix string) (int64, error) {
		return 0, scanErr
	})
	assert.ErrorIs(t, err, scanErr)
}

func TestUnsafeNextSeqErrorMessage(t *testing.T) {
	err := &UnsafeNextSeqError{Prefix: "LAP", Requested: 5, SafeNext: 11}
	assert.Contains(t, err.Error(), "LAP")
	assert.Contains(t, err.Error(), "minimum safe value is 11")

	var unsafeErr *UnsafeNextSeqError
	wrapped := error(err)
	require.True(t, errors.As(wrapped, &unsafeErr))
	assert.Equal(t, int64(11), unsafeErr.SafeNext)
}
