package httpx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	Path  string   `validate:"required"`
	Paths []string `validate:"omitempty,min=1,dive,required"`
	Limit *int     `validate:"omitempty,min=0,max=20"`
}

func TestValidateAcceptsCompleteRequest(t *testing.T) {
	limit := 5
	err := Validate(&sampleRequest{Path: "/data/file.json", Paths: []string{"a"}, Limit: &limit})
	require.NoError(t, err)
}

func TestValidateReportsEveryFailure(t *testing.T) {
	limit := 50
	err := Validate(&sampleRequest{Limit: &limit})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
	assert.Contains(t, err.Error(), "limit must have at most 20")
}

func TestValidateRejectsEmptyListEntries(t *testing.T) {
	err := Validate(&sampleRequest{Path: "x", Paths: []string{"a", ""}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required")
}
