package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateStruct_RunRequest(t *testing.T) {
	ok := RunRequest{
		UserID: "u1",
		Profiles: []ProfileRunRequest{
			{ProfileID: "p1", Tickers: []string{"AAA"}},
		},
	}
	require.NoError(t, ValidateStruct(ok))

	bad := RunRequest{
		UserID: "u1",
		Profiles: []ProfileRunRequest{
			{ProfileID: "p1", Tickers: []string{"AAA"}},
			{ProfileID: "", Tickers: nil, RequestedPostCount: -1},
		},
	}
	err := ValidateStruct(bad)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	fields := map[string]bool{}
	for _, p := range verr.Problems {
		fields[p.Field] = true
	}
	assert.True(t, fields["profiles[1].profile_id"], verr.Error())
	assert.True(t, fields["profiles[1].tickers"], verr.Error())
	assert.True(t, fields["profiles[1].requested_post_count"], verr.Error())
}

func TestValidateStruct_EmptyProfiles(t *testing.T) {
	err := ValidateStruct(RunRequest{UserID: "u1"})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "profiles", verr.Problems[0].Field)
}
