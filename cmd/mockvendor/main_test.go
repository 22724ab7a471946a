package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrains(t *testing.T) {
	rows, err := parseTrains("101@06:00, 103@06:30,")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "103", rows[1]["h_trn_no"])
	assert.Equal(t, "06:30", rows[1]["h_dpt_tm_qb"])
	assert.Equal(t, "11", rows[1]["h_spe_rsv_cd"])

	for _, bad := range []string{"", "101", "101@6:00", "@06:00"} {
		_, err := parseTrains(bad)
		assert.Error(t, err, bad)
	}
}
