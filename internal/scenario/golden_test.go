package scenario

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

// Golden run reports. Rehearsals run under a fixed clock and run ID, so
// the full report is stable byte for byte.
//
// Regenerate with:
//
//	go test ./internal/scenario -update
func TestGoldenReports(t *testing.T) {
	for _, name := range []string{"full-success", "gate-drift"} {
		t.Run(name, func(t *testing.T) {
			s := loadTestdata(t, name+".yaml")

			res, err := Run(context.Background(), s)
			require.NoError(t, err)
			require.NotNil(t, res.Report)

			snapshot, err := json.MarshalIndent(res.Report, "", "  ")
			require.NoError(t, err)

			g := goldie.New(t,
				goldie.WithFixtureDir("testdata/golden"),
				goldie.WithNameSuffix(".golden"),
			)
			g.Assert(t, name, snapshot)
		})
	}
}
