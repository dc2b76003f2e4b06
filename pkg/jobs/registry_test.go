package jobs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRegistry_RegistersAllJobTypes(t *testing.T) {
	_, doctrineRoot := setupRepo(t)
	registry := NewRegistry(&fakeGen{output: "x"}, doctrineRoot)

	for _, jobType := range []string{"instagram_copy", "brand_compliance_score", "brand_optimization"} {
		def, ok := registry[jobType]
		require.True(t, ok, "missing job_type %s", jobType)
		require.Equal(t, jobType, def.JobType)
	}
}
