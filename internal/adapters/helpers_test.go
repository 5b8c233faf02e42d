package adapters

import (
	"testing"

	"github.com/stretchr/testify/require"

	"composer-repos/internal/semver"
	"composer-repos/internal/types"
)

func mustConstraint(t *testing.T, expression string) types.Constraint {
	t.Helper()
	constraint, err := semver.ParseConstraints(expression)
	require.NoError(t, err)
	return constraint
}
