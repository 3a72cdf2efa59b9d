package indexer

import (
	"errors"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

func TestErrorPolicy(t *testing.T) {
	t.Parallel()

	errBase := errors.New("base")
	policy := NewErrorPolicy(ErrorPolicyConfig{
		MissingData: PolicySkip,
		Decode:      PolicyWarn,
		Domain:      PolicyFail,
		Storage:     PolicyFail,
	})

	require.Equal(t, ErrorClassMissingData, ClassOf(NewMissingDataError(errBase)))
	require.Equal(t, ErrorClassDecode, ClassOf(NewDecodeError(errBase)))
	require.Equal(t, ErrorClassDomain, ClassOf(NewDomainError(errBase)))
	require.Equal(t, ErrorClassStorage, ClassOf(NewStorageError(errBase)))
	require.Equal(t, ErrorClassUnknown, ClassOf(errBase))

	action, err := policy.Apply(hclog.NewNullLogger(), NewMissingDataError(errBase), "miss")
	require.Equal(t, PolicySkip, action)
	require.NoError(t, err)

	action, err = policy.Apply(hclog.NewNullLogger(), NewDecodeError(errBase), "decode")
	require.Equal(t, PolicyWarn, action)
	require.NoError(t, err)

	action, err = policy.Apply(hclog.NewNullLogger(), NewDomainError(errBase), "domain")
	require.Equal(t, PolicyFail, action)
	require.ErrorIs(t, err, ErrFatal)
	require.ErrorIs(t, err, errBase)

	// untagged errors always fail
	require.Equal(t, PolicyFail, policy.ActionFor(errBase))
	// fatal wins over the class
	require.Equal(t, PolicyFail, policy.ActionFor(errors.Join(ErrFatal, NewMissingDataError(errBase))))
}

func TestErrorPolicyConfig_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultErrorPolicyConfig().Validate())

	config := DefaultErrorPolicyConfig()
	config.Domain = "ignore"

	require.Error(t, config.Validate())
}
