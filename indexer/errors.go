package indexer

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
)

var (
	// ErrFatal marks an error that must stop the worker that returned it.
	ErrFatal = errors.New("indexer fatal error")

	ErrMissingData = errors.New("missing data")
	ErrDecode      = errors.New("decode error")
	ErrDomain      = errors.New("domain error")
	ErrStorage     = errors.New("storage error")
)

type ErrorClass string

const (
	ErrorClassUnknown     ErrorClass = "unknown"
	ErrorClassMissingData ErrorClass = "missingData"
	ErrorClassDecode      ErrorClass = "decode"
	ErrorClassDomain      ErrorClass = "domain"
	ErrorClassStorage     ErrorClass = "storage"
)

type PolicyAction string

const (
	PolicySkip PolicyAction = "skip"
	PolicyWarn PolicyAction = "warn"
	PolicyFail PolicyAction = "fail"
)

func (pa PolicyAction) Validate() error {
	switch pa {
	case PolicySkip, PolicyWarn, PolicyFail:
		return nil
	default:
		return fmt.Errorf("invalid policy action: %s", pa)
	}
}

func NewMissingDataError(err error) error {
	return errors.Join(ErrMissingData, err)
}

func NewDecodeError(err error) error {
	return errors.Join(ErrDecode, err)
}

func NewDomainError(err error) error {
	return errors.Join(ErrDomain, err)
}

func NewStorageError(err error) error {
	return errors.Join(ErrStorage, err)
}

// ClassOf returns the class an error was tagged with.
func ClassOf(err error) ErrorClass {
	switch {
	case errors.Is(err, ErrMissingData):
		return ErrorClassMissingData
	case errors.Is(err, ErrDecode):
		return ErrorClassDecode
	case errors.Is(err, ErrDomain):
		return ErrorClassDomain
	case errors.Is(err, ErrStorage):
		return ErrorClassStorage
	default:
		return ErrorClassUnknown
	}
}

type ErrorPolicyConfig struct {
	MissingData PolicyAction `yaml:"missingData"`
	Decode      PolicyAction `yaml:"decode"`
	Domain      PolicyAction `yaml:"domain"`
	// Storage applies after the retry budget for storage errors is spent
	Storage PolicyAction `yaml:"storage"`
}

func DefaultErrorPolicyConfig() ErrorPolicyConfig {
	return ErrorPolicyConfig{
		MissingData: PolicyWarn,
		Decode:      PolicyFail,
		Domain:      PolicyFail,
		Storage:     PolicyFail,
	}
}

func (c ErrorPolicyConfig) Validate() error {
	return errors.Join(
		c.MissingData.Validate(), c.Decode.Validate(), c.Domain.Validate(), c.Storage.Validate())
}

type ErrorPolicy struct {
	config ErrorPolicyConfig
}

func NewErrorPolicy(config ErrorPolicyConfig) ErrorPolicy {
	return ErrorPolicy{config: config}
}

// ActionFor returns what to do with err. Untagged and fatal errors always fail.
func (p ErrorPolicy) ActionFor(err error) PolicyAction {
	if errors.Is(err, ErrFatal) {
		return PolicyFail
	}

	switch ClassOf(err) {
	case ErrorClassMissingData:
		return p.config.MissingData
	case ErrorClassDecode:
		return p.config.Decode
	case ErrorClassDomain:
		return p.config.Domain
	case ErrorClassStorage:
		return p.config.Storage
	default:
		return PolicyFail
	}
}

// Apply logs err according to its policy action. The returned error is non nil
// only for PolicyFail and is always tagged with ErrFatal.
func (p ErrorPolicy) Apply(
	logger hclog.Logger, err error, msg string, args ...interface{},
) (PolicyAction, error) {
	action := p.ActionFor(err)
	args = append(args, "class", ClassOf(err), "err", err)

	switch action {
	case PolicySkip:
		logger.Debug(msg, args...)

		return action, nil
	case PolicyWarn:
		logger.Warn(msg, args...)

		return action, nil
	default:
		logger.Error(msg, args...)

		if errors.Is(err, ErrFatal) {
			return PolicyFail, err
		}

		return PolicyFail, errors.Join(ErrFatal, err)
	}
}
