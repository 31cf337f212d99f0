package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrProvider      = errors.New("provider error")
	ErrStorage       = errors.New("storage error")
	ErrAssembly      = errors.New("assembly error")
	ErrRunNotQueued  = errors.New("run is not queued")
	ErrUnexpected    = errors.New("unexpected error")
)

// ProviderError carries a provider's failure text unmodified. Subject names what the
// job was for, such as "scene 2", and is kept for logs.
type ProviderError struct {
	ProviderID string
	Subject    string
	Message    string
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if strings.TrimSpace(msg) == "" {
		msg = "provider reported failure"
	}
	if e.Subject != "" {
		return e.Subject + ": " + msg
	}
	return msg
}

// wrap tags err with a marker and the stage and operation it came from.
func wrap(marker error, stage, op string, err error) error {
	parts := make([]string, 0, 2)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if op = strings.TrimSpace(op); op != "" {
		parts = append(parts, op)
	}
	detail := strings.Join(parts, ": ")
	if err == nil {
		return fmt.Errorf("%w: %w", marker, errors.New(detail))
	}
	return fmt.Errorf("%w: %s: %w", marker, detail, err)
}

// FailureMessage is the message recorded when a run fails: the provider's own text,
// verbatim, when a provider failed, otherwise the cause beneath the marker layers.
func FailureMessage(err error) string {
	if err == nil {
		return "stage failed"
	}
	var pe *ProviderError
	if errors.As(err, &pe) && strings.TrimSpace(pe.Message) != "" {
		return pe.Message
	}
	if msg := strings.TrimSpace(cause(err).Error()); msg != "" {
		return msg
	}
	return err.Error()
}

// cause strips the marker layers added by wrap.
func cause(err error) error {
	for {
		u, ok := err.(interface{ Unwrap() []error })
		if !ok {
			return err
		}
		errs := u.Unwrap()
		if len(errs) == 0 {
			return err
		}
		err = errs[len(errs)-1]
	}
}
