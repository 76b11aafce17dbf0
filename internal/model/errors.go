package model

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies a calculation failure.
type ErrorKind string

const (
	KindExposureInfoMissing             ErrorKind = "ExposureInfoMissing"
	KindPaymentScheduleMissing          ErrorKind = "PaymentScheduleMissing"
	KindPrevPaymentScheduleMissing      ErrorKind = "PrevPaymentScheduleMissing"
	KindOpenDateIsLaterThanBusinessDate ErrorKind = "OpenDateIsLaterThanBusinessDate"
	KindWrongSettlementConfiguration    ErrorKind = "WrongSettlementConfiguration"
	KindWrongCollectionDate             ErrorKind = "WrongCollectionDate"

	// KindUnexpected covers anything that is not a domain validation failure.
	KindUnexpected ErrorKind = "Unexpected"
	// KindWriteBack is a failure to persist a batch's output.
	KindWriteBack ErrorKind = "WriteBack"
)

// CalculationError is a domain validation failure for a single exposure.
type CalculationError struct {
	Kind    ErrorKind
	Message string

	cause error
}

// NewCalculationError builds a CalculationError and records the caller's stack.
func NewCalculationError(kind ErrorKind, format string, args ...any) *CalculationError {
	msg := fmt.Sprintf(format, args...)
	return &CalculationError{
		Kind:    kind,
		Message: msg,
		cause:   errors.New(msg),
	}
}

func (e *CalculationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Trace returns the stack captured when the error was created.
func (e *CalculationError) Trace() string {
	if e.cause == nil {
		return ""
	}
	return fmt.Sprintf("%+v", e.cause)
}

// IsKind reports whether err is a CalculationError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ce *CalculationError
	return errors.As(err, &ce) && ce.Kind == kind
}

// Failure is the structured record a batch returns instead of its output.
type Failure struct {
	BatchID    int
	ExposureID int64
	Kind       ErrorKind
	Message    string
	Trace      string
}

// FailureFromError converts any error raised while calculating exposureID.
func FailureFromError(batchID int, exposureID int64, err error) Failure {
	f := Failure{BatchID: batchID, ExposureID: exposureID, Kind: KindUnexpected, Message: err.Error()}

	var ce *CalculationError
	if errors.As(err, &ce) {
		f.Kind = ce.Kind
		f.Message = ce.Message
		f.Trace = ce.Trace()
		return f
	}
	f.Trace = fmt.Sprintf("%+v", errors.WithStack(err))
	return f
}

// LogMessage renders the failure the way run status logs report it.
func (f Failure) LogMessage() string {
	if f.Kind == KindWriteBack {
		return fmt.Sprintf("Calculation Error [%s] occured while writing results of batch %d. %s",
			f.Kind, f.BatchID, f.Message)
	}
	prefix := fmt.Sprintf("Calculation Error [%s]", f.Kind)
	if f.Kind == KindUnexpected {
		prefix = "Unexpected Error"
	}
	return fmt.Sprintf("%s occured during calcualtion of exposure with EirExposureMapId = %d. %s",
		prefix, f.ExposureID, f.Message)
}
