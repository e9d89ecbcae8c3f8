package lifecycle

import (
	"context"
	"errors"

	"agenda/internal/backend"
)

// User-facing messages.
const (
	MsgPhoneFormat    = "Ingresá el teléfono en formato +54911..."
	MsgMissingService = "Seleccioná un servicio"
	MsgMissingStaff   = "Seleccioná un profesional"
	MsgMissingSlot    = "Seleccioná un horario"
	MsgMissingName    = "Ingresá el nombre del cliente"
	MsgInvalidSlot    = "El horario seleccionado no es válido"
	MsgUnknownService = "El servicio seleccionado ya no existe"
	MsgInvalidUntil   = "La fecha de fin de la repetición no es válida"
	MsgShortSeries    = "La repetición necesita al menos 2 turnos"
	MsgInvalidTime    = "La fecha u hora indicada no es válida"
	MsgCreateFailed   = "No se pudo crear el turno"
	MsgGenericFailure = "No se pudo completar la operación"
)

var (
	// ErrSlotExpired means the selected slot elapsed between fetch and submit.
	ErrSlotExpired = errors.New("⚠️ El horario seleccionado ya pasó. Actualizá los horarios y volvé a intentar.")

	// ErrSeriesConflict means at least one occurrence collided with an existing
	// booking. Nothing from the series is left booked.
	ErrSeriesConflict = errors.New("⚠️ Uno o más turnos de la serie se superponen con reservas existentes. No se reservó ninguno.")
)

// ValidationError is a missing or malformed draft field, caught before any
// network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// OpResult is the outcome of update, delete and cancel calls. Failures are
// reported in Error instead of being returned.
type OpResult struct {
	OK    bool
	Error string
}

func resultOf(err error) OpResult {
	if err != nil {
		return OpResult{Error: UserMessage(err, MsgGenericFailure)}
	}
	return OpResult{OK: true}
}

// UserMessage maps err to the text shown to the user. Backend messages are
// shown verbatim; unknown errors fall back to fallback.
func UserMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	switch {
	case errors.Is(err, ErrSlotExpired):
		return ErrSlotExpired.Error()
	case errors.Is(err, ErrSeriesConflict):
		return ErrSeriesConflict.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "El servidor tardó demasiado en responder"
	}
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Error()
	}
	return fallback
}
