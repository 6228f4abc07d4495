package dispatch

import "github.com/tripallied/tripallied-backend/internal/models"

// Error codes returned to ride command callers. The realtime gateway
// forwards them verbatim on the error notification; the REST fallback
// maps them to HTTP statuses.
const (
	CodeValidation           = "VALIDATION"
	CodeForbidden            = "FORBIDDEN"
	CodeNotFound             = "NOT_FOUND"
	CodeInvalidState         = "INVALID_STATE"
	CodeRideNotAvailable     = "RIDE_NOT_AVAILABLE"
	CodeActiveRideExists     = "ACTIVE_RIDE_EXISTS"
	CodeDriverOffline        = "DRIVER_OFFLINE"
	CodeCityMismatch         = "CITY_MISMATCH"
	CodeCityResolutionFailed = "CITY_RESOLUTION_FAILED"
	CodeGeocodeFailed        = "GEOCODE_FAILED"
	CodeOTPRequired          = "OTP_REQUIRED"
	CodeOTPNotAvailable      = "OTP_NOT_AVAILABLE"
	CodeOTPInvalid           = "OTP_INVALID"
	CodeInternal             = "INTERNAL"
)

// Error is a coded command failure. It carries no stack context on
// purpose: it is a protocol value delivered back to the caller's
// connection, never propagated further.
type Error struct {
	Code    string
	Message string

	// Ride is attached when the failure has a ride the caller should be
	// re-synced with, e.g. ACTIVE_RIDE_EXISTS carries the active ride.
	Ride *models.Ride
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// AsError unwraps a command failure into its coded form, converting
// unexpected storage errors into an opaque INTERNAL code so they never
// leak driver/DB details to clients.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if coded, ok := err.(*Error); ok {
		return coded
	}
	return &Error{Code: CodeInternal, Message: "Something went wrong. Please retry."}
}
