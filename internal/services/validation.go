package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/campusmart/backend/internal/ledger"
	"github.com/campusmart/backend/internal/logger"
	"github.com/go-playground/validator/v10"
)

var (
	accountNumberRegex = regexp.MustCompile(`^[0-9]{10}$`)
	bankCodeRegex      = regexp.MustCompile(`^[0-9A-Za-z]{3,6}$`)
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Code    ledger.Code       `json:"code,omitempty"`    // Stable wallet error code
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	v := validator.New()
	_ = v.RegisterValidation("account_number", func(fl validator.FieldLevel) bool {
		return accountNumberRegex.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("bank_code", func(fl validator.FieldLevel) bool {
		return bankCodeRegex.MatchString(fl.Field().String())
	})
	return &ValidationHelper{validator: v}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	writeError(w, ErrorResponse{Error: message, Details: validationDetails(validationErr)}, statusCode)
}

// SendWalletError maps a wallet error onto its HTTP status and stable code.
// Unknown errors are logged and reported as 500 without leaking the cause.
func SendWalletError(w http.ResponseWriter, err error) {
	code := ledger.CodeOf(err)
	if code == "" {
		logger.WithError(err).Error("unhandled wallet error")
		writeError(w, ErrorResponse{Error: "Internal server error"}, http.StatusInternalServerError)
		return
	}
	writeError(w, ErrorResponse{Error: err.Error(), Code: code}, StatusForCode(code))
}

func StatusForCode(code ledger.Code) int {
	switch code {
	case ledger.CodeInvalidRequest, ledger.CodeBelowMinimumDeposit, ledger.CodeBelowMinimumWithdrawal,
		ledger.CodeInsufficientFunds:
		return http.StatusBadRequest
	case ledger.CodeInvalidSignature:
		return http.StatusUnauthorized
	case ledger.CodeNotFound:
		return http.StatusNotFound
	case ledger.CodeDuplicateReference, ledger.CodeInvalidTransition, ledger.CodeInvalidState:
		return http.StatusConflict
	case ledger.CodeAmountMismatch, ledger.CodeAccountVerificationFailed:
		return http.StatusUnprocessableEntity
	case ledger.CodeGatewayUnavailable:
		return http.StatusServiceUnavailable
	case ledger.CodePayoutFailed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, resp ErrorResponse, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make(map[string]string, len(verrs))
	for _, e := range verrs {
		details[e.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", e.Tag())
	}
	return details
}
