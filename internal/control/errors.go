package control

import "fmt"

// Ecosystem error type codes.
const (
	TypeUnauthorized          = 1
	TypeInvalidJSON           = 2
	TypeResourceNotAvailable  = 3
	TypeMethodNotAvailable    = 4
	TypeMissingParameters     = 5
	TypeParameterNotAvailable = 6
	TypeInvalidValue          = 7
	TypeLinkButtonNotPressed  = 101
	TypeInternal              = 901
)

// Kind is the internal taxonomy an error response belongs to.
type Kind int

const (
	KindParse Kind = iota
	KindValidation
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindValidation:
		return "validation"
	case KindBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Error is a protocol error. It marshals to the ecosystem's error object;
// Address names the affected resource or field.
type Error struct {
	Type        int    `json:"type"`
	Address     string `json:"address"`
	Description string `json:"description"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("error %d at %s: %s", e.Type, e.Address, e.Description)
}

// Kind classifies the error.
func (e *Error) Kind() Kind {
	switch e.Type {
	case TypeInvalidJSON:
		return KindParse
	case TypeInternal:
		return KindBusy
	default:
		return KindValidation
	}
}

func errInvalidJSON(addr string) *Error {
	return &Error{Type: TypeInvalidJSON, Address: addr, Description: "body contains invalid json"}
}

func errUnauthorized(addr string) *Error {
	return &Error{Type: TypeUnauthorized, Address: addr, Description: "unauthorized user"}
}

func errNotAvailable(addr string) *Error {
	return &Error{Type: TypeResourceNotAvailable, Address: addr, Description: fmt.Sprintf("resource, %s, not available", addr)}
}

func errMethod(method, addr string) *Error {
	return &Error{Type: TypeMethodNotAvailable, Address: addr, Description: fmt.Sprintf("method, %s, not available for resource, %s", method, addr)}
}

func errMissing(addr string) *Error {
	return &Error{Type: TypeMissingParameters, Address: addr, Description: "invalid/missing parameters in body"}
}

func errParamNotAvailable(addr, param string) *Error {
	return &Error{Type: TypeParameterNotAvailable, Address: addr, Description: fmt.Sprintf("parameter, %s, not available", param)}
}

func errInvalidValue(addr, value, param string) *Error {
	return &Error{Type: TypeInvalidValue, Address: addr, Description: fmt.Sprintf("invalid value, %s, for parameter, %s", value, param)}
}

func errLinkButton() *Error {
	return &Error{Type: TypeLinkButtonNotPressed, Address: "", Description: "link button not pressed"}
}

func errBusy(addr string) *Error {
	return &Error{Type: TypeInternal, Address: addr, Description: "Internal error, 901"}
}

// Busy reports that the request could not be served in time.
func Busy(addr string) *Error { return errBusy(addr) }

// InvalidJSON reports an unreadable request body.
func InvalidJSON(addr string) *Error { return errInvalidJSON(addr) }
