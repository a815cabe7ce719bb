package trimflow

// Diagnostic codes.
const (
	CodeInvalidIL            = "TRIM001"
	CodeUnrecognizedTypeName = "TRIM002"
	CodeParameterNotKnown    = "TRIM003"
	CodeFieldNotKnown        = "TRIM004"
	CodeReturnNotKnown       = "TRIM005"
	CodeAnnotationMismatch   = "TRIM006"
	CodeRedundantSuppression = "TRIM007"
	CodeAnalysisError        = "TRIM008"
)

// Catalog maps every diagnostic code to a short title.
var Catalog = map[string]string{
	CodeInvalidIL:            "invalid IL",
	CodeUnrecognizedTypeName: "unrecognized type name passed to System.Type::GetType",
	CodeParameterNotKnown:    "value passed to annotated parameter is not statically known",
	CodeFieldNotKnown:        "value stored in annotated field is not statically known",
	CodeReturnNotKnown:       "return value of annotated method is not statically known",
	CodeAnnotationMismatch:   "annotation of the source does not satisfy the target",
	CodeRedundantSuppression: "suppression is never used",
	CodeAnalysisError:        "internal analysis error",
}

// Title returns the catalog title of code, or code itself when unknown.
func Title(code string) string {
	if t, ok := Catalog[code]; ok {
		return t
	}
	return code
}
