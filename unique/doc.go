// Package unique turns MongoDB duplicate-key write errors into field-level
// validation errors.
//
// A Translator classifies the error a write returned, recovers the violated
// index from the server's diagnostic, resolves that index's fields through
// a Registry, and builds a *ValidationError with one FieldError per field.
// Errors that are not duplicate-key violations pass through untouched, and
// so do duplicate-key errors that cannot be translated.
package unique
