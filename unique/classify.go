package unique

import (
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Duplicate-key codes reported by the server. 11001 is the pre-2.6 code
// for duplicates raised by updates.
const (
	CodeDuplicateKey       = 11000
	CodeDuplicateKeyUpdate = 11001
)

// Kind identifies which driver error type carried the violation.
type Kind string

const (
	KindWriteException     Kind = "write_exception"
	KindBulkWriteException Kind = "bulk_write_exception"
	KindCommandError       Kind = "command_error"
)

// Violation is a classified duplicate-key failure.
type Violation struct {
	Kind    Kind
	Code    int
	Message string

	// Index is the position of the failing operation within a batch
	// (InsertMany, BulkWrite); zero for single writes.
	Index int

	// KeyValues holds the server-reported keyValue document, when present.
	KeyValues Values

	// Operation holds the payload of the failing write model for bulk
	// writes, when the driver exposes it.
	Operation Values

	// Err is the original driver error.
	Err error
}

func isDupCode(code int) bool {
	return code == CodeDuplicateKey || code == CodeDuplicateKeyUpdate
}

// IsDuplicateKeyError reports whether err is a driver write error carrying
// a duplicate-key code. Write-concern errors are never duplicates.
func IsDuplicateKeyError(err error) bool {
	_, ok := Classify(err)
	return ok
}

// Classify extracts the first duplicate-key violation from err. It
// recognizes mongo.BulkWriteException, mongo.WriteException and
// mongo.CommandError, including when wrapped.
func Classify(err error) (*Violation, bool) {
	if err == nil {
		return nil, false
	}

	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, we := range bwe.WriteErrors {
			if !isDupCode(we.Code) {
				continue
			}
			return &Violation{
				Kind:      KindBulkWriteException,
				Code:      we.Code,
				Message:   we.Message,
				Index:     we.Index,
				KeyValues: keyValuesFromRaw(we.Raw),
				Operation: FromWriteModel(we.Request),
				Err:       err,
			}, true
		}
		return nil, false
	}

	var wex mongo.WriteException
	if errors.As(err, &wex) {
		for _, we := range wex.WriteErrors {
			if !isDupCode(we.Code) {
				continue
			}
			return &Violation{
				Kind:      KindWriteException,
				Code:      we.Code,
				Message:   we.Message,
				Index:     we.Index,
				KeyValues: keyValuesFromRaw(we.Raw),
				Err:       err,
			}, true
		}
		return nil, false
	}

	var ce mongo.CommandError
	if errors.As(err, &ce) && isDupCode(int(ce.Code)) {
		return &Violation{
			Kind:      KindCommandError,
			Code:      int(ce.Code),
			Message:   ce.Message,
			KeyValues: keyValuesFromRaw(ce.Raw),
			Err:       err,
		}, true
	}

	return nil, false
}

// keyValuesFromRaw reads the keyValue document servers since 4.2 attach to
// duplicate-key errors.
func keyValuesFromRaw(raw bson.Raw) Values {
	if len(raw) == 0 {
		return nil
	}
	rv, err := raw.LookupErr("keyValue")
	if err != nil {
		return nil
	}
	doc, ok := rv.DocumentOK()
	if !ok {
		return nil
	}
	var d bson.D
	if err := bson.Unmarshal(doc, &d); err != nil {
		return nil
	}
	out := Values{}
	flattenD("", d, out)
	return out
}
