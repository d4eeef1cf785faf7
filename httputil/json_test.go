package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dalemusser/dupkey/unique"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestBindDocument(t *testing.T) {
	body := `{"_id": {"$oid": "5a9427648b0beebeb69579e7"}, "name": "alice", "age": 42}`
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))

	doc, err := BindDocument(r)
	if err != nil {
		t.Fatalf("BindDocument: %v", err)
	}
	if len(doc) != 3 {
		t.Fatalf("doc = %v", doc)
	}
	if _, ok := doc[0].Value.(primitive.ObjectID); !ok {
		t.Errorf("_id decoded as %T, want ObjectID", doc[0].Value)
	}
	if doc[1].Key != "name" || doc[1].Value != "alice" {
		t.Errorf("second element = %v", doc[1])
	}
}

func TestBindDocument_Errors(t *testing.T) {
	for name, body := range map[string]string{
		"array":     `[1,2]`,
		"malformed": `{"name": `,
	} {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		if _, err := BindDocument(r); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	if _, err := BindDocument(r); !errors.Is(err, ErrEmptyBody) {
		t.Errorf("empty body err = %v", err)
	}

	rec := httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name": "a long enough value"}`))
	r.Body = http.MaxBytesReader(rec, r.Body, 4)
	if _, err := BindDocument(r); !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("oversized body err = %v", err)
	}
}

func TestValidationFailed(t *testing.T) {
	verr := &unique.ValidationError{Errors: map[string]*unique.FieldError{
		"address": {
			Kind:    unique.KindDuplicate,
			Path:    "address",
			Value:   "123 Fake St.",
			Message: "Path `address` (123 Fake St.) is not unique.",
		},
	}}

	rec := httptest.NewRecorder()
	ValidationFailed(rec, verr)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Error  string `json:"error"`
		Errors map[string]struct {
			Kind    string `json:"kind"`
			Path    string `json:"path"`
			Value   string `json:"value"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	fe := body.Errors["address"]
	if body.Error != "validation_failed" || fe.Kind != "duplicate" || fe.Value != "123 Fake St." {
		t.Errorf("body = %+v", body)
	}
}

func TestWriteJSON_ClampsStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, 42, map[string]string{"ok": "no"})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
