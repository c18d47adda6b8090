package crmbus

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"
)

func TestHandlerExportsPropagateErrors(t *testing.T) {
	if err := RegisterJSONHandler(nil, JSONHandlerRegistration[map[string]any, map[string]any]{}); !errors.Is(err, ErrServiceRequired) {
		t.Fatalf("expected service required error, got %v", err)
	}

	if err := RegisterProtoHandler(nil, ProtoHandlerRegistration[*structpb.Struct, *structpb.Struct]{}); !errors.Is(err, ErrServiceRequired) {
		t.Fatalf("expected service required error, got %v", err)
	}
}

func TestRegistryExport(t *testing.T) {
	reg := DefaultRegistry()
	if err := reg.Validate("lead", "lead.create"); err != nil {
		t.Fatalf("expected lead.create to be registered, got %v", err)
	}
	if err := reg.Validate("lead", "lead.archive"); !errors.Is(err, ErrUnknownPattern) {
		t.Fatalf("expected unknown pattern, got %v", err)
	}
}

func TestErrorExports(t *testing.T) {
	err := NotFoundError("lead", 7)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	if ErrorKindOf(err) != KindNotFound {
		t.Fatalf("expected kind %s, got %s", KindNotFound, ErrorKindOf(err))
	}
	if ErrorKindOf(errors.New("plain")) != KindHandler {
		t.Fatal("expected plain errors to classify as HANDLER")
	}
}

func TestEventHandlerExport(t *testing.T) {
	var got string
	fn := OnEventJSON(func(ctx context.Context, event JSONEvent[map[string]string]) error {
		got = event.Payload["name"]
		return nil
	})
	if fn == nil {
		t.Fatal("expected an event func")
	}

	env := EventEnvelope{EventType: "lead.created", Payload: []byte(`{"name":"Acme"}`)}
	if err := fn(context.Background(), Event{Event: env}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Acme" {
		t.Fatalf("expected decoded payload, got %q", got)
	}
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	if _, err := Marshal(payload); err != nil {
		t.Fatalf("marshal alias failed: %v", err)
	}
	if err := Unmarshal([]byte(`{"hello":"world"}`), &payload); err != nil {
		t.Fatalf("unmarshal alias failed: %v", err)
	}
}

func TestMetadataExport(t *testing.T) {
	md := NewMetadata(MetadataKeyCorrelationID, "abc")
	if md[MetadataKeyCorrelationID] != "abc" {
		t.Fatalf("expected metadata to contain correlation id, got %#v", md)
	}
}

func TestErrorCategoryConstants(t *testing.T) {
	if ErrorCategoryNone != "none" {
		t.Fatalf("expected ErrorCategoryNone to be 'none', got %q", ErrorCategoryNone)
	}
	if ErrorCategoryNotFound != "not_found" {
		t.Fatalf("expected ErrorCategoryNotFound to be 'not_found', got %q", ErrorCategoryNotFound)
	}
}
